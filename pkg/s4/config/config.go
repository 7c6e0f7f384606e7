// Package config loads the small amount of environment-driven
// configuration an s4 node needs: the peer list, per-phase timeout, pool
// sizes, and the data directory. There is no flag/config library wired
// here — see DESIGN.md for why four env vars and a conf file don't earn
// one.
package config

import (
	"bufio"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/jigth/s4/pkg/s4/types"
)

const (
	envConfPath = "S4_CONF_PATH"
	envTimeout  = "S4_TIMEOUT"
	envIOJobs   = "S4_IO_JOBS"
	envCPUJobs  = "S4_CPU_JOBS"
	envHasher   = "S4_HASHER"

	defaultTimeout    = 10 * time.Minute
	defaultDataDirTop = "s4_data"
)

// Config is the immutable configuration an s4 node is constructed with.
type Config struct {
	// Servers is the peer list read from the conf file, in file order
	// (duplicate lines are kept). Order matters: shardmap.Owner indexes
	// into it.
	Servers []types.Address

	// Timeout is the per-phase transfer timeout (s4.timeout in the
	// original). MaxTimeout is the GC liveness ceiling.
	Timeout    time.Duration
	MaxTimeout time.Duration

	IOJobs  int
	CPUJobs int
	FindJobs int

	// DataRoot is the absolute path to the node's blob root
	// (./s4_data, created if absent).
	DataRoot string

	// HasherCmd is the name (or path) of the content-hashing
	// subprocess. It must stream stdin to stdout unchanged while
	// emitting the hex digest on stderr (spec.md §1).
	HasherCmd string
}

// Load reads S4_CONF_PATH (default ~/.s4.conf), S4_TIMEOUT, S4_IO_JOBS,
// and S4_CPU_JOBS, and sets DataRoot to ./s4_data (creating it and its
// _tempfiles/_tempdirs subdirectories if absent), or to the working
// directory itself when that is already named s4_data. The process's
// working directory is not changed.
func Load() (*Config, error) {
	confPath := os.Getenv(envConfPath)
	if confPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, types.NewError(types.Config, "no home directory: %v", err)
		}
		confPath = filepath.Join(home, ".s4.conf")
	}

	servers, err := readServers(confPath)
	if err != nil {
		return nil, err
	}

	timeout := defaultTimeout
	if v := os.Getenv(envTimeout); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, types.NewError(types.Config, "bad %s: %v", envTimeout, err)
		}
		timeout = time.Duration(secs) * time.Second
	}

	numCPU := runtime.NumCPU()
	ioJobs := numCPU * 8
	if v := os.Getenv(envIOJobs); v != "" {
		ioJobs, err = strconv.Atoi(v)
		if err != nil {
			return nil, types.NewError(types.Config, "bad %s: %v", envIOJobs, err)
		}
	}
	cpuJobs := numCPU + 2
	if v := os.Getenv(envCPUJobs); v != "" {
		cpuJobs, err = strconv.Atoi(v)
		if err != nil {
			return nil, types.NewError(types.Config, "bad %s: %v", envCPUJobs, err)
		}
	}

	dataRoot, err := ensureDataDir()
	if err != nil {
		return nil, err
	}

	hasher := os.Getenv(envHasher)
	if hasher == "" {
		hasher = "xxh3"
	}

	return &Config{
		Servers:    servers,
		Timeout:    timeout,
		MaxTimeout: 2*timeout + 15*time.Second,
		IOJobs:     ioJobs,
		CPUJobs:    cpuJobs,
		FindJobs:   cpuJobs,
		DataRoot:   dataRoot,
		HasherCmd:  hasher,
	}, nil
}

func readServers(confPath string) ([]types.Address, error) {
	f, err := os.Open(confPath)
	if err != nil {
		return nil, types.NewError(types.Config, "%s should contain all server addresses on the local network, one on each line: %v", confPath, err)
	}
	defer f.Close()

	local, err := LocalAddresses()
	if err != nil {
		return nil, err
	}

	var servers []types.Address
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			return nil, types.NewError(types.Config, "malformed conf line: %q", line)
		}
		addr, port := line[:idx], line[idx:]
		if local[addr] {
			addr = "0.0.0.0"
		}
		servers = append(servers, types.Address(addr+port))
	}
	if err := scanner.Err(); err != nil {
		return nil, types.NewError(types.Config, "reading %s: %v", confPath, err)
	}
	if len(servers) == 0 {
		return nil, types.NewError(types.Config, "%s contains no servers", confPath)
	}
	return servers, nil
}

// LocalAddresses returns the set of strings that should be considered
// synonyms for "this host" when normalizing addresses: this machine's
// primary outbound-interface address, plus 0.0.0.0, 127.0.0.1, and
// localhost (original_source/s4/__init__.py's local_addresses).
func LocalAddresses() (map[string]bool, error) {
	set := map[string]bool{
		"0.0.0.0":   true,
		"127.0.0.1": true,
		"localhost": true,
	}
	if addr, err := primaryInterfaceAddress(); err == nil && addr != "" {
		set[addr] = true
	}
	return set, nil
}

func primaryInterfaceAddress() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "", err
	}
	return host, nil
}

func ensureDataDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", types.NewError(types.Config, "getwd: %v", err)
	}
	if filepath.Base(cwd) != defaultDataDirTop {
		root := filepath.Join(cwd, defaultDataDirTop)
		if err := os.MkdirAll(filepath.Join(root, "_tempfiles"), 0o755); err != nil {
			return "", types.NewError(types.Config, "mkdir tempfiles: %v", err)
		}
		if err := os.MkdirAll(filepath.Join(root, "_tempdirs"), 0o755); err != nil {
			return "", types.NewError(types.Config, "mkdir tempdirs: %v", err)
		}
		return root, nil
	}
	return cwd, nil
}

// CheckToolchain verifies that bash, nc, and the configured hasher are
// on PATH. The recv and send helpers that transfer runs are not
// checked. This supplements the
// original's import-time preflight (original_source/s4/__init__.py)
// without hard-coding its OpenBSD-netcat-specific assertion.
func CheckToolchain(hasher string) error {
	for _, cmd := range []string{"bash", "nc", hasher} {
		if _, err := exec.LookPath(cmd); err != nil {
			return types.NewError(types.Config, "required command not on PATH: %s", cmd)
		}
	}
	return nil
}
