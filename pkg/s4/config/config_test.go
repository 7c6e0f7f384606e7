package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".s4.conf")
	var body string
	for _, l := range lines {
		body += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadReadsServersAndDefaults(t *testing.T) {
	confPath := writeConf(t, "10.0.0.1:8080", "10.0.0.2:8080")
	t.Setenv(envConfPath, confPath)
	t.Setenv(envTimeout, "")
	t.Setenv(envIOJobs, "")
	t.Setenv(envCPUJobs, "")
	t.Setenv(envHasher, "")

	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, defaultTimeout, cfg.Timeout)
	assert.Equal(t, 2*defaultTimeout+15e9, cfg.MaxTimeout)
	assert.Equal(t, "xxh3", cfg.HasherCmd)
	assert.DirExists(t, filepath.Join(cfg.DataRoot, "_tempfiles"))
	assert.DirExists(t, filepath.Join(cfg.DataRoot, "_tempdirs"))
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	confPath := writeConf(t, "not-a-valid-line")
	t.Setenv(envConfPath, confPath)

	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRejectsEmptyConf(t *testing.T) {
	confPath := writeConf(t)
	t.Setenv(envConfPath, confPath)

	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	_, err = Load()
	assert.Error(t, err)
}

func TestLoadBadTimeoutIsConfigError(t *testing.T) {
	confPath := writeConf(t, "10.0.0.1:8080")
	t.Setenv(envConfPath, confPath)
	t.Setenv(envTimeout, "not-a-number")

	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	_, err = Load()
	assert.Error(t, err)
}

func TestLocalAddressesIncludesWellKnownSynonyms(t *testing.T) {
	set, err := LocalAddresses()
	require.NoError(t, err)
	assert.True(t, set["0.0.0.0"])
	assert.True(t, set["127.0.0.1"])
	assert.True(t, set["localhost"])
}
