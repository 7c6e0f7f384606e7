// Package shell runs external commands the way
// original_source/s4/server.py's imported shell.run does: through bash,
// with LC_ALL=C and set -euo pipefail, with a timeout that kills the
// whole process group rather than just the direct child.
package shell

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/jigth/s4/pkg/s4/types"
)

// Result is the {stdout, stderr, exitcode} triple spec.md's
// UserCommandFailed/Integrity diagnostics are built from.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// RunOptions controls a single invocation.
type RunOptions struct {
	// Timeout is the max wall-clock duration before the process group
	// is killed. Zero means no timeout beyond ctx's own deadline.
	Timeout time.Duration
	// Warn, when true, suppresses the nonzero-exit error return: the
	// caller wants the Result regardless of exit code (mirrors the
	// original's shell.run(..., warn=True) call sites).
	Warn bool
	// Dir sets the working directory for the command.
	Dir string
	// Env, if non-nil, replaces the default LC_ALL=C environment.
	Env []string
}

// Runner executes commands through bash -c, matching original_source's
// shell module closely enough that map/eval command strings behave the
// same way under both.
type Runner struct{}

// NewRunner returns the default Runner.
func NewRunner() *Runner {
	return &Runner{}
}

func (r *Runner) build(ctx context.Context, script string, opts RunOptions) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "bash", "-c", "set -euo pipefail; "+script)
	if opts.Env != nil {
		cmd.Env = opts.Env
	} else {
		cmd.Env = append(cmd.Env, "LC_ALL=C")
	}
	cmd.Dir = opts.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// Run executes script (a full shell command line, exactly as the
// original embeds command fragments into an f-string) and waits for
// completion, returning its captured output.
func (r *Runner) Run(ctx context.Context, script string, opts RunOptions) (Result, error) {
	return r.run(ctx, script, nil, nil, opts)
}

// RunWithStdin is Run with a fixed string fed to the command's stdin,
// used by map_from_n to feed a command the list of absolute input
// paths it should merge.
func (r *Runner) RunWithStdin(ctx context.Context, script, stdin string, opts RunOptions) (Result, error) {
	return r.run(ctx, script, bytes.NewBufferString(stdin), nil, opts)
}

// Stream executes script with stdin piped from in and stdout piped to
// out as it's produced, returning only stderr and the exit code. This
// is the shape `recv PORT | xxh3 --stream > temp_path` and
// `< path xxh3 --stream | send remote port` need: the hasher's stdout
// must reach its destination without buffering the whole blob in
// memory.
func (r *Runner) Stream(ctx context.Context, script string, in io.Reader, out io.Writer, opts RunOptions) (string, int, error) {
	res, err := r.run(ctx, script, in, out, opts)
	return res.Stderr, res.ExitCode, err
}

func (r *Runner) run(ctx context.Context, script string, stdin io.Reader, stdoutWriter io.Writer, opts RunOptions) (Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := r.build(runCtx, script, opts)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer
	if stdoutWriter != nil {
		cmd.Stdout = stdoutWriter
	} else {
		cmd.Stdout = &stdoutBuf
	}
	cmd.Stderr = &stderrBuf

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return Result{}, types.NewError(types.UserCommandFailed, "starting command: %v", err)
	}
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		waitErr = <-done
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(waitErr, &exitErr); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	res := Result{
		Stdout:   trimTrailingNewline(stdoutBuf.String()),
		Stderr:   trimTrailingNewline(stderrBuf.String()),
		ExitCode: exitCode,
	}

	if exitCode != 0 && !opts.Warn {
		return res, types.NewDiagnosticError(types.UserCommandFailed, &types.Diagnostic{
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			ExitCode: res.ExitCode,
		}, "command failed: %s", truncate(script, 200))
	}
	return res, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// trimTrailingNewline strips one trailing "\n" (and a preceding "\r",
// if present) from a command's captured output, matching spec.md
// §4.C's "stdout and stderr decoded as UTF-8 with trailing newline
// stripped." The hasher subprocess's stderr digest line in particular
// must come back exactly hex, with no newline, for confirm_put/
// confirm_get's checksum comparison and s4client.sanityDigest's
// hex.DecodeString to succeed against a real binary.
func trimTrailingNewline(s string) string {
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
