// Package eval implements the single-key in-place command: stream a
// blob through a user command and return its first 1000 lines of
// stdout. Grounded on spec.md §4.I; the original's map_handler family
// establishes the same run-a-user-command-over-a-blob shape this reuses.
package eval

import (
	"context"
	"fmt"

	"github.com/jigth/s4/pkg/s4/layout"
	"github.com/jigth/s4/pkg/s4/node"
	"github.com/jigth/s4/pkg/s4/shell"
	"github.com/jigth/s4/pkg/s4/types"
)

// Eval streams the blob for key through cmd, truncated to 1000 lines
// of stdout. A nonzero exit returns UserCommandFailed with the full
// diagnostic triple; a missing key returns NotFound.
func Eval(ctx context.Context, n *node.Node, key types.Key, cmd string) (string, *types.Error) {
	if !n.Owns(key) {
		return "", types.NewError(types.Conflict, "server does not own key: %s", key)
	}
	path, lerr := n.Layout.Resolve(key)
	if lerr != nil {
		return "", lerr
	}
	if !layout.Exists(path) {
		return "", types.NewError(types.NotFound, "no such key: %s", key)
	}

	future := n.Pools.IO.Submit(ctx, func(ctx context.Context) (shell.Result, error) {
		script := fmt.Sprintf("< %s %s | head -n 1000", path, cmd)
		res, err := n.Shell.Run(ctx, script, shell.RunOptions{Timeout: n.Config.Timeout, Warn: true})
		return res, err
	})

	select {
	case <-future.Done():
	case <-ctx.Done():
		future.Cancel()
		return "", types.NewError(types.Overloaded, "request cancelled")
	}

	res, err := future.Result()
	if err != nil {
		return "", types.NewError(types.UserCommandFailed, "%v", err)
	}
	if res.ExitCode != 0 {
		return "", types.NewDiagnosticError(types.UserCommandFailed, &types.Diagnostic{
			Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode,
		}, "eval command failed")
	}
	return res.Stdout, nil
}
