// Package mapops implements the three data-parallel operators: Map
// (1:1), MapToN (1:n shuffle), and MapFromN (n:1 merge). Grounded
// almost line-for-line on original_source/s4/server.py's map_handler/
// map_to_n_handler/map_from_n_handler, with the re-entrant "s4 cp"
// subprocess fork replaced by s4client per spec.md §9's redesign note.
package mapops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jigth/s4/pkg/s4/layout"
	"github.com/jigth/s4/pkg/s4/node"
	"github.com/jigth/s4/pkg/s4/s4client"
	"github.com/jigth/s4/pkg/s4/shell"
	"github.com/jigth/s4/pkg/s4/types"
)

func tempDir(root string) (string, error) {
	return os.MkdirTemp(filepath.Join(root, "_tempdirs"), "")
}

// Map runs cmd over inkey's blob and copies the result to outkey,
// re-entering the normal put protocol via s4client instead of forking
// a CLI subprocess.
func Map(ctx context.Context, n *node.Node, client *s4client.Client, inkey, outkey types.Key, cmd string) error {
	if !n.Owns(inkey) {
		return types.NewError(types.Conflict, "server does not own key: %s", inkey)
	}
	inpath, lerr := n.Layout.Resolve(inkey)
	if lerr != nil {
		return lerr
	}
	if !layout.Exists(inpath) {
		return types.NewError(types.NotFound, "no such key: %s", inkey)
	}

	future := n.Pools.CPU.Submit(ctx, func(ctx context.Context) (shell.Result, error) {
		dir, err := tempDir(n.Config.DataRoot)
		if err != nil {
			return shell.Result{}, err
		}
		defer os.RemoveAll(dir)

		outPath := filepath.Join(dir, "out")
		script := fmt.Sprintf("< %s %s > %s", inpath, cmd, outPath)
		res, rerr := n.Shell.Run(ctx, script, shell.RunOptions{Timeout: n.Config.Timeout, Dir: dir, Warn: true})
		if rerr != nil {
			return res, rerr
		}
		if res.ExitCode != 0 {
			return res, nil
		}
		if perr := client.PutFile(ctx, outPath, outkey); perr != nil {
			return res, perr
		}
		return res, nil
	})

	select {
	case <-future.Done():
	case <-ctx.Done():
		future.Cancel()
		return types.NewError(types.Overloaded, "request cancelled")
	}
	res, err := future.Result()
	if err != nil {
		return types.NewError(types.UserCommandFailed, "%v", err)
	}
	if res.ExitCode != 0 {
		return types.NewDiagnosticError(types.UserCommandFailed, &types.Diagnostic{
			Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode,
		}, "map command failed")
	}
	return nil
}

// MapToN runs cmd over inkey's blob in a fresh working directory; the
// command writes zero or more files into that directory and emits
// their names on stdout. Each emitted file is copied to
// outdir/<inkey basename>/<filename>. The tempdir is removed only
// after every output has been copied.
func MapToN(ctx context.Context, n *node.Node, client *s4client.Client, inkey types.Key, outdir string, cmd string) error {
	if !n.Owns(inkey) {
		return types.NewError(types.Conflict, "server does not own key: %s", inkey)
	}
	inpath, lerr := n.Layout.Resolve(inkey)
	if lerr != nil {
		return lerr
	}
	if !layout.Exists(inpath) {
		return types.NewError(types.NotFound, "no such key: %s", inkey)
	}

	future := n.Pools.CPU.Submit(ctx, func(ctx context.Context) (shell.Result, error) {
		dir, err := tempDir(n.Config.DataRoot)
		if err != nil {
			return shell.Result{}, err
		}
		defer os.RemoveAll(dir)

		script := fmt.Sprintf("< %s %s", inpath, cmd)
		res, rerr := n.Shell.Run(ctx, script, shell.RunOptions{Timeout: n.Config.Timeout, Dir: dir, Warn: true})
		if rerr != nil || res.ExitCode != 0 {
			return res, rerr
		}

		names := strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n")
		specs := make([]s4client.PutSpec, 0, len(names))
		base := filepath.Base(inpath)
		for _, name := range names {
			if name == "" {
				continue
			}
			dst := types.Key(fmt.Sprintf("%s%s/%s", outdir, base, name))
			specs = append(specs, s4client.PutSpec{LocalPath: filepath.Join(dir, name), DstKey: dst})
		}
		if perr := client.PutFiles(ctx, specs, n.Config.IOJobs); perr != nil {
			return res, perr
		}
		return res, nil
	})

	select {
	case <-future.Done():
	case <-ctx.Done():
		future.Cancel()
		return types.NewError(types.Overloaded, "request cancelled")
	}
	res, err := future.Result()
	if err != nil {
		return types.NewError(types.UserCommandFailed, "%v", err)
	}
	if res.ExitCode != 0 {
		return types.NewDiagnosticError(types.UserCommandFailed, &types.Diagnostic{
			Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode,
		}, "map_to_n command failed")
	}
	return nil
}

// MapFromN merges a group of input keys sharing a partition id: their
// absolute local paths are written to cmd's stdin, one per line, and
// cmd's stdout becomes outdir/<partition id>. Every inkey must be
// locally owned; callers (the client side, per spec.md §4.J) are
// responsible for grouping by the numeric-suffix sharding rule before
// calling this per owning server.
func MapFromN(ctx context.Context, n *node.Node, client *s4client.Client, inkeys []types.Key, partitionID string, outdir string, cmd string) error {
	var inpaths []string
	for _, k := range inkeys {
		if !n.Owns(k) {
			return types.NewError(types.Conflict, "server does not own key: %s", k)
		}
		p, lerr := n.Layout.Resolve(k)
		if lerr != nil {
			return lerr
		}
		if !layout.Exists(p) {
			return types.NewError(types.NotFound, "no such key: %s", k)
		}
		inpaths = append(inpaths, p)
	}

	stdin := strings.Join(inpaths, "\n") + "\n"
	outKey := types.Key(fmt.Sprintf("%s%s", outdir, partitionID))

	future := n.Pools.CPU.Submit(ctx, func(ctx context.Context) (shell.Result, error) {
		dir, err := tempDir(n.Config.DataRoot)
		if err != nil {
			return shell.Result{}, err
		}
		defer os.RemoveAll(dir)

		outPath := filepath.Join(dir, "out")
		script := fmt.Sprintf("%s > %s", cmd, outPath)
		res, rerr := n.Shell.RunWithStdin(ctx, script, stdin, shell.RunOptions{Timeout: n.Config.Timeout, Dir: dir, Warn: true})
		if rerr != nil || res.ExitCode != 0 {
			return res, rerr
		}
		if perr := client.PutFile(ctx, outPath, outKey); perr != nil {
			return res, perr
		}
		return res, nil
	})

	select {
	case <-future.Done():
	case <-ctx.Done():
		future.Cancel()
		return types.NewError(types.Overloaded, "request cancelled")
	}
	res, err := future.Result()
	if err != nil {
		return types.NewError(types.UserCommandFailed, "%v", err)
	}
	if res.ExitCode != 0 {
		return types.NewDiagnosticError(types.UserCommandFailed, &types.Diagnostic{
			Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode,
		}, "map_from_n command failed")
	}
	return nil
}

