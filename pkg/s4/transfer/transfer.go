// Package transfer implements the four-step prepare/confirm protocol
// for put and get, the heart of the data plane. Grounded line-by-line
// on original_source/s4/server.py's prepare_put_handler/
// confirm_put_handler/prepare_get_handler/confirm_get_handler, restated
// as explicit (*types.Error)-returning functions instead of the
// original's bare asserts, per spec.md §9's "exception-for-conflict"
// redesign note.
package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jigth/s4/pkg/s4/jobs"
	"github.com/jigth/s4/pkg/s4/layout"
	"github.com/jigth/s4/pkg/s4/node"
	"github.com/jigth/s4/pkg/s4/shell"
	"github.com/jigth/s4/pkg/s4/types"
)

// PreparePutResult is the body of a successful /prepare_put response.
type PreparePutResult struct {
	UUID string
	Port int
}

// PreparePut reserves a slot for key: it must be locally owned, must
// not already exist, and its path must be well formed. On success a
// temp file is allocated under _tempfiles/, a port is opened, and a
// receiver subprocess is submitted to the io pool.
func PreparePut(ctx context.Context, n *node.Node, key types.Key) (PreparePutResult, *types.Error) {
	if !n.Owns(key) {
		return PreparePutResult{}, types.NewError(types.Conflict, "server does not own key: %s", key)
	}
	path, lerr := n.Layout.Resolve(key)
	if lerr != nil {
		return PreparePutResult{}, lerr
	}

	var tempPath string
	var port int
	err := n.Pools.SubmitSolo(ctx, func() error {
		if layout.IsSidecar(path) {
			return fmt.Errorf("refusing to write a sidecar path directly")
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return fmt.Errorf("blob already exists")
		}
		if _, statErr := os.Stat(layout.SidecarPath(path)); statErr == nil {
			return fmt.Errorf("sidecar already exists")
		}
		if mkErr := layout.TouchSidecar(path); mkErr != nil {
			return mkErr
		}
		tempPath = filepath.Join(n.Config.DataRoot, "_tempfiles", newTempName())
		p, perr := n.Ports.Acquire()
		if perr != nil {
			_ = os.Remove(layout.SidecarPath(path))
			return perr
		}
		port = p
		return nil
	})
	if err != nil {
		return PreparePutResult{}, asConflict(err)
	}

	rec := &jobs.Record{TempPath: tempPath, Path: path}
	uuid := n.Jobs.NewUUID(rec)

	future := n.Pools.IO.Submit(ctx, func(ctx context.Context) (shell.Result, error) {
		script := fmt.Sprintf("recv %d | %s --stream > %s", port, n.Config.HasherCmd, tempPath)
		return n.Shell.Run(ctx, script, shell.RunOptions{Timeout: n.Config.Timeout})
	})
	rec.Future = future

	select {
	case <-future.Started():
		return PreparePutResult{UUID: uuid, Port: port}, nil
	case <-time.After(n.Config.Timeout):
		future.Cancel()
		n.Jobs.Pop(uuid)
		n.Ports.Release(port)
		_ = os.Remove(layout.SidecarPath(path))
		_ = os.Remove(tempPath)
		return PreparePutResult{}, types.NewError(types.Overloaded, "io pool saturated")
	case <-ctx.Done():
		future.Cancel()
		n.Jobs.Pop(uuid)
		n.Ports.Release(port)
		return PreparePutResult{}, types.NewError(types.Overloaded, "request cancelled")
	}
}

// ConfirmPut finishes a transfer previously started by PreparePut: it
// waits for the receiver subprocess, checks the client-reported digest
// against the subprocess's own, and if they match, durably installs
// the blob.
func ConfirmPut(ctx context.Context, n *node.Node, uuid, clientChecksum string) *types.Error {
	rec, ok := n.Jobs.Pop(uuid)
	if !ok {
		return types.NewError(types.NotFound, "no such job: %s", uuid)
	}

	select {
	case <-rec.Future.Done():
	case <-ctx.Done():
		cleanupFailedPut(n, rec)
		return types.NewError(types.Overloaded, "request cancelled")
	}

	res, err := rec.Future.Result()
	if err != nil || res.ExitCode != 0 {
		cleanupFailedPut(n, rec)
		return types.NewDiagnosticError(types.Integrity, &types.Diagnostic{
			Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode,
		}, "receive failed")
	}
	serverChecksum := res.Stderr
	if serverChecksum != clientChecksum {
		cleanupFailedPut(n, rec)
		return types.NewError(types.Integrity, "checksum mismatch: client=%s server=%s", clientChecksum, serverChecksum)
	}

	perr := n.Pools.SubmitSolo(ctx, func() error {
		if werr := layout.WriteSidecar(rec.Path, serverChecksum); werr != nil {
			return werr
		}
		if rerr := os.Rename(rec.TempPath, rec.Path); rerr != nil {
			return rerr
		}
		return os.Chmod(rec.Path, 0o444)
	})
	if perr != nil {
		cleanupFailedPut(n, rec)
		return types.NewError(types.Integrity, "installing blob: %v", perr)
	}
	return nil
}

func cleanupFailedPut(n *node.Node, rec *jobs.Record) {
	_ = os.Remove(rec.Path)
	_ = os.Remove(rec.TempPath)
	_ = os.Remove(layout.SidecarPath(rec.Path))
}

// PrepareGet reserves a send of key to remoteAddr:clientPort. The key
// must be locally owned and fully present (blob + sidecar).
func PrepareGet(ctx context.Context, n *node.Node, key types.Key, clientPort int, remoteAddr string) (string, *types.Error) {
	if !n.Owns(key) {
		return "", types.NewError(types.Conflict, "server does not own key: %s", key)
	}
	path, lerr := n.Layout.Resolve(key)
	if lerr != nil {
		return "", lerr
	}

	var present bool
	var diskChecksum string
	err := n.Pools.SubmitSolo(ctx, func() error {
		present = layout.Exists(path)
		if present {
			c, rerr := layout.ReadSidecar(path)
			if rerr != nil {
				return rerr
			}
			diskChecksum = c
		}
		return nil
	})
	if err != nil {
		return "", types.NewError(types.NotFound, "reading sidecar: %v", err)
	}
	if !present {
		return "", types.NewError(types.NotFound, "no such key: %s", key)
	}

	rec := &jobs.Record{Path: path, DiskChecksum: diskChecksum}
	uuid := n.Jobs.NewUUID(rec)

	future := n.Pools.IO.Submit(ctx, func(ctx context.Context) (shell.Result, error) {
		script := fmt.Sprintf("< %s %s --stream | send %s %d", path, n.Config.HasherCmd, remoteAddr, clientPort)
		return n.Shell.Run(ctx, script, shell.RunOptions{Timeout: n.Config.Timeout})
	})
	rec.Future = future

	select {
	case <-future.Started():
		return uuid, nil
	case <-time.After(n.Config.Timeout):
		future.Cancel()
		n.Jobs.Pop(uuid)
		return "", types.NewError(types.Overloaded, "io pool saturated")
	case <-ctx.Done():
		future.Cancel()
		n.Jobs.Pop(uuid)
		return "", types.NewError(types.Overloaded, "request cancelled")
	}
}

// ConfirmGet waits for the send subprocess and checks that disk,
// sender-stream, and client-stream digests all agree.
func ConfirmGet(ctx context.Context, n *node.Node, uuid, clientChecksum string) *types.Error {
	rec, ok := n.Jobs.Pop(uuid)
	if !ok {
		return types.NewError(types.NotFound, "no such job: %s", uuid)
	}

	select {
	case <-rec.Future.Done():
	case <-ctx.Done():
		return types.NewError(types.Overloaded, "request cancelled")
	}

	res, err := rec.Future.Result()
	if err != nil || res.ExitCode != 0 {
		return types.NewDiagnosticError(types.Integrity, &types.Diagnostic{
			Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode,
		}, "send failed")
	}
	serverChecksum := res.Stderr
	if rec.DiskChecksum != clientChecksum || clientChecksum != serverChecksum {
		return types.NewError(types.Integrity, "checksum mismatch: disk=%s client=%s server=%s", rec.DiskChecksum, clientChecksum, serverChecksum)
	}
	return nil
}

func asConflict(err error) *types.Error {
	if te, ok := err.(*types.Error); ok {
		return te
	}
	return types.NewError(types.Conflict, "%v", err)
}

var tempCounter uint64

func newTempName() string {
	tempCounter++
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), tempCounter)
}
