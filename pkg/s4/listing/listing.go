// Package listing implements bucket/key enumeration and delete.
// Grounded on original_source/s4/server.py's list_handler/
// delete_handler, but walks the filesystem directly with
// filepath.WalkDir instead of shelling to find(1): spec.md's "find"
// pool name identifies which semaphore gates this work, not a literal
// find(1) subprocess requirement (the original shells to find only
// because Python has no WalkDir equivalent as convenient).
package listing

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jigth/s4/pkg/s4/layout"
	"github.com/jigth/s4/pkg/s4/node"
	"github.com/jigth/s4/pkg/s4/types"
)

// ListBuckets enumerates top-level directories under the data root
// whose name doesn't start with "_" (the reserved _tempfiles/_tempdirs
// directories).
func ListBuckets(n *node.Node) ([]types.ListEntry, *types.Error) {
	entries, err := os.ReadDir(n.Config.DataRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.NewError(types.Conflict, "reading data root: %v", err)
	}
	var out []types.ListEntry
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), "_") {
			continue
		}
		out = append(out, types.ListEntry{Date: "", Time: "", Size: "PRE", Path: e.Name() + "/"})
	}
	return out, nil
}

// List enumerates keys under prefix. recursive=true returns files only,
// at any depth; recursive=false returns files and synthesized "PRE"
// directory entries at depth 1. A missing prefix directory is not an
// error; it yields an empty result.
func List(n *node.Node, prefix string, recursive bool) ([]types.ListEntry, *types.Error) {
	rel := strings.TrimPrefix(prefix, "s4://")
	root := n.Config.DataRoot

	var dir, namePrefix string
	if strings.HasSuffix(rel, "/") || rel == "" {
		dir = rel
		namePrefix = ""
	} else {
		dir = filepath.Dir(rel)
		if dir == "." {
			dir = ""
		}
		namePrefix = filepath.Base(rel)
	}
	absDir := filepath.Join(root, dir)

	info, statErr := os.Stat(absDir)
	if statErr != nil || !info.IsDir() {
		return nil, nil
	}

	var out []types.ListEntry
	if recursive {
		err := filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if layout.IsSidecar(path) {
				return nil
			}
			relPath, _ := filepath.Rel(absDir, path)
			if namePrefix != "" && !strings.HasPrefix(filepath.Base(path), namePrefix) {
				return nil
			}
			fi, statErr := d.Info()
			if statErr != nil {
				return nil
			}
			out = append(out, fileEntry(fi, filepath.ToSlash(relPath)))
			return nil
		})
		if err != nil {
			return nil, types.NewError(types.Conflict, "walking %s: %v", absDir, err)
		}
	} else {
		entries, err := os.ReadDir(absDir)
		if err != nil {
			return nil, types.NewError(types.Conflict, "reading %s: %v", absDir, err)
		}
		for _, e := range entries {
			name := e.Name()
			if namePrefix != "" && !strings.HasPrefix(name, namePrefix) {
				continue
			}
			if e.IsDir() {
				out = append(out, types.ListEntry{Date: "", Time: "", Size: "PRE", Path: name + "/"})
				continue
			}
			if layout.IsSidecar(name) {
				continue
			}
			fi, ierr := e.Info()
			if ierr != nil {
				continue
			}
			out = append(out, fileEntry(fi, name))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func fileEntry(fi fs.FileInfo, relPath string) types.ListEntry {
	t := fi.ModTime().UTC()
	return types.ListEntry{
		Date: t.Format("2006-01-02"),
		Time: t.Format("15:04:05"),
		Size: strconv.FormatInt(fi.Size(), 10),
		Path: relPath,
	}
}

// Delete removes a key (non-recursive: blob + sidecar, rm -f
// semantics, absence is fine) or a glob prefix (recursive), always on
// the solo pool since delete mutates the blob namespace. prefix is run
// through the same containment check as a put/get key so a prefix that
// escapes the data root (e.g. "s4://../../etc") is refused with a
// Conflict rather than reaching os.RemoveAll.
func Delete(ctx context.Context, n *node.Node, prefix string, recursive bool) *types.Error {
	path, lerr := n.Layout.Resolve(types.Key(prefix))
	if lerr != nil {
		return lerr
	}

	err := n.Pools.SubmitSolo(ctx, func() error {
		if recursive {
			matches, globErr := filepath.Glob(path + "*")
			if globErr != nil {
				return globErr
			}
			for _, m := range matches {
				if rmErr := os.RemoveAll(m); rmErr != nil {
					return rmErr
				}
			}
			return nil
		}
		_ = os.Remove(path)
		_ = os.Remove(layout.SidecarPath(path))
		return nil
	})
	if err != nil {
		return types.NewError(types.Conflict, "delete: %v", err)
	}
	return nil
}
