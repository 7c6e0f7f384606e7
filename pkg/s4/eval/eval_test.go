package eval

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jigth/s4/pkg/s4/config"
	"github.com/jigth/s4/pkg/s4/layout"
	"github.com/jigth/s4/pkg/s4/node"
	"github.com/jigth/s4/pkg/s4/shardmap"
	"github.com/jigth/s4/pkg/s4/types"
)

func testNode(t *testing.T, root string) *node.Node {
	t.Helper()
	cfg := &config.Config{
		Servers:  []types.Address{"0.0.0.0:8080"},
		DataRoot: root,
		Timeout:  5 * time.Second,
		IOJobs:   2,
		CPUJobs:  2,
		FindJobs: 2,
	}
	return node.New(cfg, types.NewDefaultLogger())
}

func writeBlob(t *testing.T, root, rel, contents string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	require.NoError(t, layout.WriteSidecar(path, "irrelevant-for-eval"))
}

func TestEvalStreamsBlobThroughCommand(t *testing.T) {
	root := t.TempDir()
	writeBlob(t, root, "bucket/key", "hello\nworld\n")
	n := testNode(t, root)

	out, err := Eval(context.Background(), n, types.Key("s4://bucket/key"), "cat")
	require.Nil(t, err)
	// Run() strips exactly one trailing newline per spec.md §4.C.
	assert.Equal(t, "hello\nworld", out)
}

func TestEvalMissingKeyIsNotFound(t *testing.T) {
	root := t.TempDir()
	n := testNode(t, root)

	_, err := Eval(context.Background(), n, types.Key("s4://bucket/nope"), "cat")
	require.NotNil(t, err)
	assert.Equal(t, types.NotFound, err.Kind)
}

func TestEvalNonzeroExitIsUserCommandFailed(t *testing.T) {
	root := t.TempDir()
	writeBlob(t, root, "bucket/key", "data\n")
	n := testNode(t, root)

	_, err := Eval(context.Background(), n, types.Key("s4://bucket/key"), "cat && exit 3")
	require.NotNil(t, err)
	assert.Equal(t, types.UserCommandFailed, err.Kind)
	require.NotNil(t, err.Diagnostic)
	assert.Equal(t, 3, err.Diagnostic.ExitCode)
}

func TestEvalNotOwnedIsConflict(t *testing.T) {
	root := t.TempDir()
	servers := []types.Address{"10.0.0.1:8080", "10.0.0.2:8080"}
	key := types.Key("s4://bucket/key")

	owner := shardmap.New(servers).Owner(key)
	var other types.Address
	for _, s := range servers {
		if s != owner {
			other = s
		}
	}
	require.NotEmpty(t, other, "fixture servers must hash to distinct owners")

	cfg := &config.Config{
		Servers:  servers,
		DataRoot: root,
		Timeout:  5 * time.Second,
		IOJobs:   1,
		CPUJobs:  1,
		FindJobs: 1,
	}
	n := node.New(cfg, types.NewDefaultLogger())
	n.LocalAddr = other

	_, err := Eval(context.Background(), n, key, "cat")
	require.NotNil(t, err)
	assert.Equal(t, types.Conflict, err.Kind)
}
