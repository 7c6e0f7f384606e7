package transfer

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
	require.NoError(t, os.MkdirAll(filepath.Join(root, "_tempfiles"), 0o755))
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

func TestPreparePutRejectsUnownedKey(t *testing.T) {
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
	require.NotEmpty(t, other)

	cfg := &config.Config{Servers: servers, DataRoot: root, Timeout: 5 * time.Second, IOJobs: 1, CPUJobs: 1, FindJobs: 1}
	n := node.New(cfg, types.NewDefaultLogger())
	n.LocalAddr = other

	_, err := PreparePut(context.Background(), n, key)
	require.NotNil(t, err)
	assert.Equal(t, types.Conflict, err.Kind)
}

func TestPreparePutRejectsExistingBlob(t *testing.T) {
	root := t.TempDir()
	n := testNode(t, root)

	blobPath := filepath.Join(root, "bucket", "key")
	require.NoError(t, os.MkdirAll(filepath.Dir(blobPath), 0o755))
	require.NoError(t, os.WriteFile(blobPath, []byte("data"), 0o644))
	require.NoError(t, layout.WriteSidecar(blobPath, "c"))

	_, err := PreparePut(context.Background(), n, types.Key("s4://bucket/key"))
	require.NotNil(t, err)
	assert.Equal(t, types.Conflict, err.Kind)
}

func TestPreparePutAllocatesJobAndSidecar(t *testing.T) {
	root := t.TempDir()
	n := testNode(t, root)

	result, err := PreparePut(context.Background(), n, types.Key("s4://bucket/newkey"))
	require.Nil(t, err)
	assert.NotEmpty(t, result.UUID)
	assert.Greater(t, result.Port, 0)

	_, ok := n.Jobs.Get(result.UUID)
	assert.True(t, ok)
	assert.FileExists(t, filepath.Join(root, "bucket", "newkey.xxh3"))
}

func TestConfirmPutUnknownUUIDIsNotFound(t *testing.T) {
	root := t.TempDir()
	n := testNode(t, root)

	err := ConfirmPut(context.Background(), n, "no-such-uuid", "checksum")
	require.NotNil(t, err)
	assert.Equal(t, types.NotFound, err.Kind)
}

func TestPrepareGetRejectsMissingKey(t *testing.T) {
	root := t.TempDir()
	n := testNode(t, root)

	_, err := PrepareGet(context.Background(), n, types.Key("s4://bucket/nope"), 9999, "127.0.0.1")
	require.NotNil(t, err)
	assert.Equal(t, types.NotFound, err.Kind)
}

func TestPrepareGetRejectsUnownedKey(t *testing.T) {
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
	require.NotEmpty(t, other)

	cfg := &config.Config{Servers: servers, DataRoot: root, Timeout: 5 * time.Second, IOJobs: 1, CPUJobs: 1, FindJobs: 1}
	n := node.New(cfg, types.NewDefaultLogger())
	n.LocalAddr = other

	_, err := PrepareGet(context.Background(), n, key, 9999, "127.0.0.1")
	require.NotNil(t, err)
	assert.Equal(t, types.Conflict, err.Kind)
}

func TestConfirmGetUnknownUUIDIsNotFound(t *testing.T) {
	root := t.TempDir()
	n := testNode(t, root)

	err := ConfirmGet(context.Background(), n, "no-such-uuid", "checksum")
	require.NotNil(t, err)
	assert.Equal(t, types.NotFound, err.Kind)
}

func TestNewTempNameIsUnique(t *testing.T) {
	a := newTempName()
	b := newTempName()
	assert.NotEqual(t, a, b)
}
