package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jigth/s4/pkg/s4/types"
)

func TestResolveJoinsUnderRoot(t *testing.T) {
	l := New("/data")
	path, err := l.Resolve(types.Key("s4://bucket/key"))
	require.Nil(t, err)
	assert.Equal(t, "/data/bucket/key", path)
}

func TestResolveRejectsEscape(t *testing.T) {
	l := New("/data")
	_, err := l.Resolve(types.Key("s4://../../etc/passwd"))
	require.NotNil(t, err)
	assert.Equal(t, types.Conflict, err.Kind)
}

func TestResolveRejectsEmptyKey(t *testing.T) {
	l := New("/data")
	_, err := l.Resolve(types.Key("s4://"))
	require.NotNil(t, err)
}

func TestSidecarPath(t *testing.T) {
	assert.Equal(t, "/data/bucket/key.xxh3", SidecarPath("/data/bucket/key"))
	assert.True(t, IsSidecar("/data/bucket/key.xxh3"))
	assert.False(t, IsSidecar("/data/bucket/key"))
}

func TestExistsRequiresBothFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	assert.False(t, Exists(path))

	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	assert.False(t, Exists(path), "blob without sidecar is not a complete key")

	require.NoError(t, WriteSidecar(path, "deadbeef"))
	assert.True(t, Exists(path))

	checksum, rerr := ReadSidecar(path)
	require.NoError(t, rerr)
	assert.Equal(t, "deadbeef", checksum)
}

func TestTouchSidecarFailsIfAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bucket", "key")
	require.NoError(t, TouchSidecar(path))
	assert.Error(t, TouchSidecar(path))
}
