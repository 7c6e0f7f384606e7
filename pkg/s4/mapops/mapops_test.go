package mapops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jigth/s4/pkg/s4/config"
	"github.com/jigth/s4/pkg/s4/layout"
	"github.com/jigth/s4/pkg/s4/node"
	"github.com/jigth/s4/pkg/s4/s4client"
	"github.com/jigth/s4/pkg/s4/shardmap"
	"github.com/jigth/s4/pkg/s4/shell"
	"github.com/jigth/s4/pkg/s4/types"
)

func testNode(t *testing.T, root string, servers []types.Address) *node.Node {
	t.Helper()
	cfg := &config.Config{
		Servers:  servers,
		DataRoot: root,
		Timeout:  5 * time.Second,
		IOJobs:   2,
		CPUJobs:  2,
		FindJobs: 2,
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "_tempdirs"), 0o755))
	return node.New(cfg, types.NewDefaultLogger())
}

func writeBlob(t *testing.T, root, rel, contents string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	require.NoError(t, layout.WriteSidecar(path, "c"))
}

func TestMapRejectsUnownedInkey(t *testing.T) {
	root := t.TempDir()
	servers := []types.Address{"10.0.0.1:8080", "10.0.0.2:8080"}
	key := types.Key("s4://bucket/in")
	owner := shardmap.New(servers).Owner(key)
	var other types.Address
	for _, s := range servers {
		if s != owner {
			other = s
		}
	}
	n := testNode(t, root, servers)
	n.LocalAddr = other
	client := s4client.New(n.Shards, n.Shell, "xxh3", time.Second)

	err := Map(context.Background(), n, client, key, types.Key("s4://bucket/out"), "cat")
	require.Error(t, err)
	te, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.Conflict, te.Kind)
}

func TestMapMissingInkeyIsNotFound(t *testing.T) {
	root := t.TempDir()
	n := testNode(t, root, []types.Address{"0.0.0.0:8080"})
	client := s4client.New(n.Shards, n.Shell, "xxh3", time.Second)

	err := Map(context.Background(), n, client, types.Key("s4://bucket/nope"), types.Key("s4://bucket/out"), "cat")
	require.Error(t, err)
	te, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.NotFound, te.Kind)
}

func TestMapCommandFailureIsUserCommandFailed(t *testing.T) {
	root := t.TempDir()
	writeBlob(t, root, "bucket/in", "data\n")
	n := testNode(t, root, []types.Address{"0.0.0.0:8080"})
	client := s4client.New(n.Shards, n.Shell, "xxh3", time.Second)

	err := Map(context.Background(), n, client, types.Key("s4://bucket/in"), types.Key("s4://bucket/out"), "exit 2")
	require.Error(t, err)
	te, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.UserCommandFailed, te.Kind)
}

func TestMapToNParsesEmittedFilenames(t *testing.T) {
	root := t.TempDir()
	writeBlob(t, root, "bucket/in", "data\n")
	n := testNode(t, root, []types.Address{"0.0.0.0:8080"})
	client := s4client.New(n.Shards, n.Shell, "xxh3", time.Second)

	cmd := `touch a.out b.out && printf "a.out\nb.out\n"`
	err := MapToN(context.Background(), n, client, types.Key("s4://bucket/in"), "s4://out/", cmd)
	// PutFiles fails because no peer is listening at the owning address,
	// but that's a connection failure surfacing from PutFile, not a
	// command-execution failure -- proving the command ran and its
	// emitted filenames were parsed into put specs.
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "command failed")
}

func TestMapFromNRequiresAllKeysOwnedAndPresent(t *testing.T) {
	root := t.TempDir()
	writeBlob(t, root, "bucket/0", "a\n")
	n := testNode(t, root, []types.Address{"0.0.0.0:8080"})
	client := s4client.New(n.Shards, n.Shell, "xxh3", time.Second)

	err := MapFromN(context.Background(), n, client, []types.Key{"s4://bucket/0", "s4://bucket/missing"}, "0", "s4://merged/", "cat")
	require.Error(t, err)
	te, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.NotFound, te.Kind)
}

func TestMapFromNFeedsInputPathsOnStdin(t *testing.T) {
	root := t.TempDir()
	writeBlob(t, root, "bucket/0", "a\n")
	writeBlob(t, root, "bucket/1", "b\n")
	n := testNode(t, root, []types.Address{"0.0.0.0:8080"})
	client := s4client.New(n.Shards, n.Shell, "xxh3", time.Second)

	// RunWithStdin delivers its string on the command's stdin: wc -l
	// counts the two lines fed here.
	res, rerr := n.Shell.RunWithStdin(context.Background(), "wc -l", strings.Repeat("x\n", 2), shell.RunOptions{Timeout: time.Second})
	require.NoError(t, rerr)
	assert.Contains(t, res.Stdout, "2")

	// The merge command exits zero only if stdin lists the two input
	// paths, in order: xargs cat must reproduce the blobs' contents.
	cmd := `test "$(xargs cat)" = "$(printf 'a\nb')"`
	err := MapFromN(context.Background(), n, client, []types.Key{"s4://bucket/0", "s4://bucket/1"}, "0", "s4://merged/", cmd)
	// fails downstream at PutFile since there is no real peer listening,
	// but the merge command itself must have run and exited zero for the
	// failure to originate from PutFile rather than from the command.
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "command failed")
}
