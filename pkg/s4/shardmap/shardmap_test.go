package shardmap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jigth/s4/pkg/s4/types"
)

func servers() []types.Address {
	return []types.Address{"a:8080", "b:8080", "c:8080", "d:8080"}
}

func TestOwnerIsDeterministic(t *testing.T) {
	m := New(servers())
	a := m.Owner("s4://bucket/key")
	b := m.Owner("s4://bucket/key")
	assert.Equal(t, a, b)
}

func TestOwnerColocatesNumberedPartitions(t *testing.T) {
	m := New(servers())
	a := m.Owner("s4://bucket/job/worker/001")
	b := m.Owner("s4://other-bucket/other-job/worker/001")
	assert.Equal(t, a, b, "same numbered slot should colocate regardless of surrounding path")
}

func TestOwnerDistinguishesNonNumericPaths(t *testing.T) {
	// A last segment that is not all digits -- including a mixed suffix
	// such as "0000a" -- hashes the whole post-scheme path, so distinct
	// non-numeric keys get distinct shard keys; an all-digit segment
	// hashes alone.
	assert.Equal(t, "bucket/a", shardKey("s4://bucket/a"))
	assert.NotEqual(t, shardKey("s4://bucket/a"), shardKey("s4://bucket/b"))
	assert.Equal(t, "bucket/job/0000a", shardKey("s4://bucket/job/0000a"))
	assert.Equal(t, "0001", shardKey("s4://bucket/job/0001"))
}

func TestOwnsMatchesOwner(t *testing.T) {
	m := New(servers())
	owner := m.Owner("s4://bucket/key")
	assert.True(t, m.Owns("s4://bucket/key", owner))
	for _, s := range servers() {
		if s != owner {
			assert.False(t, m.Owns("s4://bucket/key", s))
		}
	}
}

func TestPartitionOf(t *testing.T) {
	p, ok := PartitionOf("s4://bucket/job/worker/007")
	assert.True(t, ok)
	assert.Equal(t, "007", p)

	_, ok = PartitionOf("s4://bucket/job/worker/abc")
	assert.False(t, ok)
}
