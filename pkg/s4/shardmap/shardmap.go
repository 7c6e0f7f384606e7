// Package shardmap answers one question: which server in the cluster
// owns a given key. There is no metadata service and no rebalancing;
// ownership is a pure function of the key and the (fixed, ordered)
// server list, grounded on original_source/s4/__init__.py:pick_server.
package shardmap

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/jigth/s4/pkg/s4/types"
)

// Map is an ordered, fixed server list used to compute key ownership.
// It is built once at startup from config.Config.Servers and never
// mutated; all lookups and hash computations are pure.
type Map struct {
	servers []types.Address
}

// New builds a Map over the given server list. The order is
// significant: it is part of the hash-to-owner mapping.
func New(servers []types.Address) *Map {
	cp := make([]types.Address, len(servers))
	copy(cp, servers)
	return &Map{servers: cp}
}

// Servers returns the ordered server list the map was built with.
func (m *Map) Servers() []types.Address {
	return m.servers
}

// shardKey implements the numbered-partition colocation rule: if a
// key's last path segment is all-ASCII-digits, only that segment is
// hashed, so every partition sharing a slot number lands on the same
// server; otherwise the full key (without the s4:// scheme) is hashed.
func shardKey(key types.Key) string {
	s := strings.TrimPrefix(string(key), "s4://")
	segs := strings.Split(s, "/")
	last := segs[len(segs)-1]
	if last != "" && isAllDigits(last) {
		return last
	}
	return s
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Owner returns the address of the server responsible for key.
func (m *Map) Owner(key types.Key) types.Address {
	h := xxhash.Sum64String(shardKey(key))
	idx := h % uint64(len(m.servers))
	return m.servers[idx]
}

// Owns reports whether localAddr (this server's own listen address, as
// normalized by config against local_addresses) owns key.
func (m *Map) Owns(key types.Key, localAddr types.Address) bool {
	return m.Owner(key) == localAddr
}

// PartitionOf extracts the numbered-partition id used by map_to_n /
// map_from_n to group shuffled files, or "" if the key's last segment
// is not all-digits.
func PartitionOf(key types.Key) (string, bool) {
	s := strings.TrimPrefix(string(key), "s4://")
	segs := strings.Split(s, "/")
	last := segs[len(segs)-1]
	if last != "" && isAllDigits(last) {
		return last, true
	}
	return "", false
}
