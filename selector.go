package binmc

import (
	"hash/crc32"

	"github.com/zeebo/xxh3"

	"github.com/binmc/binmc/internal"
)

// Selector picks the index of the server responsible for a key. A
// Selector must be deterministic: the same key always maps to the same
// server for a given server list. Implementations must be safe for
// concurrent use.
type Selector interface {
	Pick(key string) (int, error)
}

// RingSelector routes keys with a weighted consistent hash ring. This
// is the default: adding or removing a server only remaps the keys
// adjacent to its virtual nodes instead of reshuffling everything.
type RingSelector struct {
	ring *ring
}

// NewRingSelector builds a selector over the given servers with
// replicas virtual nodes per unit of weight. Zero replicas means
// DefaultRingReplicas.
func NewRingSelector(specs []ServerSpec, replicas int) *RingSelector {
	return &RingSelector{ring: buildRing(specs, replicas)}
}

func (s *RingSelector) Pick(key string) (int, error) {
	return s.ring.pick(key)
}

// ModuloSelector routes keys by CRC32 modulo server count. Kept for
// compatibility with deployments that sharded this way historically;
// any change to the server count remaps almost every key, so prefer
// RingSelector.
type ModuloSelector struct {
	n int
}

// NewModuloSelector builds a modulo selector over n servers.
func NewModuloSelector(n int) *ModuloSelector {
	return &ModuloSelector{n: n}
}

func (s *ModuloSelector) Pick(key string) (int, error) {
	if s.n == 0 {
		return 0, ErrNoServers
	}
	return int(crc32.ChecksumIEEE([]byte(key)) % uint32(s.n)), nil
}

// JumpSelector routes keys with Google's jump consistent hash. It has
// the minimal-remapping property of a ring without storing one, but
// cannot express server weights and only tolerates removing the last
// server.
type JumpSelector struct {
	n int
}

// NewJumpSelector builds a jump-hash selector over n servers.
func NewJumpSelector(n int) *JumpSelector {
	return &JumpSelector{n: n}
}

func (s *JumpSelector) Pick(key string) (int, error) {
	if s.n == 0 {
		return 0, ErrNoServers
	}
	return internal.JumpHash(xxh3.HashString(key), s.n), nil
}
