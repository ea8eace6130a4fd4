package binmc

import (
	"sort"
	"strconv"

	"github.com/zeebo/xxh3"
)

// DefaultRingReplicas is the number of virtual nodes a server of
// weight 1 contributes to the hash ring. Higher values smooth out the
// key distribution at the cost of a larger ring.
const DefaultRingReplicas = 32

// ring is a weighted consistent hash ring over server indices. It is
// built once and never mutated, so lookups need no locking.
type ring struct {
	points []ringPoint
}

// ringPoint maps a position on the ring to a server index.
type ringPoint struct {
	hash   uint64
	server int
}

// buildRing places weight*replicas virtual nodes per server. A virtual
// node's position is the hash of "network://addr:replica", so the ring
// is fully determined by the server list: two clients configured with
// the same servers route every key identically.
func buildRing(specs []ServerSpec, replicas int) *ring {
	if replicas <= 0 {
		replicas = DefaultRingReplicas
	}

	var points []ringPoint
	for i, spec := range specs {
		nodes := spec.weight() * replicas
		for n := 0; n < nodes; n++ {
			virtualKey := spec.String() + ":" + strconv.Itoa(n)
			points = append(points, ringPoint{
				hash:   xxh3.HashString(virtualKey),
				server: i,
			})
		}
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].hash < points[j].hash
	})
	return &ring{points: points}
}

// pick returns the index of the server owning key: the first virtual
// node at or after the key's hash, wrapping to the start of the ring.
func (r *ring) pick(key string) (int, error) {
	if len(r.points) == 0 {
		return 0, ErrNoServers
	}

	hash := xxh3.HashString(key)
	idx := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].hash >= hash
	})
	if idx == len(r.points) {
		idx = 0
	}
	return r.points[idx].server, nil
}
