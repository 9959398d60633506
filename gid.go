package memgraph

import "sync/atomic"

type (
	// Gid is the globally unique, stable 64-bit identifier of a vertex or an edge. Vertices and
	// edges have separate id domains; a vertex and an edge may share a Gid value.
	Gid uint64

	// WorkerID identifies one node of a distributed deployment.
	WorkerID uint16

	// gidGenerator mints gids from a monotonically increasing counter. Ids are never reused,
	// even after the record they named has been erased.
	gidGenerator struct {
		next atomic.Uint64
	}
)

// Next returns a fresh, never before seen gid.
func (g *gidGenerator) Next() Gid {
	return Gid(g.next.Add(1))
}

// Current returns the highest gid handed out so far.
func (g *gidGenerator) Current() Gid {
	return Gid(g.next.Load())
}

// SetHighest fast-forwards the counter past an id observed during recovery, so replayed records
// never collide with freshly minted ones.
func (g *gidGenerator) SetHighest(gid Gid) {
	for {
		current := g.next.Load()
		if current >= uint64(gid) {
			return
		}
		if g.next.CompareAndSwap(current, uint64(gid)) {
			return
		}
	}
}
