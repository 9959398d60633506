package memgraph

import (
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
)

const (
	// skipListMaxHeight caps tower heights; with p = 1/2 this comfortably covers billions of
	// entries.
	skipListMaxHeight = 24
)

type (
	// skipListNode is one tower of the index. A node is logically present once fullyLinked is
	// set and logically removed once marked is set; readers consult only those two flags and the
	// atomic next pointers, never the lock.
	skipListNode[T any, R recordPointer[T]] struct {
		gid  Gid
		list *VersionList[T, R]

		// lock guards the node's next pointers during insertion and removal of neighbors.
		lock sync.Mutex

		next []atomic.Pointer[skipListNode[T, R]]

		marked      atomic.Bool
		fullyLinked atomic.Bool
	}

	// SkipList is the primary index: a concurrent ordered map from gid to version list.
	// Insertion and removal take fine-grained per-node locks; lookups and forward iteration are
	// lock-free and weakly consistent.
	SkipList[T any, R recordPointer[T]] struct {
		head   *skipListNode[T, R]
		length atomic.Int64
	}

	// VertexIndex maps vertex gids to their version lists.
	VertexIndex = SkipList[Vertex, *Vertex]

	// EdgeIndex maps edge gids to their version lists.
	EdgeIndex = SkipList[Edge, *Edge]
)

func newSkipList[T any, R recordPointer[T]]() *SkipList[T, R] {
	head := &skipListNode[T, R]{
		next: make([]atomic.Pointer[skipListNode[T, R]], skipListMaxHeight),
	}
	head.fullyLinked.Store(true)
	return &SkipList[T, R]{head: head}
}

func newVertexIndex() *VertexIndex {
	return newSkipList[Vertex, *Vertex]()
}

func newEdgeIndex() *EdgeIndex {
	return newSkipList[Edge, *Edge]()
}

// randomHeight draws a tower height from a geometric distribution with p = 1/2.
func randomHeight() int {
	height := 1
	for height < skipListMaxHeight && rand.Int63()&1 == 1 {
		height++
	}
	return height
}

// findPosition locates gid's neighborhood: for every level the last node with a smaller gid and
// its successor. Returns the highest level at which a node with the exact gid was found, or -1.
func (s *SkipList[T, R]) findPosition(
	gid Gid,
	preds, succs *[skipListMaxHeight]*skipListNode[T, R],
) int {
	levelFound := -1
	pred := s.head
	for level := skipListMaxHeight - 1; level >= 0; level-- {
		current := pred.next[level].Load()
		for current != nil && current.gid < gid {
			pred = current
			current = pred.next[level].Load()
		}
		if levelFound == -1 && current != nil && current.gid == gid {
			levelFound = level
		}
		preds[level] = pred
		succs[level] = current
	}
	return levelFound
}

// Find returns the version list stored under gid, or nil. It never blocks.
func (s *SkipList[T, R]) Find(gid Gid) *VersionList[T, R] {
	pred := s.head
	for level := skipListMaxHeight - 1; level >= 0; level-- {
		current := pred.next[level].Load()
		for current != nil && current.gid < gid {
			pred = current
			current = pred.next[level].Load()
		}
		if current != nil && current.gid == gid {
			if current.fullyLinked.Load() && !current.marked.Load() {
				return current.list
			}
			return nil
		}
	}
	return nil
}

// InsertUnique inserts the version list under gid iff the gid is absent, returning whether the
// insertion happened. Concurrent inserts of the same gid serialize to exactly one success.
func (s *SkipList[T, R]) InsertUnique(gid Gid, list *VersionList[T, R]) bool {
	topHeight := randomHeight()

	var preds, succs [skipListMaxHeight]*skipListNode[T, R]
	for {
		levelFound := s.findPosition(gid, &preds, &succs)
		if levelFound != -1 {
			found := succs[levelFound]
			if !found.marked.Load() {
				// Someone else holds this gid. Wait for their linking to complete so that a
				// false return implies a finished insert.
				for !found.fullyLinked.Load() {
					runtime.Gosched()
				}
				return false
			}
			// A marked node with our gid is on its way out; retry once it is unlinked.
			continue
		}

		// Lock the predecessors bottom-up and validate that the neighborhood did not shift.
		var (
			highestLocked = -1
			previousPred  *skipListNode[T, R]
			valid         = true
		)
		for level := 0; valid && level < topHeight; level++ {
			pred := preds[level]
			succ := succs[level]
			if pred != previousPred {
				pred.lock.Lock()
				highestLocked = level
				previousPred = pred
			}
			valid = !pred.marked.Load() &&
				pred.next[level].Load() == succ &&
				(succ == nil || !succ.marked.Load())
		}
		if !valid {
			unlockPreds(&preds, highestLocked)
			continue
		}

		node := &skipListNode[T, R]{
			gid:  gid,
			list: list,
			next: make([]atomic.Pointer[skipListNode[T, R]], topHeight),
		}
		for level := 0; level < topHeight; level++ {
			node.next[level].Store(succs[level])
		}
		for level := 0; level < topHeight; level++ {
			preds[level].next[level].Store(node)
		}
		node.fullyLinked.Store(true)

		unlockPreds(&preds, highestLocked)
		s.length.Add(1)
		return true
	}
}

// Erase removes gid from the index, returning whether anything was removed. The version list
// itself is untouched; reclaiming its versions is the garbage collector's business.
func (s *SkipList[T, R]) Erase(gid Gid) bool {
	var (
		victim       *skipListNode[T, R]
		isMarked     bool
		topLevel     = -1
		preds, succs [skipListMaxHeight]*skipListNode[T, R]
	)

	for {
		levelFound := s.findPosition(gid, &preds, &succs)
		if !isMarked {
			if levelFound == -1 {
				return false
			}
			victim = succs[levelFound]
			if !victim.fullyLinked.Load() || victim.marked.Load() || len(victim.next)-1 != levelFound {
				return false
			}
			topLevel = levelFound
			victim.lock.Lock()
			if victim.marked.Load() {
				victim.lock.Unlock()
				return false
			}
			victim.marked.Store(true)
			isMarked = true
		}

		var (
			highestLocked = -1
			previousPred  *skipListNode[T, R]
			valid         = true
		)
		for level := 0; valid && level <= topLevel; level++ {
			pred := preds[level]
			if pred != previousPred {
				pred.lock.Lock()
				highestLocked = level
				previousPred = pred
			}
			valid = !pred.marked.Load() && pred.next[level].Load() == victim
		}
		if !valid {
			unlockPreds(&preds, highestLocked)
			continue
		}

		for level := topLevel; level >= 0; level-- {
			preds[level].next[level].Store(victim.next[level].Load())
		}
		victim.lock.Unlock()
		unlockPreds(&preds, highestLocked)
		s.length.Add(-1)
		return true
	}
}

// Iterate walks the present entries in ascending gid order, stopping early when fn returns
// false. The walk is weakly consistent: it sees every entry present for the whole scan, and may
// or may not see entries inserted while it runs.
func (s *SkipList[T, R]) Iterate(fn func(gid Gid, list *VersionList[T, R]) bool) {
	for node := s.head.next[0].Load(); node != nil; node = node.next[0].Load() {
		if !node.fullyLinked.Load() || node.marked.Load() {
			continue
		}
		if !fn(node.gid, node.list) {
			return
		}
	}
}

// Len returns the number of present entries.
func (s *SkipList[T, R]) Len() int {
	return int(s.length.Load())
}

func unlockPreds[T any, R recordPointer[T]](
	preds *[skipListMaxHeight]*skipListNode[T, R],
	highestLocked int,
) {
	var previous *skipListNode[T, R]
	for level := 0; level <= highestLocked; level++ {
		if preds[level] != previous {
			preds[level].lock.Unlock()
			previous = preds[level]
		}
	}
}
