package memgraph

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSkipListInsertUniqueAndFind(t *testing.T) {
	index := newVertexIndex()

	for gid := Gid(1); gid <= 100; gid++ {
		require.True(t, index.InsertUnique(gid, newVertexList(gid)))
	}
	require.Equal(t, 100, index.Len())

	// A second insert under a present gid reports failure.
	require.False(t, index.InsertUnique(50, newVertexList(50)))
	require.Equal(t, 100, index.Len())

	for gid := Gid(1); gid <= 100; gid++ {
		list := index.Find(gid)
		require.NotNil(t, list)
		require.Equal(t, gid, list.Gid())
	}
	require.Nil(t, index.Find(101))
}

func TestSkipListErase(t *testing.T) {
	index := newVertexIndex()

	require.True(t, index.InsertUnique(1, newVertexList(1)))
	require.True(t, index.InsertUnique(2, newVertexList(2)))

	require.True(t, index.Erase(1))
	require.False(t, index.Erase(1))
	require.Nil(t, index.Find(1))
	require.NotNil(t, index.Find(2))
	require.Equal(t, 1, index.Len())

	// A gid is free for re-insertion after erase, although the id generator never does that.
	require.True(t, index.InsertUnique(1, newVertexList(1)))
}

func TestSkipListIterationOrder(t *testing.T) {
	index := newVertexIndex()

	// Insert in a scrambled order.
	for _, gid := range []Gid{9, 3, 7, 1, 8, 2, 6, 4, 5} {
		require.True(t, index.InsertUnique(gid, newVertexList(gid)))
	}

	var walked []Gid
	index.Iterate(func(gid Gid, list *VertexList) bool {
		walked = append(walked, gid)
		return true
	})
	require.Equal(t, []Gid{1, 2, 3, 4, 5, 6, 7, 8, 9}, walked)

	// Early exit stops the walk.
	walked = walked[:0]
	index.Iterate(func(gid Gid, list *VertexList) bool {
		walked = append(walked, gid)
		return len(walked) < 3
	})
	require.Equal(t, []Gid{1, 2, 3}, walked)
}

func TestSkipListConcurrentInsertOfSameGid(t *testing.T) {
	index := newVertexIndex()

	const goroutines = 16
	var successes atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if index.InsertUnique(7, newVertexList(7)) {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	// Exactly one insert wins.
	require.EqualValues(t, 1, successes.Load())
	require.Equal(t, 1, index.Len())
}

func TestSkipListConcurrentMixedOperations(t *testing.T) {
	index := newVertexIndex()

	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			base := Gid(w * perWriter)
			for i := 0; i < perWriter; i++ {
				gid := base + Gid(i) + 1
				require.True(t, index.InsertUnique(gid, newVertexList(gid)))
			}
			// Remove every other entry again.
			for i := 0; i < perWriter; i += 2 {
				gid := base + Gid(i) + 1
				require.True(t, index.Erase(gid))
			}
		}()
	}

	// Readers run against the churn; they only assert consistency of what they see.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				previous := Gid(0)
				index.Iterate(func(gid Gid, list *VertexList) bool {
					if gid <= previous {
						t.Error("iteration out of order")
						return false
					}
					previous = gid
					return true
				})
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	require.Equal(t, writers*perWriter/2, index.Len())

	// Exactly the odd offsets survive.
	for w := 0; w < writers; w++ {
		base := Gid(w * perWriter)
		for i := 0; i < perWriter; i++ {
			gid := base + Gid(i) + 1
			if i%2 == 0 {
				require.Nil(t, index.Find(gid))
			} else {
				require.NotNil(t, index.Find(gid))
			}
		}
	}
}
