package memgraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// chainLength walks a vertex list's chain from the tip to the tail.
func chainLength(list *VertexList) int {
	length := 0
	for version := list.head.Load(); version != nil; version = version.older.Load() {
		length++
	}
	return length
}

func TestVersionListFindRespectsSnapshots(t *testing.T) {
	engine := testEngine(t)
	list := newVertexList(1)

	creator := engine.Begin()
	vertex := newVertex()
	vertex.props[1] = IntValue(10)
	list.insert(vertex, creator)

	// A concurrent transaction holds the creator in its snapshot and sees nothing.
	concurrent := engine.Begin()
	require.Nil(t, list.find(concurrent))

	require.NoError(t, engine.Commit(creator))

	// Still nothing: commit order does not override the snapshot taken at begin.
	require.Nil(t, list.find(concurrent))
	require.NoError(t, engine.Commit(concurrent))

	// A transaction begun after the commit sees the version.
	later := engine.Begin()
	found := list.find(later)
	require.NotNil(t, found)
	require.True(t, found.props[1].Equal(IntValue(10)))
	require.NoError(t, engine.Commit(later))
}

func TestVersionListUpdateChainsVersions(t *testing.T) {
	engine := testEngine(t)
	list := newVertexList(1)

	creator := engine.Begin()
	vertex := newVertex()
	vertex.props[1] = IntValue(10)
	list.insert(vertex, creator)
	require.NoError(t, engine.Commit(creator))

	updater := engine.Begin()
	updated, err := list.update(updater)
	require.NoError(t, err)
	updated.props[1] = IntValue(20)

	// The previous tip is expired by the updater and back-linked to its successor.
	require.Equal(t, updater.ID(), vertex.ExpiredBy())
	require.Equal(t, updated, vertex.newer.Load())
	require.Equal(t, vertex, updated.older.Load())
	require.Equal(t, 2, chainLength(list))

	// A second update within the same transaction mutates the same version in place.
	again, err := list.update(updater)
	require.NoError(t, err)
	require.Equal(t, updated, again)
	require.Equal(t, 2, chainLength(list))

	require.NoError(t, engine.Commit(updater))

	later := engine.Begin()
	found := list.find(later)
	require.NotNil(t, found)
	require.True(t, found.props[1].Equal(IntValue(20)))
	require.NoError(t, engine.Commit(later))
}

func TestVersionListSingleWriter(t *testing.T) {
	engine := testEngine(t)
	list := newVertexList(1)

	creator := engine.Begin()
	list.insert(newVertex(), creator)
	require.NoError(t, engine.Commit(creator))

	first := engine.Begin()
	second := engine.Begin()

	_, err := list.update(first)
	require.NoError(t, err)

	// The second writer must not wait for the first; it fails immediately.
	_, err = list.update(second)
	require.ErrorIs(t, err, ErrConflict)
	require.ErrorIs(t, list.remove(second), ErrConflict)

	require.NoError(t, engine.Abort(second))
	require.NoError(t, engine.Commit(first))
}

func TestVersionListFirstUpdaterWins(t *testing.T) {
	engine := testEngine(t)
	list := newVertexList(1)

	creator := engine.Begin()
	list.insert(newVertex(), creator)
	require.NoError(t, engine.Commit(creator))

	first := engine.Begin()
	second := engine.Begin()

	_, err := list.update(first)
	require.NoError(t, err)
	require.NoError(t, engine.Commit(first))

	// The commit happened after the second transaction began, so its base version is stale.
	_, err = list.update(second)
	require.ErrorIs(t, err, ErrConflict)
	require.NoError(t, engine.Abort(second))
}

func TestVersionListAbortedWriterLeavesNoTrace(t *testing.T) {
	engine := testEngine(t)
	list := newVertexList(1)

	creator := engine.Begin()
	vertex := newVertex()
	vertex.props[1] = IntValue(10)
	list.insert(vertex, creator)
	require.NoError(t, engine.Commit(creator))

	aborted := engine.Begin()
	updated, err := list.update(aborted)
	require.NoError(t, err)
	updated.props[1] = IntValue(99)
	require.NoError(t, engine.Abort(aborted))

	// A new writer overwrites the aborted expiration and bases its version on the committed
	// one.
	writer := engine.Begin()
	rewritten, err := list.update(writer)
	require.NoError(t, err)
	require.True(t, rewritten.props[1].Equal(IntValue(10)))
	require.NoError(t, engine.Commit(writer))

	later := engine.Begin()
	found := list.find(later)
	require.NotNil(t, found)
	require.True(t, found.props[1].Equal(IntValue(10)))
	require.NoError(t, engine.Commit(later))
}

func TestVersionListRemove(t *testing.T) {
	engine := testEngine(t)
	list := newVertexList(1)

	creator := engine.Begin()
	list.insert(newVertex(), creator)
	require.NoError(t, engine.Commit(creator))

	remover := engine.Begin()
	require.NoError(t, list.remove(remover))

	// Gone for the remover itself.
	require.Nil(t, list.find(remover))

	// Updating or removing a record deleted by the same transaction fails.
	_, err := list.update(remover)
	require.ErrorIs(t, err, ErrRecordDeleted)
	require.ErrorIs(t, list.remove(remover), ErrRecordDeleted)

	require.NoError(t, engine.Commit(remover))

	// Gone for everyone after the commit too.
	later := engine.Begin()
	require.Nil(t, list.find(later))
	_, err = list.update(later)
	require.ErrorIs(t, err, ErrRecordDeleted)
	require.NoError(t, engine.Abort(later))
}

func TestVersionListReadYourWrites(t *testing.T) {
	engine := testEngine(t)
	list := newVertexList(1)

	txn := engine.Begin()
	vertex := newVertex()
	vertex.props[1] = IntValue(1)
	list.insert(vertex, txn)

	found := list.find(txn)
	require.NotNil(t, found)
	require.True(t, found.props[1].Equal(IntValue(1)))

	require.NoError(t, engine.Advance(txn))
	found = list.find(txn)
	require.NotNil(t, found)
	require.NoError(t, engine.Commit(txn))
}

func TestVersionListFindSetOldNew(t *testing.T) {
	engine := testEngine(t)
	list := newVertexList(1)

	creator := engine.Begin()
	vertex := newVertex()
	vertex.props[1] = IntValue(10)
	list.insert(vertex, creator)
	require.NoError(t, engine.Commit(creator))

	txn := engine.Begin()

	oldRecord, newRecord := list.findSetOldNew(txn)
	require.Equal(t, vertex, oldRecord)
	require.Nil(t, newRecord)

	updated, err := list.update(txn)
	require.NoError(t, err)

	oldRecord, newRecord = list.findSetOldNew(txn)
	require.Equal(t, vertex, oldRecord)
	require.Equal(t, updated, newRecord)

	require.NoError(t, engine.Commit(txn))
}

func TestVersionListGcSweep(t *testing.T) {
	engine := testEngine(t)
	list := newVertexList(1)

	creator := engine.Begin()
	list.insert(newVertex(), creator)
	require.NoError(t, engine.Commit(creator))

	for i := 0; i < 5; i++ {
		txn := engine.Begin()
		_, err := list.update(txn)
		require.NoError(t, err)
		require.NoError(t, engine.Commit(txn))
	}
	require.Equal(t, 6, chainLength(list))

	collected, dead := list.gcSweep(engine.GcLow(), engine)
	require.Equal(t, 5, collected)
	require.False(t, dead)
	require.Equal(t, 1, chainLength(list))

	// Removing the record and sweeping again kills the whole list.
	remover := engine.Begin()
	require.NoError(t, list.remove(remover))
	require.NoError(t, engine.Commit(remover))

	_, dead = list.gcSweep(engine.GcLow(), engine)
	require.True(t, dead)
	require.Zero(t, chainLength(list))
}

func TestVersionListGcRespectsActiveSnapshots(t *testing.T) {
	engine := testEngine(t)
	list := newVertexList(1)

	creator := engine.Begin()
	vertex := newVertex()
	vertex.props[1] = IntValue(1)
	list.insert(vertex, creator)
	require.NoError(t, engine.Commit(creator))

	longRunning := engine.Begin()

	for i := 0; i < 10; i++ {
		txn := engine.Begin()
		updated, err := list.update(txn)
		require.NoError(t, err)
		updated.props[1] = IntValue(int64(i))
		require.NoError(t, engine.Commit(txn))
	}
	require.Equal(t, 11, chainLength(list))

	collected, dead := list.gcSweep(engine.GcLow(), engine)
	require.Zero(t, collected)
	require.False(t, dead)

	// The long running transaction still reads its snapshot's version.
	found := list.find(longRunning)
	require.NotNil(t, found)
	require.True(t, found.props[1].Equal(IntValue(1)))
	require.NoError(t, engine.Commit(longRunning))

	collected, _ = list.gcSweep(engine.GcLow(), engine)
	require.Equal(t, 10, collected)
	require.Equal(t, 1, chainLength(list))
}
