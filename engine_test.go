package memgraph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jbajic/memgraph/options"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	engine := newEngine(options.Options{}, newMetrics(nil))
	t.Cleanup(engine.stop)
	return engine
}

func TestEngineBeginAssignsMonotonicIds(t *testing.T) {
	engine := testEngine(t)

	first := engine.Begin()
	second := engine.Begin()
	third := engine.Begin()

	require.Equal(t, TransactionID(1), first.ID())
	require.Equal(t, TransactionID(2), second.ID())
	require.Equal(t, TransactionID(3), third.ID())
}

func TestEngineSnapshotExcludesSelf(t *testing.T) {
	engine := testEngine(t)

	first := engine.Begin()
	require.Zero(t, first.Snapshot().Size())

	second := engine.Begin()
	require.Equal(t, 1, second.Snapshot().Size())
	require.True(t, second.Snapshot().contains(first.ID()))
	require.False(t, second.Snapshot().contains(second.ID()))

	require.NoError(t, engine.Commit(first))

	// A transaction begun after the commit does not carry the finished one in its snapshot.
	third := engine.Begin()
	require.True(t, third.Snapshot().contains(second.ID()))
	require.False(t, third.Snapshot().contains(first.ID()))
}

func TestEngineStateTransitions(t *testing.T) {
	engine := testEngine(t)

	committed := engine.Begin()
	aborted := engine.Begin()
	active := engine.Begin()

	require.True(t, engine.IsActive(committed.ID()))
	require.NoError(t, engine.Commit(committed))
	require.NoError(t, engine.Abort(aborted))

	require.True(t, engine.IsCommitted(committed.ID()))
	require.False(t, engine.IsAborted(committed.ID()))
	require.True(t, engine.IsAborted(aborted.ID()))
	require.False(t, engine.IsCommitted(aborted.ID()))
	require.True(t, engine.IsActive(active.ID()))
	require.False(t, engine.IsActive(committed.ID()))
}

func TestEngineFinishedTransactionIsRejected(t *testing.T) {
	engine := testEngine(t)

	txn := engine.Begin()
	require.NoError(t, engine.Commit(txn))

	require.ErrorIs(t, engine.Commit(txn), ErrTransactionFinished)
	require.ErrorIs(t, engine.Abort(txn), ErrTransactionFinished)
	require.ErrorIs(t, engine.Advance(txn), ErrTransactionFinished)
}

func TestEngineAdvance(t *testing.T) {
	engine := testEngine(t)

	txn := engine.Begin()
	require.Equal(t, CommandID(1), txn.Command())
	require.NoError(t, engine.Advance(txn))
	require.Equal(t, CommandID(2), txn.Command())
	require.NoError(t, engine.Abort(txn))
}

func TestEngineCommitConflict(t *testing.T) {
	engine := testEngine(t)

	const fingerprint = uint64(0xdead)

	first := engine.Begin()
	second := engine.Begin()

	// Both transactions read the same record; the first writes and commits it.
	first.addRead(fingerprint)
	first.addWrite(fingerprint)
	require.NoError(t, engine.Commit(first))

	// The second based its own write somewhere else on that read; its view is stale.
	second.addRead(fingerprint)
	second.addWrite(uint64(0xbeef))
	require.ErrorIs(t, engine.Commit(second), ErrConflict)
	require.True(t, engine.IsAborted(second.ID()))
}

func TestEngineReadOnlyTransactionNeverConflicts(t *testing.T) {
	engine := testEngine(t)

	const fingerprint = uint64(0xdead)

	reader := engine.Begin()
	writer := engine.Begin()

	writer.addRead(fingerprint)
	writer.addWrite(fingerprint)
	require.NoError(t, engine.Commit(writer))

	reader.addRead(fingerprint)
	require.NoError(t, engine.Commit(reader))
}

func TestEngineConflictAgainstVisibleCommitIsFine(t *testing.T) {
	engine := testEngine(t)

	const fingerprint = uint64(0xdead)

	writer := engine.Begin()
	writer.addRead(fingerprint)
	writer.addWrite(fingerprint)
	require.NoError(t, engine.Commit(writer))

	// A transaction begun after the commit sees it, so there is no conflict.
	later := engine.Begin()
	later.addRead(fingerprint)
	later.addWrite(uint64(0xbeef))
	require.NoError(t, engine.Commit(later))
}

func TestEngineGcLow(t *testing.T) {
	engine := testEngine(t)

	first := engine.Begin()
	second := engine.Begin()

	// The second transaction holds the first in its snapshot, so the horizon cannot pass the
	// first even once it finishes.
	require.NoError(t, engine.Commit(first))
	require.Equal(t, first.ID(), engine.GcLow())

	require.NoError(t, engine.Commit(second))
	require.Equal(t, engine.LastAssigned()+1, engine.GcLow())
}

func TestEngineConcurrentBegin(t *testing.T) {
	engine := testEngine(t)

	const goroutines = 16
	const perGoroutine = 50

	var wg sync.WaitGroup
	ids := make(chan TransactionID, goroutines*perGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				txn := engine.Begin()
				ids <- txn.ID()
				require.NoError(t, engine.Commit(txn))
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[TransactionID]struct{}{}
	for id := range ids {
		_, duplicate := seen[id]
		require.False(t, duplicate)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, goroutines*perGoroutine)
}

func TestCommitLogStates(t *testing.T) {
	log := newCommitLog()

	log.setCommitted(1)
	log.setAborted(2)

	require.True(t, log.isCommitted(1))
	require.False(t, log.isAborted(1))
	require.True(t, log.isAborted(2))
	require.False(t, log.isCommitted(2))
	require.False(t, log.isCommitted(3))
	require.False(t, log.isAborted(3))

	// Ids far beyond the first chunk grow the table transparently.
	far := TransactionID(commitLogChunkSize*3 + 17)
	log.setCommitted(far)
	require.True(t, log.isCommitted(far))
	require.False(t, log.isCommitted(far-1))
}
