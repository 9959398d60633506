package memgraph

import (
	"context"
	"sync"

	"github.com/jbajic/memgraph/options"
	"github.com/jbajic/memgraph/z"
)

const (
	// committedWritesPruneThreshold bounds the conflict table: once it grows past this many
	// entries a commit prunes everything below the oldest active horizon.
	committedWritesPruneThreshold = 1 << 16
)

type (
	// Engine hands out transaction identifiers, tracks the active set and answers all
	// visibility questions. There is exactly one engine per storage instance.
	Engine struct {
		// Used for Begin, Commit and Abort; the active set must change atomically with respect
		// to snapshot capture.
		sync.Mutex

		lastTransactionID TransactionID

		// active holds every transaction that has begun and not yet committed or aborted.
		active map[TransactionID]*Transaction

		// clog answers committed/aborted for finished transactions without the engine lock.
		clog *commitLog

		// committedWrites stores a version list fingerprint and the latest transaction to
		// commit a write to it, used to validate a committing transaction's read set.
		committedWrites map[uint64]TransactionID

		// transactionMark is used to find out whether all transactions up to a given id have
		// finished, for Close; IsActive also reads the last id it saw begin.
		transactionMark *z.WaterMark

		// closer is used to stop the watermark.
		closer *z.Closer

		metrics *Metrics
	}
)

func newEngine(opts options.Options, metrics *Metrics) *Engine {
	engine := &Engine{
		active:          map[TransactionID]*Transaction{},
		clog:            newCommitLog(),
		committedWrites: map[uint64]TransactionID{},

		transactionMark: &z.WaterMark{Name: "memgraph.TransactionFinished"},
		closer:          z.NewCloser(1),
		metrics:         metrics,
	}

	engine.transactionMark.Init(engine.closer, opts.EventLogging)

	return engine
}

// Begin creates a new transaction: the next id, a snapshot of the currently active set, and a
// registration in that set. Begin never fails.
func (e *Engine) Begin() *Transaction {
	e.Lock()
	defer e.Unlock()

	e.lastTransactionID++
	transaction := &Transaction{
		id:     e.lastTransactionID,
		cmd:    1,
		engine: e,
	}

	// Snapshot the active set, excluding self which is not registered yet. Ids are collected in
	// ascending order so membership checks can binary search.
	ids := make([]TransactionID, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sortTransactionIDs(ids)
	transaction.snapshot = Snapshot{ids: ids}

	e.active[transaction.id] = transaction
	e.transactionMark.Begin(uint64(transaction.id))

	e.metrics.ActiveTransactions.Inc()

	return transaction
}

// Advance increments the transaction's command counter, making the effects of earlier commands
// in the same transaction visible to later ones. It may only be called by the owning thread.
func (e *Engine) Advance(t *Transaction) error {
	if t.finished {
		return ErrTransactionFinished
	}
	t.cmd++
	return nil
}

// Commit finalizes the transaction. When the transaction wrote anything, its read set is first
// validated against writes committed by transactions outside its view; a hit means a
// serialization failure, the transaction is aborted and ErrConflict returned.
func (e *Engine) Commit(t *Transaction) error {
	if t.finished {
		return ErrTransactionFinished
	}

	e.Lock()

	if len(t.writes) > 0 {
		for _, fingerprint := range t.reads {
			if writer, ok := e.committedWrites[fingerprint]; ok && !t.canSeeCommitted(writer) {
				// Someone committed a write we based this transaction on after we began.
				e.abortLocked(t)
				e.Unlock()
				e.metrics.TransactionsTotal.WithLabelValues(outcomeConflicted).Inc()
				return ErrConflict
			}
		}
		for _, fingerprint := range t.writes {
			e.committedWrites[fingerprint] = t.id
		}
		if len(e.committedWrites) > committedWritesPruneThreshold {
			e.pruneCommittedWritesLocked()
		}
	}

	e.clog.setCommitted(t.id)
	delete(e.active, t.id)
	e.Unlock()

	e.transactionMark.Done(uint64(t.id))
	t.finished = true

	e.metrics.ActiveTransactions.Dec()
	e.metrics.TransactionsTotal.WithLabelValues(outcomeCommitted).Inc()

	return nil
}

// Abort finalizes the transaction as aborted; every mark it made is treated as absent from now
// on.
func (e *Engine) Abort(t *Transaction) error {
	if t.finished {
		return ErrTransactionFinished
	}

	e.Lock()
	e.abortLocked(t)
	e.Unlock()

	e.metrics.TransactionsTotal.WithLabelValues(outcomeAborted).Inc()

	return nil
}

func (e *Engine) abortLocked(t *Transaction) {
	e.clog.setAborted(t.id)
	delete(e.active, t.id)
	e.transactionMark.Done(uint64(t.id))
	t.finished = true
	e.metrics.ActiveTransactions.Dec()
}

// IsCommitted reports whether the transaction has committed.
func (e *Engine) IsCommitted(id TransactionID) bool {
	return e.clog.isCommitted(id)
}

// IsAborted reports whether the transaction has aborted.
func (e *Engine) IsAborted(id TransactionID) bool {
	return e.clog.isAborted(id)
}

// IsActive reports whether the transaction has begun but not yet finished. Reads only the
// commit log and the watermark's last begun index, without the engine lock, so it is safe to
// call while holding a version list lock.
func (e *Engine) IsActive(id TransactionID) bool {
	return e.clog.get(id) == commitLogActive && uint64(id) <= e.transactionMark.LastIndex()
}

// GcLow returns the horizon below which no active transaction, nor any future one, can still
// observe a version: the oldest id reachable from any active transaction's snapshot, or the
// next unassigned id when the system is idle.
func (e *Engine) GcLow() TransactionID {
	e.Lock()
	defer e.Unlock()

	low := e.lastTransactionID + 1
	for _, transaction := range e.active {
		if txLow := transaction.low(); txLow < low {
			low = txLow
		}
	}
	return low
}

// LastAssigned returns the most recently assigned transaction id.
func (e *Engine) LastAssigned() TransactionID {
	e.Lock()
	defer e.Unlock()
	return e.lastTransactionID
}

// WaitForFinished blocks until every transaction with id at most upTo has finished, or the
// context expires.
func (e *Engine) WaitForFinished(ctx context.Context, upTo TransactionID) error {
	return e.transactionMark.WaitForMark(ctx, uint64(upTo))
}

// stop shuts down the watermark goroutine.
func (e *Engine) stop() {
	e.closer.SignalAndWait()
}

// pruneCommittedWritesLocked drops conflict entries no active transaction could still collide
// with. The engine lock must be held.
func (e *Engine) pruneCommittedWritesLocked() {
	low := e.lastTransactionID + 1
	for _, transaction := range e.active {
		if txLow := transaction.low(); txLow < low {
			low = txLow
		}
	}
	for fingerprint, writer := range e.committedWrites {
		if writer < low {
			delete(e.committedWrites, fingerprint)
		}
	}
}

func sortTransactionIDs(ids []TransactionID) {
	// Insertion sort; active sets are small and almost sorted since ids are handed out in
	// order.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
