package memgraph

import (
	"github.com/pkg/errors"

	"github.com/jbajic/memgraph/comm"
)

var (
	// ErrConflict is returned when a transaction runs into a conflicting write by a concurrent
	// transaction. The caller must abort and may retry the whole transaction.
	ErrConflict = errors.New("transaction conflict: serialization failure, retry the transaction")

	// ErrRecordDeleted is returned when trying to mutate a vertex or edge that was deleted by
	// the current transaction, or by a committed transaction it can see.
	ErrRecordDeleted = errors.New("record was deleted in the current transaction")

	// ErrRemoteAccess is returned when a local-only operation is invoked on an address whose
	// owner is another worker. The distributed layer above is expected to retry over RPC.
	ErrRemoteAccess = errors.New("record is owned by another worker")

	// ErrVertexHasEdges is returned by a non-detaching vertex removal while the vertex still has
	// visible edges.
	ErrVertexHasEdges = errors.New("vertex still has edges, detach them first")

	// ErrTypeMismatch is returned when a symbol or value is reused with an incompatible kind.
	ErrTypeMismatch = errors.New("incompatible kind for this value")

	// ErrTransactionFinished is returned when a transaction is used after its commit or abort.
	ErrTransactionFinished = errors.New("transaction has already been committed or aborted")

	// ErrCancelled is surfaced when a transaction is aborted while blocked in a messaging wait.
	ErrCancelled = comm.ErrCancelled
)
