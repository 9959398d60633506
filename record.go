package memgraph

import "sync/atomic"

type (
	// mvccFields is the versioning bookkeeping embedded in every record version. createdBy and
	// createdCmd are immutable once the version is published; the expiration pair is written
	// under the owning version list's lock and read without it, hence the atomics.
	mvccFields[T any] struct {
		createdBy  TransactionID
		createdCmd CommandID

		// expiredBy is zero while the version is unexpired. Writers publish expiredCmd before
		// expiredBy; readers load expiredBy first, so a non-zero id is always paired with a
		// command that is at least as fresh. A torn pair can only be observed while an aborted
		// expiration is being overwritten, and both candidate ids resolve to "expirer not
		// visible" for every transaction other than the overwriting one.
		expiredBy  atomic.Uint64
		expiredCmd atomic.Uint64

		// older points toward the predecessor version. Only the garbage collector changes it
		// after publication, unlinking obsolete suffixes while readers may be mid-traversal.
		older atomic.Pointer[T]

		// newer is set on the predecessor when a successor version supersedes it.
		newer atomic.Pointer[T]
	}

	// Record is the constraint shared by vertex and edge versions: access to the embedded mvcc
	// bookkeeping, payload cloning for updates, and the property store.
	Record[T any] interface {
		rec() *mvccFields[T]
		cloneData() *T
		properties() *PropertyMap
	}

	// recordPointer ties the Record constraint to its concrete pointer type so generic code can
	// move between *T and the constraint's method set.
	recordPointer[T any] interface {
		*T
		Record[T]
	}
)

// expire publishes an expiration by t, overwriting any aborted expiration already present.
// Callers must hold the owning version list's lock.
func (m *mvccFields[T]) expire(t *Transaction) {
	m.expiredCmd.Store(uint64(t.cmd))
	m.expiredBy.Store(uint64(t.id))
}

// isVisible applies the full visibility rule: the creation is in t's view and the expiration,
// if any, is not.
func (m *mvccFields[T]) isVisible(t *Transaction) bool {
	if !t.canSee(m.createdBy, m.createdCmd) {
		return false
	}
	expiredBy := TransactionID(m.expiredBy.Load())
	if expiredBy == 0 {
		return true
	}
	return !t.canSee(expiredBy, CommandID(m.expiredCmd.Load()))
}

// isCommittedVisible applies visibility with t's own effects excluded: the state of the record
// as it was before t's writes.
func (m *mvccFields[T]) isCommittedVisible(t *Transaction) bool {
	if !t.canSeeCommitted(m.createdBy) {
		return false
	}
	expiredBy := TransactionID(m.expiredBy.Load())
	if expiredBy == 0 {
		return true
	}
	return !t.canSeeCommitted(expiredBy)
}

// isExpiredBy reports whether t itself expired this version at or before its current command.
func (m *mvccFields[T]) isExpiredBy(t *Transaction) bool {
	return TransactionID(m.expiredBy.Load()) == t.id &&
		CommandID(m.expiredCmd.Load()) <= t.cmd
}

// CreatedBy returns the id of the transaction that created this version.
func (m *mvccFields[T]) CreatedBy() TransactionID {
	return m.createdBy
}

// ExpiredBy returns the id of the transaction that expired this version, or zero.
func (m *mvccFields[T]) ExpiredBy() TransactionID {
	return TransactionID(m.expiredBy.Load())
}
