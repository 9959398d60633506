package memgraph

import (
	"github.com/jbajic/memgraph/pb"
)

type (
	// recordBackend is the capability set a record accessor needs from its surroundings. The
	// accessor borrows the backend; backends are stateless and shared between every accessor of
	// one graph accessor, which keeps accessors cheap to copy.
	recordBackend[T any, R recordPointer[T]] interface {
		// globalAddress converts a local address into one any worker can interpret.
		globalAddress(address Address[T, R]) Address[T, R]

		// setOldNew resolves the old and new version pointers for Reconstruct.
		setOldNew(address Address[T, R], t *Transaction) (oldRecord, newRecord R)

		// findNew finds the version the transaction itself produced, if any.
		findNew(address Address[T, R], t *Transaction) R

		// processDelta ships one state delta, e.g. to the delta log.
		processDelta(delta pb.Delta) error

		// cypherID is the id exposed to the query language for this record.
		cypherID(address Address[T, R]) int64
	}

	// recordAccessor is the user-facing handle to one vertex or edge: an address paired with
	// the governing transaction, plus cached pointers to the latest version visible before this
	// transaction's writes (old) and to this transaction's own in-progress version (new). It
	// does not own the versions and is cheap to copy.
	recordAccessor[T any, R recordPointer[T]] struct {
		address Address[T, R]
		ga      *GraphAccessor
		backend recordBackend[T, R]
		kind    pb.RecordKind

		oldRecord R
		newRecord R

		// current is the version reads are served from: new when this transaction changed the
		// record, old otherwise.
		current R
	}
)

func newRecordAccessor[T any, R recordPointer[T]](
	address Address[T, R],
	ga *GraphAccessor,
	backend recordBackend[T, R],
	kind pb.RecordKind,
) recordAccessor[T, R] {
	return recordAccessor[T, R]{
		address: address,
		ga:      ga,
		backend: backend,
		kind:    kind,
	}
}

// Gid returns the stable identifier of the record. Vertices and edges have separate id domains.
func (r *recordAccessor[T, R]) Gid() Gid {
	return r.address.gid
}

// IsLocal reports whether this accessor references a record in this process, as opposed to one
// whose owner is some other worker.
func (r *recordAccessor[T, R]) IsLocal() bool {
	return r.address.IsLocal()
}

// Address returns the record's address.
func (r *recordAccessor[T, R]) Address() Address[T, R] {
	return r.address
}

// GlobalAddress returns an address other workers can interpret.
func (r *recordAccessor[T, R]) GlobalAddress() Address[T, R] {
	return r.backend.globalAddress(r.address)
}

// CypherID returns the id of this record as exposed to the query language.
func (r *recordAccessor[T, R]) CypherID() int64 {
	return r.backend.cypherID(r.address)
}

// Transaction returns the transaction this accessor operates under.
func (r *recordAccessor[T, R]) Transaction() *Transaction {
	return r.ga.txn
}

// Reconstruct re-resolves the old and new version pointers against the current transaction and
// command. It returns true when at least one version was found, meaning the accessor is usable.
func (r *recordAccessor[T, R]) Reconstruct() bool {
	if !r.address.IsLocal() {
		return false
	}

	r.oldRecord, r.newRecord = r.backend.setOldNew(r.address, r.ga.txn)
	if r.newRecord != nil {
		r.current = r.newRecord
	} else {
		r.current = r.oldRecord
	}
	return r.oldRecord != nil || r.newRecord != nil
}

// SwitchNew makes reads use the version modified by the current transaction and command, when
// one exists.
func (r *recordAccessor[T, R]) SwitchNew() {
	if r.newRecord == nil {
		// The update may have happened through a different accessor of the same record; check
		// with the version list before giving up.
		r.newRecord = r.backend.findNew(r.address, r.ga.txn)
	}
	if r.newRecord != nil {
		r.current = r.newRecord
	}
}

// SwitchOld makes reads use the latest version not touched by the current transaction. When the
// record was created by this very transaction there is no such version and the switch does
// nothing.
func (r *recordAccessor[T, R]) SwitchOld() {
	if r.oldRecord != nil {
		r.current = r.oldRecord
	}
}

// visibleTo reports whether the record exists for the governing transaction. With currentState
// set, this transaction's own deletions and creations count; without it only the committed
// state as of begin matters.
func (r *recordAccessor[T, R]) visibleTo(currentState bool) bool {
	t := r.ga.txn
	if r.oldRecord != nil && !(currentState && r.oldRecord.rec().isExpiredBy(t)) {
		return true
	}
	return currentState && r.newRecord != nil && !r.newRecord.rec().isExpiredBy(t)
}

// record returns the version reads should come from, resolving lazily when the accessor has not
// been reconstructed yet.
func (r *recordAccessor[T, R]) record() R {
	if r.current == nil {
		r.Reconstruct()
	}
	return r.current
}

// update ensures there is an updatable version in the version list and that the new pointer
// refers to it. Mutating a record deleted in the current transaction fails with
// ErrRecordDeleted; a record owned by another worker fails with ErrRemoteAccess.
func (r *recordAccessor[T, R]) update() (R, error) {
	var none R
	if !r.address.IsLocal() {
		return none, ErrRemoteAccess
	}

	t := r.ga.txn
	if t.finished {
		return none, ErrTransactionFinished
	}

	if r.newRecord != nil {
		if r.newRecord.rec().isExpiredBy(t) {
			return none, ErrRecordDeleted
		}
		r.current = r.newRecord
		return r.newRecord, nil
	}

	updated, err := r.address.local.update(t)
	if err != nil {
		return none, err
	}
	r.newRecord = updated
	r.current = updated
	return updated, nil
}

// PropsAt returns the value of the given property, or the null value when it is not set.
func (r *recordAccessor[T, R]) PropsAt(key PropertyID) PropertyValue {
	record := r.record()
	if record == nil {
		return NullValue()
	}
	value, ok := (*record.properties())[key]
	if !ok {
		return NullValue()
	}
	return value
}

// PropsSet sets a property on the record.
func (r *recordAccessor[T, R]) PropsSet(key PropertyID, value PropertyValue) error {
	record, err := r.update()
	if err != nil {
		return err
	}
	(*record.properties())[key] = value
	return r.backend.processDelta(newSetPropertyDelta(r.ga.txn, r.kind, r.address.gid, key, value))
}

// PropsErase removes a property from the record.
func (r *recordAccessor[T, R]) PropsErase(key PropertyID) error {
	record, err := r.update()
	if err != nil {
		return err
	}
	delete(*record.properties(), key)
	return r.backend.processDelta(newRemovePropertyDelta(r.ga.txn, r.kind, r.address.gid, key))
}

// Properties returns a copy of the record's properties.
func (r *recordAccessor[T, R]) Properties() PropertyMap {
	record := r.record()
	if record == nil {
		return PropertyMap{}
	}
	return record.properties().clone()
}
