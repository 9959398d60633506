package memgraph

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/dgryski/go-farm"
)

type (
	// VersionList owns the chain of versions of one logical record, newest first. The head is
	// swapped atomically so readers traverse without any lock; writers and the garbage
	// collector serialize on the list lock. At most one active transaction may hold an
	// unpublished update in the list at any instant.
	VersionList[T any, R recordPointer[T]] struct {
		// lock serializes update, remove and the garbage collection sweep.
		lock sync.Mutex

		head atomic.Pointer[T]

		gid Gid

		// fingerprint identifies this list in transaction read and write sets.
		fingerprint uint64
	}

	// VertexList is the version list of one vertex.
	VertexList = VersionList[Vertex, *Vertex]

	// EdgeList is the version list of one edge.
	EdgeList = VersionList[Edge, *Edge]
)

func newVersionList[T any, R recordPointer[T]](gid Gid, kind uint8) *VersionList[T, R] {
	var buf [9]byte
	buf[0] = kind
	binary.BigEndian.PutUint64(buf[1:], uint64(gid))

	return &VersionList[T, R]{
		gid:         gid,
		fingerprint: farm.Fingerprint64(buf[:]),
	}
}

func newVertexList(gid Gid) *VertexList {
	return newVersionList[Vertex, *Vertex](gid, 0)
}

func newEdgeList(gid Gid) *EdgeList {
	return newVersionList[Edge, *Edge](gid, 1)
}

// Gid returns the stable identifier of the logical record this list holds.
func (l *VersionList[T, R]) Gid() Gid {
	return l.gid
}

// insert publishes the first version of a brand new record, created by t. The list must be
// empty.
func (l *VersionList[T, R]) insert(record R, t *Transaction) {
	fields := record.rec()
	fields.createdBy = t.id
	fields.createdCmd = t.cmd
	l.head.Store((*T)(record))
}

// find returns the version visible to t, or nil when the record is logically absent for t. It
// traverses the chain newest first and never blocks.
func (l *VersionList[T, R]) find(t *Transaction) R {
	for version := l.head.Load(); version != nil; version = R(version).rec().older.Load() {
		if R(version).rec().isVisible(t) {
			return R(version)
		}
	}
	var none R
	return none
}

// findNew returns the version t itself produced in this list, if any.
func (l *VersionList[T, R]) findNew(t *Transaction) R {
	for version := l.head.Load(); version != nil; version = R(version).rec().older.Load() {
		fields := R(version).rec()
		if fields.createdBy == t.id && fields.createdCmd <= t.cmd {
			return R(version)
		}
	}
	var none R
	return none
}

// findSetOldNew resolves the two versions an accessor cares about: old, the latest version
// visible before t's writes, and new, the version t produced itself.
func (l *VersionList[T, R]) findSetOldNew(t *Transaction) (oldRecord, newRecord R) {
	version := l.head.Load()

	for version != nil {
		fields := R(version).rec()
		if fields.createdBy == t.id {
			if fields.createdCmd <= t.cmd && newRecord == nil {
				newRecord = R(version)
			}
			version = fields.older.Load()
			continue
		}
		if t.canSeeCommitted(fields.createdBy) {
			// The newest version whose creation predates t. Whether it still counts depends on
			// its expiration; if a transaction in t's view already expired it, the record was
			// deleted before t began and everything older is gone too.
			if fields.isCommittedVisible(t) {
				oldRecord = R(version)
			}
			return oldRecord, newRecord
		}
		version = fields.older.Load()
	}

	return oldRecord, newRecord
}

// update produces an updatable successor of the version visible to t: the tip is cloned, the
// clone stamped with t, and the previous tip marked expired by t. When another transaction
// already holds an uncommitted version in this list, or committed one outside t's view, update
// fails fast with ErrConflict instead of waiting.
func (l *VersionList[T, R]) update(t *Transaction) (R, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	visible, err := l.lockedWritableVersion(t)
	if err != nil {
		var none R
		return none, err
	}
	if fields := visible.rec(); fields.createdBy == t.id {
		// t already has its own version here; keep mutating it in place.
		return visible, nil
	}

	successor := visible.cloneData()
	successorFields := R(successor).rec()
	successorFields.createdBy = t.id
	successorFields.createdCmd = t.cmd
	successorFields.older.Store((*T)(visible))

	visibleFields := visible.rec()
	visibleFields.expire(t)
	visibleFields.newer.Store(successor)

	l.head.Store(successor)
	t.addWrite(l.fingerprint)

	return R(successor), nil
}

// remove marks the version visible to t as expired without producing a successor. The
// preconditions are the same as for update.
func (l *VersionList[T, R]) remove(t *Transaction) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	visible, err := l.lockedWritableVersion(t)
	if err != nil {
		return err
	}

	visible.rec().expire(t)
	t.addWrite(l.fingerprint)

	return nil
}

// lockedWritableVersion walks the chain and returns the version t may base a write on,
// enforcing the single-writer rule. The list lock must be held.
func (l *VersionList[T, R]) lockedWritableVersion(t *Transaction) (R, error) {
	var none R
	for version := l.head.Load(); version != nil; version = R(version).rec().older.Load() {
		fields := R(version).rec()

		if fields.createdBy == t.id {
			if fields.createdCmd > t.cmd {
				// Produced by a later command of this very transaction; the accessor state is
				// stale.
				return none, ErrConflict
			}
			if fields.isExpiredBy(t) {
				return none, ErrRecordDeleted
			}
			return R(version), nil
		}

		if t.engine.IsAborted(fields.createdBy) {
			// Never published; skip over the debris.
			continue
		}
		if t.engine.IsActive(fields.createdBy) {
			// Another transaction holds an uncommitted version here. Fail fast rather than
			// wait; the no-wait discipline keeps the wait graph acyclic.
			return none, ErrConflict
		}

		// Committed creator. If the commit is outside t's view the record moved on since t
		// began; first updater wins.
		if !t.canSeeCommitted(fields.createdBy) {
			return none, ErrConflict
		}

		expiredBy := TransactionID(fields.expiredBy.Load())
		switch {
		case expiredBy == 0:
			return R(version), nil
		case expiredBy == t.id:
			return none, ErrRecordDeleted
		case t.engine.IsAborted(expiredBy):
			// The expirer never made it; its mark will be overwritten by ours.
			return R(version), nil
		case t.canSeeCommitted(expiredBy):
			// Deleted before t began.
			return none, ErrRecordDeleted
		default:
			// An active or freshly committed expirer we cannot see.
			return none, ErrConflict
		}
	}

	return none, ErrRecordDeleted
}

// gcSweep unlinks every version no transaction with an id at or above low could ever observe.
// It returns the number of versions cut loose and whether the whole list is dead and should be
// dropped from the index. Readers racing with the sweep at worst traverse versions that are
// invisible to them anyway.
func (l *VersionList[T, R]) gcSweep(low TransactionID, engine *Engine) (collected int, dead bool) {
	l.lock.Lock()
	defer l.lock.Unlock()

	// First shed aborted versions sitting at the head; they are invisible to everyone.
	head := l.head.Load()
	for head != nil && engine.IsAborted(R(head).rec().createdBy) {
		head = R(head).rec().older.Load()
		collected++
	}
	if collected > 0 {
		l.head.Store(head)
	}
	if head == nil {
		return collected, true
	}

	// Walk toward the tail looking for the baseline: the newest version whose creation is
	// committed below the horizon, and therefore visible to every current and future
	// transaction. Everything older than the baseline is unreachable.
	var baseline *T
	for version := head; version != nil; version = R(version).rec().older.Load() {
		fields := R(version).rec()
		if engine.IsCommitted(fields.createdBy) && fields.createdBy < low {
			baseline = version
			break
		}
	}
	if baseline == nil {
		return collected, false
	}

	baselineFields := R(baseline).rec()
	for version := baselineFields.older.Load(); version != nil; version = R(version).rec().older.Load() {
		collected++
	}
	baselineFields.older.Store(nil)

	// The whole list is dead once even the baseline is expired below the horizon and nothing
	// newer survives.
	if baseline == head {
		expiredBy := TransactionID(baselineFields.expiredBy.Load())
		if expiredBy != 0 && engine.IsCommitted(expiredBy) && expiredBy < low {
			l.head.Store(nil)
			return collected + 1, true
		}
	}

	return collected, false
}
