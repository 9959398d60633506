package memgraph

import (
	"sync"

	"github.com/jbajic/memgraph/options"
	"github.com/jbajic/memgraph/pb"
)

type (
	// DeltaSink receives one record of every logical state mutation. See options.DeltaSink.
	DeltaSink = options.DeltaSink

	// MemoryDeltaSink buffers deltas in memory, in the order they were emitted. Useful for
	// tests and as a staging buffer for replication.
	MemoryDeltaSink struct {
		lock   sync.Mutex
		deltas []pb.Delta
	}

	// discardSink drops everything; the sink of an in-memory instance with no override.
	discardSink struct{}
)

// NewMemoryDeltaSink creates an empty in-memory sink.
func NewMemoryDeltaSink() *MemoryDeltaSink {
	return &MemoryDeltaSink{}
}

// Emit appends the delta to the buffer.
func (s *MemoryDeltaSink) Emit(delta pb.Delta) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.deltas = append(s.deltas, delta)
	return nil
}

// Deltas returns a copy of everything emitted so far.
func (s *MemoryDeltaSink) Deltas() []pb.Delta {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]pb.Delta(nil), s.deltas...)
}

// Reset drops the buffered deltas.
func (s *MemoryDeltaSink) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.deltas = nil
}

func (discardSink) Emit(delta pb.Delta) error {
	return nil
}

// newDelta stamps a delta with the emitting transaction.
func newDelta(kind pb.DeltaKind, recordKind pb.RecordKind, t *Transaction, gid Gid) pb.Delta {
	return pb.Delta{
		Kind:          kind,
		RecordKind:    recordKind,
		TransactionID: uint64(t.id),
		Command:       uint64(t.cmd),
		Gid:           uint64(gid),
	}
}

func newCreateVertexDelta(t *Transaction, gid Gid) pb.Delta {
	return newDelta(pb.DeltaCreateVertex, pb.RecordVertex, t, gid)
}

func newCreateEdgeDelta(t *Transaction, edge, from, to Gid, edgeType EdgeTypeID) pb.Delta {
	delta := newDelta(pb.DeltaCreateEdge, pb.RecordEdge, t, edge)
	delta.FromGid = uint64(from)
	delta.ToGid = uint64(to)
	delta.NameID = uint32(edgeType)
	return delta
}

func newSetPropertyDelta(
	t *Transaction,
	recordKind pb.RecordKind,
	gid Gid,
	property PropertyID,
	value PropertyValue,
) pb.Delta {
	delta := newDelta(pb.DeltaSetProperty, recordKind, t, gid)
	delta.NameID = uint32(property)
	delta.Value = value.marshal()
	return delta
}

func newRemovePropertyDelta(
	t *Transaction,
	recordKind pb.RecordKind,
	gid Gid,
	property PropertyID,
) pb.Delta {
	delta := newDelta(pb.DeltaRemoveProperty, recordKind, t, gid)
	delta.NameID = uint32(property)
	return delta
}

func newAddLabelDelta(t *Transaction, gid Gid, label LabelID) pb.Delta {
	delta := newDelta(pb.DeltaAddLabel, pb.RecordVertex, t, gid)
	delta.NameID = uint32(label)
	return delta
}

func newRemoveLabelDelta(t *Transaction, gid Gid, label LabelID) pb.Delta {
	delta := newDelta(pb.DeltaRemoveLabel, pb.RecordVertex, t, gid)
	delta.NameID = uint32(label)
	return delta
}

func newAddOutEdgeDelta(t *Transaction, vertex, edge, to Gid, edgeType EdgeTypeID) pb.Delta {
	delta := newDelta(pb.DeltaAddOutEdge, pb.RecordVertex, t, vertex)
	delta.EdgeGid = uint64(edge)
	delta.ToGid = uint64(to)
	delta.NameID = uint32(edgeType)
	return delta
}

func newAddInEdgeDelta(t *Transaction, vertex, edge, from Gid, edgeType EdgeTypeID) pb.Delta {
	delta := newDelta(pb.DeltaAddInEdge, pb.RecordVertex, t, vertex)
	delta.EdgeGid = uint64(edge)
	delta.FromGid = uint64(from)
	delta.NameID = uint32(edgeType)
	return delta
}

func newRemoveEdgeDelta(t *Transaction, edge Gid) pb.Delta {
	return newDelta(pb.DeltaRemoveEdge, pb.RecordEdge, t, edge)
}

func newDeleteVertexDelta(t *Transaction, gid Gid) pb.Delta {
	return newDelta(pb.DeltaDeleteVertex, pb.RecordVertex, t, gid)
}
