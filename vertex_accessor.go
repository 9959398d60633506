package memgraph

import "github.com/jbajic/memgraph/pb"

type (
	// VertexAccessor is the handle through which a transaction reads and mutates one vertex.
	VertexAccessor struct {
		recordAccessor[Vertex, *Vertex]
	}
)

func newVertexAccessor(address VertexAddress, ga *GraphAccessor) *VertexAccessor {
	return &VertexAccessor{
		recordAccessor: newRecordAccessor[Vertex, *Vertex](
			address, ga, ga.vertexBackend, pb.RecordVertex,
		),
	}
}

// Labels returns a copy of the vertex's labels.
func (v *VertexAccessor) Labels() []LabelID {
	record := v.record()
	if record == nil {
		return nil
	}
	return append([]LabelID(nil), record.labels...)
}

// HasLabel reports whether the vertex carries the label.
func (v *VertexAccessor) HasLabel(label LabelID) bool {
	record := v.record()
	return record != nil && record.hasLabel(label)
}

// AddLabel adds the label to the vertex. Adding a label the vertex already has is a no-op.
func (v *VertexAccessor) AddLabel(label LabelID) error {
	record, err := v.update()
	if err != nil {
		return err
	}
	if record.hasLabel(label) {
		return nil
	}
	record.labels = append(record.labels, label)
	return v.backend.processDelta(newAddLabelDelta(v.ga.txn, v.address.gid, label))
}

// RemoveLabel removes the label from the vertex. Removing an absent label is a no-op.
func (v *VertexAccessor) RemoveLabel(label LabelID) error {
	record, err := v.update()
	if err != nil {
		return err
	}
	if !record.hasLabel(label) {
		return nil
	}
	filtered := record.labels[:0]
	for _, existing := range record.labels {
		if existing != label {
			filtered = append(filtered, existing)
		}
	}
	record.labels = filtered
	return v.backend.processDelta(newRemoveLabelDelta(v.ga.txn, v.address.gid, label))
}

// OutEdges returns a copy of the vertex's outgoing adjacency.
func (v *VertexAccessor) OutEdges() []EdgeEntry {
	record := v.record()
	if record == nil {
		return nil
	}
	return append([]EdgeEntry(nil), record.out...)
}

// InEdges returns a copy of the vertex's incoming adjacency.
func (v *VertexAccessor) InEdges() []EdgeEntry {
	record := v.record()
	if record == nil {
		return nil
	}
	return append([]EdgeEntry(nil), record.in...)
}

// OutDegree returns the number of outgoing edges.
func (v *VertexAccessor) OutDegree() int {
	record := v.record()
	if record == nil {
		return 0
	}
	return len(record.out)
}

// InDegree returns the number of incoming edges.
func (v *VertexAccessor) InDegree() int {
	record := v.record()
	if record == nil {
		return 0
	}
	return len(record.in)
}
