package memgraph

import "github.com/jbajic/memgraph/pb"

type (
	// EdgeAccessor is the handle through which a transaction reads and mutates one edge.
	EdgeAccessor struct {
		recordAccessor[Edge, *Edge]
	}
)

func newEdgeAccessor(address EdgeAddress, ga *GraphAccessor) *EdgeAccessor {
	return &EdgeAccessor{
		recordAccessor: newRecordAccessor[Edge, *Edge](
			address, ga, ga.edgeBackend, pb.RecordEdge,
		),
	}
}

// EdgeType returns the interned type of the edge.
func (e *EdgeAccessor) EdgeType() EdgeTypeID {
	record := e.record()
	if record == nil {
		return 0
	}
	return record.edgeType
}

// FromAddress returns the address of the edge's source vertex.
func (e *EdgeAccessor) FromAddress() VertexAddress {
	record := e.record()
	if record == nil {
		return VertexAddress{}
	}
	return record.from
}

// ToAddress returns the address of the edge's target vertex.
func (e *EdgeAccessor) ToAddress() VertexAddress {
	record := e.record()
	if record == nil {
		return VertexAddress{}
	}
	return record.to
}

// From returns an accessor for the edge's source vertex.
func (e *EdgeAccessor) From() *VertexAccessor {
	return newVertexAccessor(e.FromAddress(), e.ga)
}

// To returns an accessor for the edge's target vertex.
func (e *EdgeAccessor) To() *VertexAccessor {
	return newVertexAccessor(e.ToAddress(), e.ga)
}
