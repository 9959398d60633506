package memgraph

type (
	// Edge is one version of an edge record: the addresses of its endpoints, its type and its
	// properties. The embedded mvcc bookkeeping places it in its version chain.
	Edge struct {
		mvccFields[Edge]

		from VertexAddress
		to   VertexAddress

		edgeType EdgeTypeID
		props    PropertyMap
	}
)

func newEdge(from, to VertexAddress, edgeType EdgeTypeID) *Edge {
	return &Edge{
		from:     from,
		to:       to,
		edgeType: edgeType,
		props:    PropertyMap{},
	}
}

func (e *Edge) rec() *mvccFields[Edge] {
	return &e.mvccFields
}

// cloneData returns a new version carrying a copy of this edge's payload and none of its mvcc
// bookkeeping.
func (e *Edge) cloneData() *Edge {
	return &Edge{
		from:     e.from,
		to:       e.to,
		edgeType: e.edgeType,
		props:    e.props.clone(),
	}
}

func (e *Edge) properties() *PropertyMap {
	return &e.props
}
