package memgraph

type (
	// EdgeEntry is one element of a vertex's adjacency: the edge itself, the vertex on the other
	// side and the edge's type, kept together so traversals can filter by type or destination
	// without touching the edge record.
	EdgeEntry struct {
		Edge     EdgeAddress
		Vertex   VertexAddress
		EdgeType EdgeTypeID
	}

	// Vertex is one version of a vertex record: labels, properties and both adjacency
	// collections. The embedded mvcc bookkeeping places it in its version chain.
	Vertex struct {
		mvccFields[Vertex]

		labels []LabelID
		props  PropertyMap

		out []EdgeEntry
		in  []EdgeEntry
	}
)

func newVertex() *Vertex {
	return &Vertex{
		props: PropertyMap{},
	}
}

func (v *Vertex) rec() *mvccFields[Vertex] {
	return &v.mvccFields
}

// cloneData returns a new version carrying a copy of this vertex's payload and none of its mvcc
// bookkeeping.
func (v *Vertex) cloneData() *Vertex {
	clone := &Vertex{
		labels: append([]LabelID(nil), v.labels...),
		props:  v.props.clone(),
		out:    append([]EdgeEntry(nil), v.out...),
		in:     append([]EdgeEntry(nil), v.in...),
	}
	return clone
}

func (v *Vertex) properties() *PropertyMap {
	return &v.props
}

func (v *Vertex) hasLabel(label LabelID) bool {
	for _, existing := range v.labels {
		if existing == label {
			return true
		}
	}
	return false
}

// removeEdgeEntries filters an adjacency slice in place; the caller must own the slice, which
// holds for a version produced by update.
func removeEdgeEntries(entries []EdgeEntry, edge Gid) []EdgeEntry {
	filtered := entries[:0]
	for _, entry := range entries {
		if entry.Edge.gid != edge {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}
