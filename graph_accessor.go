package memgraph

import (
	"github.com/jbajic/memgraph/pb"
	"github.com/jbajic/memgraph/z"
)

type (
	// GraphAccessor is the view of the graph for one transaction. It creates and resolves
	// record accessors, maintains adjacency on edge creation and removal, and finalizes the
	// transaction. All methods must be called from the transaction's owning thread.
	GraphAccessor struct {
		db  *DB
		txn *Transaction

		vertexBackend recordBackend[Vertex, *Vertex]
		edgeBackend   recordBackend[Edge, *Edge]
	}

	// localVertexBackend and localEdgeBackend serve accessors whose records live in this
	// process. They hold no state of their own so one instance is shared by every accessor of
	// the graph accessor.
	localVertexBackend struct {
		ga *GraphAccessor
	}

	localEdgeBackend struct {
		ga *GraphAccessor
	}
)

// Access begins a new transaction and returns its view of the graph.
func (db *DB) Access() *GraphAccessor {
	ga := &GraphAccessor{
		db:  db,
		txn: db.engine.Begin(),
	}
	ga.vertexBackend = localVertexBackend{ga: ga}
	ga.edgeBackend = localEdgeBackend{ga: ga}
	return ga
}

// Transaction returns the transaction driving this accessor.
func (ga *GraphAccessor) Transaction() *Transaction {
	return ga.txn
}

// Advance makes the effects of this transaction's earlier commands visible to later reads
// within the same transaction.
func (ga *GraphAccessor) Advance() error {
	return ga.db.engine.Advance(ga.txn)
}

// Commit finalizes the transaction; see Engine.Commit for the conflict semantics.
func (ga *GraphAccessor) Commit() error {
	return ga.db.engine.Commit(ga.txn)
}

// Abort discards the transaction's effects.
func (ga *GraphAccessor) Abort() error {
	return ga.db.engine.Abort(ga.txn)
}

// CreateVertex creates a fresh vertex visible to this transaction and command.
func (ga *GraphAccessor) CreateVertex() (*VertexAccessor, error) {
	gid := ga.db.vertexGenerator.Next()
	list := newVertexList(gid)
	list.insert(newVertex(), ga.txn)

	// Gids are never reused, so the insert can only collide if the generator went backwards.
	z.AssertTrue(ga.db.vertices.InsertUnique(gid, list))
	ga.txn.addWrite(list.fingerprint)

	accessor := newVertexAccessor(localAddress(list, ga.db.workerID), ga)
	accessor.Reconstruct()
	if err := ga.vertexBackend.processDelta(newCreateVertexDelta(ga.txn, gid)); err != nil {
		return nil, err
	}
	return accessor, nil
}

// FindVertex resolves a vertex by gid. With currentState set the transaction's own changes
// count; otherwise only the committed state as of begin is considered.
func (ga *GraphAccessor) FindVertex(gid Gid, currentState bool) (*VertexAccessor, bool) {
	list := ga.db.vertices.Find(gid)
	if list == nil {
		return nil, false
	}
	accessor := newVertexAccessor(localAddress(list, ga.db.workerID), ga)
	if !accessor.Reconstruct() || !accessor.visibleTo(currentState) {
		return nil, false
	}
	if !currentState {
		accessor.SwitchOld()
	}
	return accessor, true
}

// FindEdge resolves an edge by gid, with the same visibility semantics as FindVertex.
func (ga *GraphAccessor) FindEdge(gid Gid, currentState bool) (*EdgeAccessor, bool) {
	list := ga.db.edges.Find(gid)
	if list == nil {
		return nil, false
	}
	accessor := newEdgeAccessor(localAddress(list, ga.db.workerID), ga)
	if !accessor.Reconstruct() || !accessor.visibleTo(currentState) {
		return nil, false
	}
	if !currentState {
		accessor.SwitchOld()
	}
	return accessor, true
}

// CreateEdge creates an edge between two local vertices, updating both adjacencies.
func (ga *GraphAccessor) CreateEdge(
	from, to *VertexAccessor,
	edgeType EdgeTypeID,
) (*EdgeAccessor, error) {
	if !from.IsLocal() || !to.IsLocal() {
		return nil, ErrRemoteAccess
	}

	gid := ga.db.edgeGenerator.Next()
	list := newEdgeList(gid)
	list.insert(newEdge(from.address, to.address, edgeType), ga.txn)

	z.AssertTrue(ga.db.edges.InsertUnique(gid, list))
	ga.txn.addWrite(list.fingerprint)

	edgeAddress := localAddress(list, ga.db.workerID)
	entry := EdgeEntry{Edge: edgeAddress, EdgeType: edgeType}

	fromRecord, err := from.update()
	if err != nil {
		return nil, err
	}
	outEntry := entry
	outEntry.Vertex = to.address
	fromRecord.out = append(fromRecord.out, outEntry)

	toRecord, err := to.update()
	if err != nil {
		return nil, err
	}
	inEntry := entry
	inEntry.Vertex = from.address
	toRecord.in = append(toRecord.in, inEntry)

	accessor := newEdgeAccessor(edgeAddress, ga)
	accessor.Reconstruct()

	for _, delta := range []pb.Delta{
		newCreateEdgeDelta(ga.txn, gid, from.Gid(), to.Gid(), edgeType),
		newAddOutEdgeDelta(ga.txn, from.Gid(), gid, to.Gid(), edgeType),
		newAddInEdgeDelta(ga.txn, to.Gid(), gid, from.Gid(), edgeType),
	} {
		if err := ga.edgeBackend.processDelta(delta); err != nil {
			return nil, err
		}
	}
	return accessor, nil
}

// RemoveEdge deletes an edge and detaches it from both endpoints.
func (ga *GraphAccessor) RemoveEdge(edge *EdgeAccessor) error {
	if !edge.IsLocal() {
		return ErrRemoteAccess
	}

	from := edge.From()
	to := edge.To()
	if !from.IsLocal() || !to.IsLocal() {
		return ErrRemoteAccess
	}

	fromRecord, err := from.update()
	if err != nil {
		return err
	}
	fromRecord.out = removeEdgeEntries(fromRecord.out, edge.Gid())

	toRecord, err := to.update()
	if err != nil {
		return err
	}
	toRecord.in = removeEdgeEntries(toRecord.in, edge.Gid())

	if err := edge.address.local.remove(ga.txn); err != nil {
		return err
	}
	return ga.edgeBackend.processDelta(newRemoveEdgeDelta(ga.txn, edge.Gid()))
}

// RemoveVertex deletes a vertex that has no edges. A vertex with edges fails with
// ErrVertexHasEdges; use DetachRemoveVertex for those.
func (ga *GraphAccessor) RemoveVertex(vertex *VertexAccessor) error {
	if !vertex.IsLocal() {
		return ErrRemoteAccess
	}

	vertex.SwitchNew()
	record := vertex.record()
	if record == nil {
		return ErrRecordDeleted
	}
	if len(record.out) > 0 || len(record.in) > 0 {
		return ErrVertexHasEdges
	}

	if err := vertex.address.local.remove(ga.txn); err != nil {
		return err
	}
	return ga.vertexBackend.processDelta(newDeleteVertexDelta(ga.txn, vertex.Gid()))
}

// DetachRemoveVertex deletes a vertex together with every edge attached to it.
func (ga *GraphAccessor) DetachRemoveVertex(vertex *VertexAccessor) error {
	if !vertex.IsLocal() {
		return ErrRemoteAccess
	}

	vertex.SwitchNew()
	record := vertex.record()
	if record == nil {
		return ErrRecordDeleted
	}

	// A self loop appears in both adjacencies; remove each edge exactly once.
	removed := map[Gid]struct{}{}
	entries := append(append([]EdgeEntry(nil), record.out...), record.in...)
	for _, entry := range entries {
		if _, done := removed[entry.Edge.gid]; done {
			continue
		}
		removed[entry.Edge.gid] = struct{}{}

		edge := newEdgeAccessor(entry.Edge, ga)
		if !edge.Reconstruct() {
			continue
		}
		if err := ga.RemoveEdge(edge); err != nil {
			return err
		}
	}

	if err := vertex.address.local.remove(ga.txn); err != nil {
		return err
	}
	return ga.vertexBackend.processDelta(newDeleteVertexDelta(ga.txn, vertex.Gid()))
}

// Vertices walks every vertex visible to this transaction in ascending gid order, stopping
// early when fn returns false.
func (ga *GraphAccessor) Vertices(currentState bool, fn func(*VertexAccessor) bool) {
	ga.db.vertices.Iterate(func(gid Gid, list *VertexList) bool {
		accessor := newVertexAccessor(localAddress(list, ga.db.workerID), ga)
		if !accessor.Reconstruct() || !accessor.visibleTo(currentState) {
			return true
		}
		if !currentState {
			accessor.SwitchOld()
		}
		return fn(accessor)
	})
}

// Edges walks every edge visible to this transaction in ascending gid order, stopping early
// when fn returns false.
func (ga *GraphAccessor) Edges(currentState bool, fn func(*EdgeAccessor) bool) {
	ga.db.edges.Iterate(func(gid Gid, list *EdgeList) bool {
		accessor := newEdgeAccessor(localAddress(list, ga.db.workerID), ga)
		if !accessor.Reconstruct() || !accessor.visibleTo(currentState) {
			return true
		}
		if !currentState {
			accessor.SwitchOld()
		}
		return fn(accessor)
	})
}

// Label interns a label name.
func (ga *GraphAccessor) Label(name string) (LabelID, error) {
	id, err := ga.db.mapper.ValueToID(IdKindLabel, name)
	return LabelID(id), err
}

// LabelName resolves an interned label id back to its name.
func (ga *GraphAccessor) LabelName(id LabelID) (string, error) {
	return ga.db.mapper.IDToValue(IdKindLabel, uint32(id))
}

// EdgeType interns an edge type name.
func (ga *GraphAccessor) EdgeType(name string) (EdgeTypeID, error) {
	id, err := ga.db.mapper.ValueToID(IdKindEdgeType, name)
	return EdgeTypeID(id), err
}

// EdgeTypeName resolves an interned edge type id back to its name.
func (ga *GraphAccessor) EdgeTypeName(id EdgeTypeID) (string, error) {
	return ga.db.mapper.IDToValue(IdKindEdgeType, uint32(id))
}

// Property interns a property name.
func (ga *GraphAccessor) Property(name string) (PropertyID, error) {
	id, err := ga.db.mapper.ValueToID(IdKindProperty, name)
	return PropertyID(id), err
}

// PropertyName resolves an interned property id back to its name.
func (ga *GraphAccessor) PropertyName(id PropertyID) (string, error) {
	return ga.db.mapper.IDToValue(IdKindProperty, uint32(id))
}

func (b localVertexBackend) globalAddress(address VertexAddress) VertexAddress {
	if address.IsLocal() {
		return RemoteVertexAddress(b.ga.db.workerID, address.gid)
	}
	return address
}

func (b localVertexBackend) setOldNew(address VertexAddress, t *Transaction) (*Vertex, *Vertex) {
	t.addRead(address.local.fingerprint)
	return address.local.findSetOldNew(t)
}

func (b localVertexBackend) findNew(address VertexAddress, t *Transaction) *Vertex {
	return address.local.findNew(t)
}

func (b localVertexBackend) processDelta(delta pb.Delta) error {
	b.ga.db.metrics.DeltasEmitted.Inc()
	return b.ga.db.sink.Emit(delta)
}

func (b localVertexBackend) cypherID(address VertexAddress) int64 {
	return int64(address.gid)
}

func (b localEdgeBackend) globalAddress(address EdgeAddress) EdgeAddress {
	if address.IsLocal() {
		return RemoteEdgeAddress(b.ga.db.workerID, address.gid)
	}
	return address
}

func (b localEdgeBackend) setOldNew(address EdgeAddress, t *Transaction) (*Edge, *Edge) {
	t.addRead(address.local.fingerprint)
	return address.local.findSetOldNew(t)
}

func (b localEdgeBackend) findNew(address EdgeAddress, t *Transaction) *Edge {
	return address.local.findNew(t)
}

func (b localEdgeBackend) processDelta(delta pb.Delta) error {
	b.ga.db.metrics.DeltasEmitted.Inc()
	return b.ga.db.sink.Emit(delta)
}

func (b localEdgeBackend) cypherID(address EdgeAddress) int64 {
	return int64(address.gid)
}
