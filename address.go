package memgraph

import "github.com/jbajic/memgraph/pb"

type (
	// Address is a tagged reference to a record: either a pointer to an in-process version list,
	// or a (worker, gid) pair when the record lives on another node. Core algorithms branch only
	// on the local/remote tag.
	Address[T any, R recordPointer[T]] struct {
		local  *VersionList[T, R]
		worker WorkerID
		gid    Gid
	}

	// VertexAddress references a vertex record.
	VertexAddress = Address[Vertex, *Vertex]

	// EdgeAddress references an edge record.
	EdgeAddress = Address[Edge, *Edge]
)

func localAddress[T any, R recordPointer[T]](list *VersionList[T, R], worker WorkerID) Address[T, R] {
	return Address[T, R]{
		local:  list,
		worker: worker,
		gid:    list.gid,
	}
}

// RemoteVertexAddress builds the address of a vertex owned by another worker.
func RemoteVertexAddress(worker WorkerID, gid Gid) VertexAddress {
	return VertexAddress{worker: worker, gid: gid}
}

// RemoteEdgeAddress builds the address of an edge owned by another worker.
func RemoteEdgeAddress(worker WorkerID, gid Gid) EdgeAddress {
	return EdgeAddress{worker: worker, gid: gid}
}

// IsLocal reports whether the record lives in this process.
func (a Address[T, R]) IsLocal() bool {
	return a.local != nil
}

// Gid returns the stable identifier of the referenced record.
func (a Address[T, R]) Gid() Gid {
	return a.gid
}

// Worker returns the id of the worker owning the record.
func (a Address[T, R]) Worker() WorkerID {
	return a.worker
}

// Wire returns the serializable form of the address, for handing to another worker.
func (a Address[T, R]) Wire(kind pb.RecordKind) pb.RemoteAddress {
	return pb.RemoteAddress{
		RecordKind: kind,
		Worker:     uint16(a.worker),
		Gid:        uint64(a.gid),
	}
}
