package pb

import (
	"encoding/binary"
	"fmt"
)

const (
	// deltaHeaderSize is the fixed portion of an encoded Delta. The property value payload
	// follows the header and its length is the last header field.
	deltaHeaderSize = 0 + // Simply here to align the other items.
		1 + // Kind (uint8 - 1 byte)
		1 + // RecordKind (uint8 - 1 byte)
		8 + // TransactionID (uint64 - 8 bytes)
		8 + // Command (uint64 - 8 bytes)
		8 + // Gid (uint64 - 8 bytes)
		8 + // FromGid (uint64 - 8 bytes)
		8 + // ToGid (uint64 - 8 bytes)
		8 + // EdgeGid (uint64 - 8 bytes)
		4 + // NameID (uint32 - 4 bytes)
		4 // Value length (uint32 - 4 bytes)
)

type (
	// DeltaKind enumerates every logical state mutation the storage core can emit.
	DeltaKind uint8

	// RecordKind says whether a delta's subject gid names a vertex or an edge.
	RecordKind uint8

	// Delta is one record of a logical state mutation, emitted by a record accessor in
	// per-transaction program order. Which fields are meaningful depends on Kind; unused fields
	// are zero.
	Delta struct {
		Kind       DeltaKind
		RecordKind RecordKind

		TransactionID uint64
		Command       uint64

		// Gid is the subject of the mutation: the vertex or edge being created, changed or
		// deleted.
		Gid uint64

		// FromGid and ToGid carry an edge's endpoints for CreateEdge.
		FromGid uint64
		ToGid   uint64

		// EdgeGid carries the edge a vertex gained or lost for the adjacency kinds.
		EdgeGid uint64

		// NameID is the interned label, edge type or property id the mutation refers to.
		NameID uint32

		// Value holds the encoded property value for the property kinds.
		Value []byte
	}

	// DeltaSet represents a group of deltas appended to the delta log atomically.
	DeltaSet struct {
		Deltas []Delta
	}
)

const (
	DeltaCreateVertex DeltaKind = iota
	DeltaCreateEdge
	DeltaSetProperty
	DeltaRemoveProperty
	DeltaAddLabel
	DeltaRemoveLabel
	DeltaAddOutEdge
	DeltaAddInEdge
	DeltaRemoveEdge
	DeltaDeleteVertex
)

const (
	RecordVertex RecordKind = iota
	RecordEdge
)

// EncodedSize is the number of bytes the delta occupies once marshalled.
func (d *Delta) EncodedSize() int {
	return deltaHeaderSize + len(d.Value)
}

// MarshalEx encodes the delta into dst, which must be at least EncodedSize bytes long.
func (d *Delta) MarshalEx(dst []byte) error {
	if len(dst) < d.EncodedSize() {
		return fmt.Errorf(
			"cannot marshal Delta, buffer is too small. Need: %d Got: %d",
			d.EncodedSize(),
			len(dst),
		)
	}

	i := 0

	dst[i] = uint8(d.Kind)
	i++

	dst[i] = uint8(d.RecordKind)
	i++

	binary.BigEndian.PutUint64(dst[i:i+8], d.TransactionID)
	i += 8

	binary.BigEndian.PutUint64(dst[i:i+8], d.Command)
	i += 8

	binary.BigEndian.PutUint64(dst[i:i+8], d.Gid)
	i += 8

	binary.BigEndian.PutUint64(dst[i:i+8], d.FromGid)
	i += 8

	binary.BigEndian.PutUint64(dst[i:i+8], d.ToGid)
	i += 8

	binary.BigEndian.PutUint64(dst[i:i+8], d.EdgeGid)
	i += 8

	binary.BigEndian.PutUint32(dst[i:i+4], d.NameID)
	i += 4

	binary.BigEndian.PutUint32(dst[i:i+4], uint32(len(d.Value)))
	i += 4

	copy(dst[i:], d.Value)

	return nil
}

// Marshal encodes the delta into a freshly allocated buffer.
func (d *Delta) Marshal() []byte {
	buf := make([]byte, d.EncodedSize())
	_ = d.MarshalEx(buf)
	return buf
}

// Unmarshal decodes one delta from the front of src and returns the number of bytes consumed.
func (d *Delta) Unmarshal(src []byte) (int, error) {
	if len(src) < deltaHeaderSize {
		return 0, fmt.Errorf(
			"cannot unmarshal Delta, buffer is too small. Need: %d Got: %d",
			deltaHeaderSize,
			len(src),
		)
	}
	*d = Delta{}

	i := 0

	d.Kind = DeltaKind(src[i])
	i++

	d.RecordKind = RecordKind(src[i])
	i++

	d.TransactionID = binary.BigEndian.Uint64(src[i : i+8])
	i += 8

	d.Command = binary.BigEndian.Uint64(src[i : i+8])
	i += 8

	d.Gid = binary.BigEndian.Uint64(src[i : i+8])
	i += 8

	d.FromGid = binary.BigEndian.Uint64(src[i : i+8])
	i += 8

	d.ToGid = binary.BigEndian.Uint64(src[i : i+8])
	i += 8

	d.EdgeGid = binary.BigEndian.Uint64(src[i : i+8])
	i += 8

	d.NameID = binary.BigEndian.Uint32(src[i : i+4])
	i += 4

	valueLength := int(binary.BigEndian.Uint32(src[i : i+4]))
	i += 4

	if len(src) < i+valueLength {
		return 0, fmt.Errorf(
			"cannot unmarshal Delta value, buffer is too small. Need: %d Got: %d",
			i+valueLength,
			len(src),
		)
	}
	if valueLength > 0 {
		d.Value = make([]byte, valueLength)
		copy(d.Value, src[i:i+valueLength])
		i += valueLength
	}

	return i, nil
}

// EncodedSize is the number of bytes the whole set occupies once marshalled, including the count
// prefix.
func (ds *DeltaSet) EncodedSize() int {
	size := 4
	for i := range ds.Deltas {
		size += ds.Deltas[i].EncodedSize()
	}
	return size
}

// Marshal encodes the set with a 4 byte count prefix, so a reader knows how many deltas follow
// without any framing beyond the set itself.
func (ds *DeltaSet) Marshal() []byte {
	buf := make([]byte, ds.EncodedSize())

	binary.BigEndian.PutUint32(buf[0:4], uint32(len(ds.Deltas)))

	offset := 4
	for i := range ds.Deltas {
		// The only error the marshal can return is the destination being too small, and the
		// buffer was sized from the same deltas.
		_ = ds.Deltas[i].MarshalEx(buf[offset:])
		offset += ds.Deltas[i].EncodedSize()
	}

	return buf
}

// Unmarshal decodes a set previously produced by Marshal.
func (ds *DeltaSet) Unmarshal(src []byte) error {
	if len(src) < 4 {
		return fmt.Errorf("cannot unmarshal DeltaSet, missing count prefix")
	}

	count := int(binary.BigEndian.Uint32(src[0:4]))
	offset := 4

	ds.Deltas = make([]Delta, count)
	for i := 0; i < count; i++ {
		consumed, err := ds.Deltas[i].Unmarshal(src[offset:])
		if err != nil {
			return err
		}
		offset += consumed
	}

	return nil
}
