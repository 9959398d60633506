package pb

import (
	"encoding/binary"
	"fmt"
)

const (
	// RemoteAddressSize is the static encoded size of a RemoteAddress.
	RemoteAddressSize = 0 + // Simply here to align the other items.
		1 + // RecordKind (uint8 - 1 byte)
		2 + // Worker (uint16 - 2 bytes)
		8 // Gid (uint64 - 8 bytes)
)

type (
	// RemoteAddress is the wire form of a record address whose owner is another worker: the pair
	// of the owning worker and the record's stable identifier.
	RemoteAddress struct {
		RecordKind RecordKind
		Worker     uint16
		Gid        uint64
	}
)

// MarshalEx encodes the address into dst, which must be at least RemoteAddressSize bytes long.
func (a *RemoteAddress) MarshalEx(dst []byte) error {
	if len(dst) < RemoteAddressSize {
		return fmt.Errorf(
			"cannot marshal RemoteAddress, buffer is too small. Need: %d Got: %d",
			RemoteAddressSize,
			len(dst),
		)
	}

	i := 0

	dst[i] = uint8(a.RecordKind)
	i++

	binary.BigEndian.PutUint16(dst[i:i+2], a.Worker)
	i += 2

	binary.BigEndian.PutUint64(dst[i:i+8], a.Gid)

	return nil
}

// Marshal encodes the address into a freshly allocated buffer.
func (a *RemoteAddress) Marshal() []byte {
	buf := make([]byte, RemoteAddressSize)
	_ = a.MarshalEx(buf)
	return buf
}

// Unmarshal decodes the address from src.
func (a *RemoteAddress) Unmarshal(src []byte) error {
	if len(src) < RemoteAddressSize {
		return fmt.Errorf(
			"cannot unmarshal RemoteAddress, buffer is too small. Need: %d Got: %d",
			RemoteAddressSize,
			len(src),
		)
	}
	*a = RemoteAddress{}

	i := 0

	a.RecordKind = RecordKind(src[i])
	i++

	a.Worker = binary.BigEndian.Uint16(src[i : i+2])
	i += 2

	a.Gid = binary.BigEndian.Uint64(src[i : i+8])

	return nil
}
