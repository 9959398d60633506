package mem

import (
	"math"
	"unsafe"

	"github.com/pkg/errors"
)

const (
	// monotonicGrowthFactor is the ratio between successive buffer sizes.
	monotonicGrowthFactor = 1.34
)

type (
	// MonotonicBufferResource allocates from an owned chain of geometrically growing buffers.
	// Deallocate is a no-op; the only way memory comes back is Release, which frees every buffer
	// at once. Intended for scratch allocations whose lifetime equals the surrounding operation.
	MonotonicBufferResource struct {
		memory MemoryResource

		currentBuffer  *monotonicBuffer
		initialSize    uintptr
		nextBufferSize uintptr
		allocated      uintptr
	}

	monotonicBuffer struct {
		next     *monotonicBuffer
		data     unsafe.Pointer
		capacity uintptr
	}
)

// NewMonotonicResource creates a monotonic resource whose first buffer will hold initialSize
// bytes, served from the process heap resource.
func NewMonotonicResource(initialSize uintptr) *MonotonicBufferResource {
	return NewMonotonicResourceWith(initialSize, HeapResource())
}

// NewMonotonicResourceWith creates a monotonic resource served from the given upstream.
func NewMonotonicResourceWith(initialSize uintptr, memory MemoryResource) *MonotonicBufferResource {
	return &MonotonicBufferResource{
		memory:      memory,
		initialSize: initialSize,
	}
}

// growMonotonicBuffer returns the next buffer size, clamped so the multiplication can never
// overflow.
func growMonotonicBuffer(currentSize, maxSize uintptr) uintptr {
	nextSize := float64(currentSize) * monotonicGrowthFactor
	if nextSize >= float64(maxSize) {
		return maxSize
	}
	return uintptr(math.Ceil(nextSize))
}

// Allocate returns bytes of memory aligned to alignment from the current buffer, pushing a new
// buffer onto the chain when the current one cannot fit the request.
func (m *MonotonicBufferResource) Allocate(bytes, alignment uintptr) (unsafe.Pointer, error) {
	if alignment > maxNativeAlignment {
		return nil, errors.Wrap(ErrBadAlloc, "alignment greater than the native maximum is unsupported")
	}
	if !validAlignment(alignment) {
		return nil, errors.Wrap(ErrBadAlloc, "alignment must be a power of two")
	}
	if bytes == 0 {
		return nil, errors.Wrap(ErrBadAlloc, "zero-sized allocation")
	}

	if m.currentBuffer == nil {
		if err := m.pushBuffer(m.initialSize, bytes); err != nil {
			return nil, err
		}
	}

	base := uintptr(m.currentBuffer.data)
	head := base + m.allocated
	aligned := alignUp(head, alignment)
	if aligned < head {
		return nil, errors.Wrap(ErrBadAlloc, "allocation alignment overflow")
	}
	if aligned+bytes < aligned {
		return nil, errors.Wrap(ErrBadAlloc, "allocation size overflow")
	}

	if aligned+bytes > base+m.currentBuffer.capacity {
		// Not enough room, so push a new buffer. Upstream allocations are aligned to the native
		// maximum, which covers every alignment we accept, so the fresh buffer start is usable
		// directly.
		if err := m.pushBuffer(m.nextBufferSize, bytes); err != nil {
			return nil, err
		}
		base = uintptr(m.currentBuffer.data)
		aligned = base
	}

	m.allocated = aligned + bytes - base
	return unsafe.Pointer(aligned), nil
}

// Deallocate is a no-op: monotonic memory only comes back through Release.
func (m *MonotonicBufferResource) Deallocate(p unsafe.Pointer, bytes, alignment uintptr) error {
	return nil
}

// Release frees every buffer in the chain and resets the resource to its initial state.
func (m *MonotonicBufferResource) Release() {
	for buffer := m.currentBuffer; buffer != nil; buffer = buffer.next {
		_ = m.memory.Deallocate(buffer.data, buffer.capacity, maxNativeAlignment)
	}
	m.currentBuffer = nil
	m.allocated = 0
	m.nextBufferSize = 0
}

func (m *MonotonicBufferResource) pushBuffer(size, bytes uintptr) error {
	// Make sure the requested bytes fit even when they exceed the scheduled buffer size.
	capacity := size
	if bytes > capacity {
		capacity = bytes
	}
	if capacity == 0 {
		return errors.Wrap(ErrBadAlloc, "monotonic resource has no initial size")
	}

	data, err := m.memory.Allocate(capacity, maxNativeAlignment)
	if err != nil {
		return err
	}

	m.currentBuffer = &monotonicBuffer{
		next:     m.currentBuffer,
		data:     data,
		capacity: capacity,
	}
	m.allocated = 0
	m.nextBufferSize = growMonotonicBuffer(capacity, ^uintptr(0)>>1)
	return nil
}

func alignUp(p, alignment uintptr) uintptr {
	return (p + alignment - 1) &^ (alignment - 1)
}
