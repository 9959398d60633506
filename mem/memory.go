// Package mem provides the allocator substrate for the storage engine: composable memory
// resources with explicit lifetimes, used for per-transaction arenas and short-lived scratch
// state where Go's garbage collector would be the wrong tool.
package mem

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

const (
	// maxNativeAlignment is the strictest alignment the monotonic resource honors: it aligns its
	// upstream buffers to it and rejects requests above it with ErrBadAlloc. The pool and heap
	// resources accept larger power-of-two alignments.
	maxNativeAlignment uintptr = 16
)

var (
	// ErrBadAlloc is returned for any allocation failure: out of memory, an unsupported
	// alignment, or arithmetic overflow of the requested size.
	ErrBadAlloc = errors.New("bad alloc")
)

type (
	// MemoryResource hands out raw memory with explicit deallocation. Implementations are not
	// required to be safe for concurrent use; by convention each query or transaction thread
	// owns its resource.
	MemoryResource interface {
		// Allocate returns a pointer to bytes of memory with the requested alignment.
		Allocate(bytes, alignment uintptr) (unsafe.Pointer, error)

		// Deallocate releases memory previously obtained from Allocate with the same size and
		// alignment.
		Deallocate(p unsafe.Pointer, bytes, alignment uintptr) error

		// Release frees everything the resource has ever allocated in one sweep.
		Release()
	}
)

// validAlignment reports whether alignment is a power of two greater than zero.
func validAlignment(alignment uintptr) bool {
	return alignment != 0 && alignment&(alignment-1) == 0
}

type (
	// heapResource serves allocations straight from the Go heap. It is the default upstream of
	// every other resource, and pins each allocation so the garbage collector cannot reclaim it
	// before Deallocate or Release.
	heapResource struct {
		lock sync.Mutex
		live map[unsafe.Pointer][]byte
	}
)

var (
	defaultResource     *heapResource
	defaultResourceOnce sync.Once
)

// NewHeapResource creates a resource backed directly by the Go heap.
func NewHeapResource() MemoryResource {
	return &heapResource{
		live: map[unsafe.Pointer][]byte{},
	}
}

// HeapResource returns the process-wide heap-backed resource used as the upstream default.
func HeapResource() MemoryResource {
	defaultResourceOnce.Do(func() {
		defaultResource = &heapResource{
			live: map[unsafe.Pointer][]byte{},
		}
	})
	return defaultResource
}

func (h *heapResource) Allocate(bytes, alignment uintptr) (unsafe.Pointer, error) {
	if bytes == 0 {
		return nil, errors.Wrap(ErrBadAlloc, "zero-sized allocation")
	}
	if !validAlignment(alignment) {
		return nil, errors.Wrap(ErrBadAlloc, "alignment must be a power of two")
	}
	if bytes+alignment < bytes {
		return nil, errors.Wrap(ErrBadAlloc, "allocation size overflow")
	}

	// Over-allocate by the alignment so a correctly aligned pointer always exists inside the
	// buffer, then pin the buffer until it is deallocated.
	buffer := make([]byte, bytes+alignment)
	base := uintptr(unsafe.Pointer(&buffer[0]))
	offset := (alignment - base%alignment) % alignment
	p := unsafe.Pointer(&buffer[offset])

	h.lock.Lock()
	h.live[p] = buffer
	h.lock.Unlock()

	return p, nil
}

func (h *heapResource) Deallocate(p unsafe.Pointer, bytes, alignment uintptr) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.live[p]; !ok {
		return errors.Wrap(ErrBadAlloc, "deallocating a pointer this resource never allocated")
	}

	delete(h.live, p)
	return nil
}

func (h *heapResource) Release() {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.live = map[unsafe.Pointer][]byte{}
}
