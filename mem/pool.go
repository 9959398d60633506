package mem

import (
	"math"
	"sort"
	"unsafe"

	"github.com/google/btree"
	"github.com/pkg/errors"
)

const (
	// maxBlocksInChunk is the hard ceiling on blocks per chunk: block free-list links are stored
	// in the first byte of each free block, so indices must fit in a byte.
	maxBlocksInChunk = math.MaxUint8
)

type (
	// pool hands out fixed-size blocks carved from larger chunks. Free blocks form an embedded
	// free list: the first byte of a free block holds the index of the next free block in its
	// chunk.
	pool struct {
		blockSize      uintptr
		blocksPerChunk uint8
		chunks         []*poolChunk

		lastAllocChunk   *poolChunk
		lastDeallocChunk *poolChunk
	}

	poolChunk struct {
		data unsafe.Pointer

		// firstAvailableBlock is the free-list head; equal to blocksPerChunk when the chunk is
		// full.
		firstAvailableBlock uint8
		blocksAvailable     uint8
	}

	// bigBlock tracks an allocation too large for any pool, served directly by the upstream
	// resource and kept in a tree sorted by address.
	bigBlock struct {
		bytes     uintptr
		alignment uintptr
		data      unsafe.Pointer
	}

	// PoolResource maintains a pool per block size up to maxBlockSize, falling through to the
	// upstream resource for anything larger. It caches the last pool used for allocation and
	// deallocation, which matches the common pattern of deallocations arriving in reverse order
	// of allocations.
	PoolResource struct {
		memory MemoryResource

		// pools is kept sorted by block size.
		pools    []*pool
		unpooled *btree.BTree

		maxBlocksPerChunk uint8
		maxBlockSize      uintptr

		lastAllocPool   *pool
		lastDeallocPool *pool
	}
)

func (b bigBlock) Less(than btree.Item) bool {
	return uintptr(b.data) < uintptr(than.(bigBlock).data)
}

// NewPoolResource creates a pool resource. maxBlocksPerChunk is clamped to the free-list index
// ceiling; requests above maxBlockSize bypass the pools entirely.
func NewPoolResource(maxBlocksPerChunk, maxBlockSize uintptr, memory MemoryResource) *PoolResource {
	if maxBlocksPerChunk == 0 || maxBlockSize == 0 {
		panic("pool resource requires a positive chunk population and block size")
	}
	if maxBlocksPerChunk > maxBlocksInChunk {
		maxBlocksPerChunk = maxBlocksInChunk
	}

	return &PoolResource{
		memory:            memory,
		unpooled:          btree.New(8),
		maxBlocksPerChunk: uint8(maxBlocksPerChunk),
		maxBlockSize:      maxBlockSize,
	}
}

// Allocate serves bytes with the requested alignment from the pool whose block size equals
// max(bytes, alignment), creating the pool on demand. Requests larger than the maximum block
// size fall through to the upstream resource.
func (p *PoolResource) Allocate(bytes, alignment uintptr) (unsafe.Pointer, error) {
	if !validAlignment(alignment) {
		return nil, errors.Wrap(ErrBadAlloc, "alignment must be a power of two")
	}
	if bytes == 0 {
		return nil, errors.Wrap(ErrBadAlloc, "zero-sized allocation")
	}

	// Take the max of bytes and alignment so a single block size covers both requirements.
	blockSize := bytes
	if alignment > blockSize {
		blockSize = alignment
	}

	// Regular allocation requests always have sizeof a multiple of alignof; anything else can
	// never be correctly carved out of contiguous fixed-size blocks.
	if blockSize == 0 || blockSize%alignment != 0 {
		return nil, errors.Wrap(ErrBadAlloc, "requested bytes must be a multiple of alignment")
	}

	if blockSize > p.maxBlockSize {
		data, err := p.memory.Allocate(bytes, alignment)
		if err != nil {
			return nil, err
		}
		p.unpooled.ReplaceOrInsert(bigBlock{bytes: bytes, alignment: alignment, data: data})
		return data, nil
	}

	if p.lastAllocPool != nil && p.lastAllocPool.blockSize == blockSize {
		return p.lastAllocPool.allocate(p.memory)
	}

	index := sort.Search(len(p.pools), func(i int) bool {
		return p.pools[i].blockSize >= blockSize
	})
	if index < len(p.pools) && p.pools[index].blockSize == blockSize {
		p.lastAllocPool = p.pools[index]
		return p.pools[index].allocate(p.memory)
	}

	// No pool for this block size yet, insert one in sorted position.
	created := &pool{
		blockSize:      blockSize,
		blocksPerChunk: p.maxBlocksPerChunk,
	}
	p.pools = append(p.pools, nil)
	copy(p.pools[index+1:], p.pools[index:])
	p.pools[index] = created
	p.lastAllocPool = created
	p.lastDeallocPool = created
	return created.allocate(p.memory)
}

// Deallocate returns a block to the pool it was carved from, or releases a large block straight
// to the upstream resource.
func (p *PoolResource) Deallocate(ptr unsafe.Pointer, bytes, alignment uintptr) error {
	blockSize := bytes
	if alignment > blockSize {
		blockSize = alignment
	}
	if blockSize == 0 || !validAlignment(alignment) || blockSize%alignment != 0 {
		return errors.Wrap(ErrBadAlloc, "deallocation size does not match a served allocation")
	}

	if blockSize > p.maxBlockSize {
		item := p.unpooled.Get(bigBlock{data: ptr})
		if item == nil {
			return errors.Wrap(ErrBadAlloc, "deallocating a large block this resource never served")
		}
		block := item.(bigBlock)
		if block.bytes != bytes || block.alignment != alignment {
			return errors.Wrap(ErrBadAlloc, "large block size or alignment mismatch")
		}
		p.unpooled.Delete(block)
		return p.memory.Deallocate(ptr, bytes, alignment)
	}

	if p.lastDeallocPool != nil && p.lastDeallocPool.blockSize == blockSize {
		return p.lastDeallocPool.deallocate(ptr)
	}

	index := sort.Search(len(p.pools), func(i int) bool {
		return p.pools[i].blockSize >= blockSize
	})
	if index >= len(p.pools) || p.pools[index].blockSize != blockSize {
		return errors.Wrap(ErrBadAlloc, "no pool matches the deallocated block size")
	}

	p.lastAllocPool = p.pools[index]
	p.lastDeallocPool = p.pools[index]
	return p.pools[index].deallocate(ptr)
}

// Release frees every chunk of every pool and every large block in one sweep.
func (p *PoolResource) Release() {
	for _, po := range p.pools {
		po.release(p.memory)
	}
	p.pools = nil
	p.lastAllocPool = nil
	p.lastDeallocPool = nil

	p.unpooled.Ascend(func(item btree.Item) bool {
		block := item.(bigBlock)
		_ = p.memory.Deallocate(block.data, block.bytes, block.alignment)
		return true
	})
	p.unpooled.Clear(false)
}

func (po *pool) allocate(memory MemoryResource) (unsafe.Pointer, error) {
	allocateBlockFromChunk := func(chunk *poolChunk) unsafe.Pointer {
		block := unsafe.Add(chunk.data, uintptr(chunk.firstAvailableBlock)*po.blockSize)

		// The first byte of a free block is the free-list link to the next free block.
		chunk.firstAvailableBlock = *(*uint8)(block)
		chunk.blocksAvailable--
		return block
	}

	if po.lastAllocChunk != nil && po.lastAllocChunk.blocksAvailable > 0 {
		return allocateBlockFromChunk(po.lastAllocChunk), nil
	}

	for _, chunk := range po.chunks {
		if chunk.blocksAvailable > 0 {
			po.lastAllocChunk = chunk
			return allocateBlockFromChunk(chunk), nil
		}
	}

	// No chunk has a free block, carve a new one out of the upstream resource.
	if po.blockSize > (^uintptr(0)>>1)/uintptr(po.blocksPerChunk) {
		return nil, errors.Wrap(ErrBadAlloc, "allocation size overflow")
	}
	dataSize := uintptr(po.blocksPerChunk) * po.blockSize

	// Use the next power of two of the block size as the chunk alignment so that every block in
	// the chunk satisfies alignment requests up to the block size itself.
	alignment := ceilPowerOfTwo(po.blockSize)
	if alignment < po.blockSize {
		return nil, errors.Wrap(ErrBadAlloc, "allocation alignment overflow")
	}

	data, err := memory.Allocate(dataSize, alignment)
	if err != nil {
		return nil, err
	}

	// Thread the embedded free list through the fresh blocks.
	for i := uint8(0); i < po.blocksPerChunk; i++ {
		*(*uint8)(unsafe.Add(data, uintptr(i)*po.blockSize)) = i + 1
	}

	chunk := &poolChunk{
		data:                data,
		firstAvailableBlock: 0,
		blocksAvailable:     po.blocksPerChunk,
	}
	po.chunks = append(po.chunks, chunk)
	po.lastAllocChunk = chunk
	po.lastDeallocChunk = chunk
	return allocateBlockFromChunk(chunk), nil
}

func (po *pool) deallocate(ptr unsafe.Pointer) error {
	dataSize := uintptr(po.blocksPerChunk) * po.blockSize

	isInChunk := func(chunk *poolChunk) bool {
		address := uintptr(ptr)
		return uintptr(chunk.data) <= address && address < uintptr(chunk.data)+dataSize
	}
	deallocateBlockFromChunk := func(chunk *poolChunk) {
		// Link the block back into the chunk's free list.
		block := (*uint8)(ptr)
		*block = chunk.firstAvailableBlock
		chunk.firstAvailableBlock = uint8((uintptr(ptr) - uintptr(chunk.data)) / po.blockSize)
		chunk.blocksAvailable++
	}

	if po.lastDeallocChunk != nil && isInChunk(po.lastDeallocChunk) {
		deallocateBlockFromChunk(po.lastDeallocChunk)
		return nil
	}

	for _, chunk := range po.chunks {
		if isInChunk(chunk) {
			// Update lastAllocChunk as well because it now has a free block, which matches the
			// usual pattern of allocations and deallocations arriving in reverse order.
			po.lastAllocChunk = chunk
			po.lastDeallocChunk = chunk
			deallocateBlockFromChunk(chunk)
			return nil
		}
	}

	return errors.Wrap(ErrBadAlloc, "deallocating a block this pool never served")
}

func (po *pool) release(memory MemoryResource) {
	dataSize := uintptr(po.blocksPerChunk) * po.blockSize
	alignment := ceilPowerOfTwo(po.blockSize)
	for _, chunk := range po.chunks {
		_ = memory.Deallocate(chunk.data, dataSize, alignment)
	}
	po.chunks = nil
	po.lastAllocChunk = nil
	po.lastDeallocChunk = nil
}

// ceilPowerOfTwo rounds up to the next power of two, returning 0 on overflow.
func ceilPowerOfTwo(v uintptr) uintptr {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}
