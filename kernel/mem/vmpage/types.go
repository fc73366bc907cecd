// Package vmpage implements a per-segment binary-buddy physical page
// allocator backed by per-CPU single-page caches. It has no notion of
// virtual memory: callers deal exclusively in physical addresses and page
// descriptors, and pairs allocate/manage calls with package biosmem which
// supplies the segment boundaries and the bootstrap allocator used to size
// the descriptor table.
package vmpage

import (
	"pmemkernel/kernel/mem"
	"unsafe"
)

// NumOrders is the number of free lists each segment maintains, indexed by
// buddy order 0..NumOrders-1.
const NumOrders = 11

// orderUnlisted marks a descriptor that is not the head of any free block:
// either it is allocated, or it is a non-head frame inside a larger free
// block.
const orderUnlisted = ^uint32(0)

// Type classifies the role a physical frame currently serves.
type Type uint8

const (
	// TypeFree marks a frame sitting on a free list or per-CPU cache.
	TypeFree Type = iota
	// TypeReserved marks a frame that exists but has not yet been
	// released to the buddy system (the state every descriptor starts
	// in at setup).
	TypeReserved
	// TypeTable marks a frame backing the descriptor table itself; such
	// frames are never handed out.
	TypeTable
	// TypePmap marks a frame backing page-table memory. Allocation
	// failures of this type are fatal to the caller.
	TypePmap
	// TypeKernel marks a frame otherwise claimed by the kernel image or
	// general kernel allocations.
	TypeKernel
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeFree:
		return "free"
	case TypeReserved:
		return "reserved"
	case TypeTable:
		return "table"
	case TypePmap:
		return "pmap"
	case TypeKernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// Selector names the highest-priority segment an allocation may be
// satisfied from.
type Selector uint8

const (
	// SelDMA restricts an allocation to memory reachable by legacy
	// 24-bit DMA.
	SelDMA Selector = iota
	// SelDMA32 restricts an allocation to memory reachable by 32-bit
	// capable DMA.
	SelDMA32
	// SelDirectmap allows any directly-mapped memory.
	SelDirectmap
	// SelHighmem allows any loaded memory, including highmem.
	SelHighmem

	// NumSegments is the maximum number of segments the allocator can
	// track, one per priority class.
	NumSegments
)

// Page is the per-frame descriptor. One exists for every frame in every
// loaded segment, allocated in bulk as a single table at setup time.
type Page struct {
	// PhysAddr is immutable after creation.
	PhysAddr uint64

	segIndex uint8
	typ      Type
	order    uint32

	// prev/next link this descriptor into whichever list currently owns
	// it (a segment free list or a per-CPU cache), as indices into the
	// owning segment's pages slice. A descriptor is never on more than
	// one list, and a descriptor held by a caller is on none.
	prev, next int32
}

// Type returns the descriptor's current type.
func (p *Page) Type() Type { return p.typ }

// Order returns the buddy order this descriptor heads, or -1 if the
// descriptor is not the head of a free block.
func (p *Page) Order() int {
	if p.order == orderUnlisted {
		return -1
	}
	return int(p.order)
}

// SegIndex returns the index of the segment that owns this descriptor.
func (p *Page) SegIndex() int { return int(p.segIndex) }

func pageRoundUp(n uint64) uint64 {
	size := uint64(mem.PageSize)
	return (n + size - 1) &^ (size - 1)
}

func pageRoundDown(n uint64) uint64 {
	size := uint64(mem.PageSize)
	return n &^ (size - 1)
}

func atop(size uint64) uint64 { return size / uint64(mem.PageSize) }

func ptoa(frames uint64) uint64 { return frames * uint64(mem.PageSize) }

// pageDescriptorSize is the size, in bytes, of one Page descriptor; used to
// size the bump-allocated descriptor table at setup.
var pageDescriptorSize = uint64(unsafe.Sizeof(Page{}))
