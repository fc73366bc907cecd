package biosmem

import (
	"pmemkernel/kernel"
	"pmemkernel/kernel/kfmt"
	"pmemkernel/kernel/mem"
)

var (
	errBootAllocInval = &kernel.Error{Module: "biosmem", Message: "invalid boot allocation size"}
	errBootAllocNoMem = &kernel.Error{Module: "biosmem", Message: "no memory left in boot heap"}
	errBootAllocLate  = &kernel.Error{Module: "biosmem", Message: "boot allocator used after page allocator became ready"}
)

// bootHeap is the region of physical memory the bump allocator hands out
// before vmpage is bootstrapped. On bare metal it is consumed top-down, to
// avoid unnecessarily filling the low, more constrained DMA segments with
// boot data; under Xen, where the hypervisor already reserves the range
// below heap start for the kernel's own page tables, it is consumed
// bottom-up instead.
type bootHeap struct {
	start, cur, end uint64
	topDown         bool
}

func (h *bootHeap) init(start, end uint64, topDown bool) {
	h.start, h.end, h.topDown = start, end, topDown
	if topDown {
		h.cur = end
	} else {
		h.cur = start
	}
}

// bootAllocatorReady reports whether the page allocator has taken over and
// the boot allocator must no longer be used. This package's init replaces it
// with vmpage.Ready, mirroring vm_page_ready() in the original allocator.
var bootAllocatorReady = func() bool { return false }

// alloc carves nrPages contiguous pages out of the heap and returns the
// physical address of the first one.
func (h *bootHeap) alloc(nrPages uint64) uint64 {
	if bootAllocatorReady() {
		kfmt.Panic(errBootAllocLate)
	}

	size := nrPages * uint64(mem.PageSize)
	if size == 0 {
		kfmt.Panic(errBootAllocInval)
	}

	var addr uint64
	if h.topDown {
		addr = h.cur - size
		if addr < h.start || addr > h.cur {
			kfmt.Panic(errBootAllocNoMem)
		}
		h.cur = addr
	} else {
		addr = h.cur
		next := addr + size
		if next > h.end || next < addr {
			kfmt.Panic(errBootAllocNoMem)
		}
		h.cur = next
	}

	return addr
}
