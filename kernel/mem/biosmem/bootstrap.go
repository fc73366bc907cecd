package biosmem

import (
	"pmemkernel/kernel"
	"pmemkernel/kernel/cpu"
	"pmemkernel/kernel/kfmt"
	"pmemkernel/kernel/mem"
	"pmemkernel/kernel/mem/vmpage"
)

var (
	errNoSegment = &kernel.Error{Module: "biosmem", Message: "no physical memory segment available"}
	errNoHeap    = &kernel.Error{Module: "biosmem", Message: "no usable memory found for the bootstrap heap"}
)

var (
	theMap           *Map
	segments         []Segment
	directmapCeiling uint64
	heap             bootHeap
	kernelStart      uint64
	kernelEnd        uint64
)

func init() {
	vmpage.SetBootAllocator(BootAlloc)
	bootAllocatorReady = vmpage.Ready
}

// Bootstrap builds and adjusts the firmware memory map, partitions it into
// priority segments and places the bootstrap heap in the largest available
// gap in upper memory that avoids every boot-data region. kStart and kEnd
// delimit the running kernel image itself, in physical addresses.
func Bootstrap(rawEntries []Entry, kStart, kEnd uint64) {
	cpu.DisableInterrupts()
	defer cpu.EnableInterrupts()

	kernelStart, kernelEnd = kStart, kEnd

	theMap = NewMap(rawEntries)
	segments, directmapCeiling = theMap.Partition()
	if len(segments) == 0 {
		kfmt.Panic(errNoSegment)
	}

	memEnd := classLimit[Directmap]
	if directmapCeiling < memEnd {
		memEnd = directmapCeiling
	}

	start, end, ok := largestFreeRange(kernelStart, kernelEnd, dmaBase, memEnd)
	if !ok {
		kfmt.Panic(errNoHeap)
	}

	heap.init(pageRoundUp(start), pageRoundDown(end), true)
}

// XenBootstrap is the alternate entry point for a paravirtualized host: the
// entire host-reported page range is treated as one AVAILABLE firmware
// entry, and the bootstrap heap starts three frames past the end of the
// hypervisor-supplied page tables, growing bottom-up rather than top-down.
func XenBootstrap(nrPages uint64, ptBasePA uint64, nrPtFrames uint64) {
	cpu.DisableInterrupts()
	defer cpu.EnableInterrupts()

	theMap = NewMap([]Entry{{Base: 0, Length: nrPages * uint64(mem.PageSize), Type: TypeAvailable}})
	segments, directmapCeiling = theMap.Partition()
	if len(segments) == 0 {
		kfmt.Panic(errNoSegment)
	}

	heapStart := ptBasePA + (nrPtFrames+3)*0x1000
	heapEnd := nrPages * uint64(mem.PageSize)
	if heapEnd > classLimit[Directmap] {
		heapEnd = classLimit[Directmap]
	}

	heap.init(heapStart, heapEnd, false)
}

// BootAlloc returns the physical address of nrPages contiguous page-aligned
// frames from the bootstrap heap. It must not be called after vmpage.Ready
// returns true.
func BootAlloc(nrPages uint64) uint64 {
	return heap.alloc(nrPages)
}

// DirectmapSize returns the upper bound of directly mappable memory, used to
// size the kernel's identity mapping. It favours the Directmap segment, then
// falls back to DMA32 and finally DMA.
func DirectmapSize() uint64 {
	for _, seg := range segments {
		if seg.Class == Directmap && seg.Size() != 0 {
			return seg.End
		}
	}
	for _, seg := range segments {
		if seg.Class == DMA32 && seg.Size() != 0 {
			return seg.End
		}
	}
	for _, seg := range segments {
		if seg.Class == DMA {
			return seg.End
		}
	}
	return 0
}

// Setup prints the canonicalised firmware map, loads every partitioned
// segment into vmpage and hands off the descriptor table. After Setup
// returns, vmpage.Ready() is true and BootAlloc may no longer be called.
func Setup() {
	theMap.Show()
	kfmt.Printf("biosmem: heap: %x-%x\n", heap.start, heap.end)

	for i := range segments {
		seg := &segments[i]

		// The unconsumed remainder of the heap is still available: on
		// bare metal cur shrinks from end towards start, so the
		// untouched span is [start, cur); paravirtualized boot grows
		// cur upward instead, so it is [cur, end).
		availStart, availEnd := heap.start, heap.cur
		if !heap.topDown {
			availStart, availEnd = heap.cur, heap.end
		}
		if availStart < seg.Start || availStart >= seg.End {
			availStart = seg.Start
		}
		if availEnd <= seg.Start || availEnd > seg.End {
			availEnd = seg.End
		}
		seg.AvailStart, seg.AvailEnd = availStart, availEnd

		vmpage.Load(int(seg.Class), seg.Start, seg.End, seg.AvailStart, seg.AvailEnd)
	}

	vmpage.Setup()
}

// FreeUsable releases every AVAILABLE firmware range that setup did not
// already carve into a segment's avail window (most notably conventional
// memory below the bootstrap heap) frame by frame, skipping the kernel
// image, the bootstrap heap and every segment's avail window.
func FreeUsable() {
	for _, e := range theMap.Entries() {
		if e.Type != TypeAvailable {
			continue
		}

		start := pageRoundUp(e.Base)
		if start >= classLimit[Highmem] {
			break
		}

		end := pageRoundDown(e.end())
		if start < dmaBase {
			start = dmaBase
		}

		freeUsableEntry(start, end)
	}
}

func freeUsableEntry(start, entryEnd uint64) {
	for {
		start = freeUsableSkipReserved(start)
		if start >= entryEnd {
			return
		}

		end := start
		for end < entryEnd && !isReserved(end) {
			end += uint64(mem.PageSize)
		}

		freeUsableRange(start, end)
		start = end
	}
}

func freeUsableSkipReserved(start uint64) uint64 {
	start = advancePast(start, kernelStart, kernelEnd)
	start = advancePast(start, heap.start, heap.end)
	for i := range segments {
		start = advancePast(start, segments[i].AvailStart, segments[i].AvailEnd)
	}
	return start
}

func advancePast(start, resStart, resEnd uint64) uint64 {
	if start >= resStart && start < resEnd {
		return resEnd
	}
	return start
}

func isReserved(addr uint64) bool {
	if addr >= kernelStart && addr < kernelEnd {
		return true
	}
	if addr >= heap.start && addr < heap.end {
		return true
	}
	for i := range segments {
		if addr >= segments[i].AvailStart && addr < segments[i].AvailEnd {
			return true
		}
	}
	return false
}

func freeUsableRange(start, end uint64) {
	kfmt.Printf("biosmem: release to vm_page: %x-%x (%dk)\n", start, end, (end-start)>>10)

	for pa := start; pa < end; pa += uint64(mem.PageSize) {
		page := vmpage.LookupPA(pa)
		if page == nil {
			continue
		}
		vmpage.Manage(page)
	}
}
