package vmpage

import (
	"pmemkernel/kernel"
	"pmemkernel/kernel/kfmt"
)

var (
	errNoMemoryLoaded  = &kernel.Error{Module: "vm_page", Message: "no physical memory loaded"}
	errBadBootSegs     = &kernel.Error{Module: "vm_page", Message: "invalid boot segment table"}
	errBadSelector     = &kernel.Error{Module: "vm_page", Message: "invalid segment selector"}
	errNoPmapMemory    = &kernel.Error{Module: "vm_page", Message: "unable to allocate pmap page"}
	errTableAllocation = &kernel.Error{Module: "vm_page", Message: "unable to size descriptor table"}
)

// bootSeg records a segment's boundaries as reported by biosmem, before the
// descriptor table exists.
type bootSeg struct {
	start, end           uint64
	availStart, availEnd uint64
	loaded               bool
}

var (
	bootSegs     [NumSegments]bootSeg
	segsSize     int
	segs         [NumSegments]segment
	isReady      bool
	bootAllocPA  func(nrPages uint64) uint64
)

// SetBootAllocator registers the physical bump allocator used by Setup to
// size the descriptor table. It must be called before Setup. Taking the
// allocator as an injected function, rather than importing biosmem directly,
// keeps the dependency one-directional: biosmem imports vmpage, not the
// reverse.
func SetBootAllocator(fn func(nrPages uint64) uint64) {
	bootAllocPA = fn
}

// Load registers the boundaries of a loaded boot segment. segIndex follows
// the same priority ordering as Selector (0 = DMA .. NumSegments-1 =
// Highmem). It must be called, once per segment in ascending priority order,
// before Setup.
func Load(segIndex int, start, end, availStart, availEnd uint64) {
	bootSegs[segIndex] = bootSeg{
		start: start, end: end,
		availStart: availStart, availEnd: availEnd,
		loaded: true,
	}
	segsSize++
}

// Ready reports whether Setup has completed and alloc_pa is usable. Package
// biosmem consults this to forbid bootalloc use past this point.
func Ready() bool { return isReady }

func checkBootSegs() {
	if segsSize == 0 {
		kfmt.Panic(errNoMemoryLoaded)
	}
	for i := 0; i < int(NumSegments); i++ {
		expectLoaded := i < segsSize
		if bootSegs[i].loaded != expectLoaded {
			kfmt.Panic(errBadBootSegs)
		}
	}
}

func selectAllocSeg(sel Selector) int {
	idx := int(sel)
	if idx >= segsSize {
		idx = segsSize - 1
	}
	return idx
}

// Setup builds the descriptor table (bump-allocated through the function
// registered with SetBootAllocator), initialises every loaded segment and
// releases each segment's available range into its buddy free lists, except
// for the frames backing the descriptor table, which are marked TypeTable. After
// Setup returns, Ready reports true and alloc_pa/free_pa may be used.
func Setup() {
	checkBootSegs()

	var totalFrames uint64
	for i := 0; i < segsSize; i++ {
		totalFrames += atop(bootSegs[i].end - bootSegs[i].start)
	}

	tableBytes := pageRoundUp(totalFrames * pageDescriptorSize)
	tablePages := atop(tableBytes)
	if tablePages == 0 {
		kfmt.Panic(errTableAllocation)
	}
	tableBasePA := bootAllocPA(tablePages)

	table := make([]Page, totalFrames)

	offset := uint64(0)
	for i := 0; i < segsSize; i++ {
		boot := &bootSegs[i]
		nrFrames := atop(boot.end - boot.start)
		segPages := table[offset : offset+nrFrames]
		offset += nrFrames

		segs[i].init(i, boot.start, boot.end, segPages)

		avail := segPages[atop(boot.availStart-boot.start):atop(boot.availEnd-boot.start)]
		for j := range avail {
			if pa := avail[j].PhysAddr; pa >= tableBasePA && pa < tableBasePA+tableBytes {
				continue
			}
			avail[j].typ = TypeFree
			segs[i].freeToBuddy(int32(atop(avail[j].PhysAddr-boot.start)), 0)
		}
	}

	for pa := tableBasePA; pa < tableBasePA+tableBytes; pa += ptoa(1) {
		if page := lookupPA(pa); page != nil {
			page.typ = TypeTable
		}
	}

	isReady = true
}

// Manage releases a single reserved frame into its segment's buddy free
// list. It is used after Setup to hand back AVAILABLE frames that fell
// outside every segment's avail window at setup time (e.g. conventional
// memory reclaimed once boot data is no longer needed).
func Manage(page *Page) {
	page.typ = TypeFree
	seg := &segs[page.segIndex]
	idx := int32(atop(page.PhysAddr - seg.start))
	seg.freeToBuddy(idx, 0)
}

func lookupPA(pa uint64) *Page {
	for i := 0; i < segsSize; i++ {
		seg := &segs[i]
		if pa >= seg.start && pa < seg.end {
			return &seg.pages[atop(pa-seg.start)]
		}
	}
	return nil
}

// LookupPA returns the descriptor for the frame containing pa, or nil if pa
// is not part of any loaded segment.
func LookupPA(pa uint64) *Page {
	return lookupPA(pa)
}

// AllocPA allocates a block of 2^order contiguous frames, starting the
// search at the segment named by selector and falling back to
// progressively lower-priority segments. It returns nil if no permitted
// segment can satisfy the request, except for TypePmap, whose exhaustion is
// always fatal: the kernel cannot proceed without page-table memory.
func AllocPA(order int, selector Selector, typ Type) *Page {
	for i := selectAllocSeg(selector); i >= 0; i-- {
		if idx, ok := segs[i].alloc(order, typ); ok {
			return &segs[i].pages[idx]
		}
	}

	if typ == TypePmap {
		kfmt.Panic(errNoPmapMemory)
	}
	return nil
}

// FreePA returns a block of 2^order frames previously obtained from AllocPA.
// Callers must supply the same order used at allocation.
func FreePA(page *Page, order int) {
	seg := &segs[page.segIndex]
	idx := int32(atop(page.PhysAddr - seg.start))
	seg.free(idx, order)
}

// SegName returns the diagnostic name of a loaded segment index.
func SegName(segIndex int) string {
	switch Selector(segIndex) {
	case SelHighmem:
		return "HIGHMEM"
	case SelDirectmap:
		return "DIRECTMAP"
	case SelDMA32:
		return "DMA32"
	case SelDMA:
		return "DMA"
	default:
		kfmt.Panic(errBadSelector)
		return ""
	}
}

// InfoAll prints per-segment page and free-page counts.
func InfoAll() {
	for i := 0; i < segsSize; i++ {
		seg := &segs[i]
		pages := uint64(len(seg.pages))
		kfmt.Printf("vm_page: %s: pages: %d (%dM), free: %d (%dM)\n",
			SegName(i), pages, pages>>(20-12), seg.nrFreePages, seg.nrFreePages>>(20-12))
	}
}

// MemSize returns the total size, in bytes, of directly-mappable memory
// (DMA, DMA32 and Directmap segments). Highmem is deliberately excluded, to
// match the documented behaviour of the allocator this package is modelled
// on; see HighmemSize for highmem's own count.
func MemSize() uint64 {
	var total uint64
	for i := 0; i < segsSize && i <= int(SelDirectmap); i++ {
		total += segs[i].size()
	}
	return total
}

// MemFree returns the number of free frames across the directly-mappable
// segments (DMA, DMA32, Directmap), excluding Highmem. Frames held in the
// per-CPU caches are counted as free. See MemSize.
func MemFree() uint64 {
	var total uint64
	for i := 0; i < segsSize && i <= int(SelDirectmap); i++ {
		total += segs[i].nrFreePages
		for j := range segs[i].cpuPools {
			total += uint64(segs[i].cpuPools[j].nrPages())
		}
	}
	return total
}

// HighmemSize returns the total size, in bytes, of the Highmem segment, or 0
// if none was loaded. It exists because MemSize/MemFree exclude Highmem.
func HighmemSize() uint64 {
	if segsSize <= int(SelHighmem) {
		return 0
	}
	return segs[SelHighmem].size()
}
