package biosmem

import "pmemkernel/kernel/mem"

// Class identifies one of the priority-ordered physical memory segments.
// Classes are ordered from lowest to highest priority: DMA < DMA32 <
// Directmap < Highmem. Each class covers the window between the previous
// class's ceiling and its own, so no two loaded segments share a frame.
type Class uint8

const (
	// DMA serves devices limited to legacy 24-bit addressing.
	DMA Class = iota
	// DMA32 serves devices limited to 32-bit addressing.
	DMA32
	// Directmap is memory directly and permanently mapped into kernel
	// space via a simple offset translation.
	Directmap
	// Highmem must be mapped on demand before it can be accessed.
	Highmem

	// NumClasses is the number of priority classes the partitioner
	// recognises.
	NumClasses
)

// String implements fmt.Stringer.
func (c Class) String() string {
	switch c {
	case DMA:
		return "dma"
	case DMA32:
		return "dma32"
	case Directmap:
		return "directmap"
	case Highmem:
		return "highmem"
	default:
		return "unknown"
	}
}

// classLimit is the architectural ceiling (exclusive) of each priority
// class on amd64. DMA32 and Directmap share a ceiling, so the Directmap
// window is empty: when no AVAILABLE memory extends past 4G partitioning
// stops after DMA32, and otherwise Directmap loads as an empty segment at 4G
// and Highmem loads above it.
var classLimit = [NumClasses]uint64{
	DMA:       0x1000000,
	DMA32:     0x100000000,
	Directmap: 0x100000000,
	Highmem:   0x200000000,
}

// dmaBase is the first physical address considered for the DMA class;
// conventional BIOS memory below it is never handed to a segment.
const dmaBase = 0x100000

// Segment is a contiguous run of physical memory assigned to one priority
// class, along with the sub-range that is both available and not reserved
// for boot data.
type Segment struct {
	Class                Class
	Start, End           uint64
	AvailStart, AvailEnd uint64
}

// Size returns the full span of the segment in bytes.
func (s Segment) Size() uint64 { return s.End - s.Start }

// AvailSize returns the span of the segment's available-for-allocation
// sub-range in bytes.
func (s Segment) AvailSize() uint64 { return s.AvailEnd - s.AvailStart }

func pageRoundUp(addr uint64) uint64 {
	pageSize := uint64(mem.PageSize)
	return (addr + pageSize - 1) &^ (pageSize - 1)
}

func pageRoundDown(addr uint64) uint64 {
	pageSize := uint64(mem.PageSize)
	return addr &^ (pageSize - 1)
}

// findAvail scans the map for the lowest and highest page-aligned
// boundaries of AVAILABLE entries intersecting [physStart, physEnd). It
// returns the intersection of that run with the requested window, narrowing
// physStart/physEnd, or ok=false if no AVAILABLE memory falls in the class.
func (m *Map) findAvail(physStart, physEnd uint64) (lo, hi uint64, ok bool) {
	const invalid = ^uint64(0)
	segStart, segEnd := invalid, invalid

	for _, e := range m.entries {
		if e.Type != TypeAvailable {
			continue
		}

		start := pageRoundUp(e.Base)
		if start >= physEnd {
			break
		}

		end := pageRoundDown(e.end())

		if start < end && start < physEnd && end > physStart {
			if segStart == invalid {
				segStart = start
			}
			segEnd = end
		}
	}

	if segStart == invalid || segEnd == invalid {
		return 0, 0, false
	}

	lo = physStart
	if segStart > lo {
		lo = segStart
	}
	hi = physEnd
	if segEnd < hi {
		hi = segEnd
	}
	return lo, hi, true
}

// Partition carves the adjusted map into up to NumClasses priority segments,
// scanning each class's architectural window in ascending priority order and
// stopping at the first class with no AVAILABLE memory. It returns the
// loaded segments and the highest physical address ever loaded (the
// direct-map ceiling).
func (m *Map) Partition() (segments []Segment, directmapCeiling uint64) {
	physStart := uint64(dmaBase)

	for class := DMA; class < NumClasses; class++ {
		physEnd := classLimit[class]

		lo, hi, ok := m.findAvail(physStart, physEnd)
		if !ok {
			break
		}

		segments = append(segments, Segment{Class: class, Start: lo, End: hi})
		directmapCeiling = hi
		physStart = physEnd
	}

	return segments, directmapCeiling
}
