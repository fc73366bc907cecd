// Package biosmem parses the firmware-provided physical memory map, carves
// it into priority-ordered segments and runs the bump allocator used before
// the buddy-based page allocator (package vmpage) becomes available.
package biosmem

import (
	"pmemkernel/kernel"
	"pmemkernel/kernel/kfmt"
	"unsafe"
)

// MaxEntries is the number of firmware-reported ranges the working set is
// sized for. The working set has room for twice this many entries so that
// overlap resolution can add split-off entries; growing past that capacity
// is fatal. NewMap does not reject input longer than MaxEntries.
const MaxEntries = 128

var errTooManyEntries = &kernel.Error{Module: "biosmem", Message: "too many memory map entries"}

// EntryType classifies a physical memory range as reported by firmware.
// Numerically higher types are more restrictive and win when two ranges
// overlap.
type EntryType uint32

const (
	// TypeAvailable marks memory that is free for general use.
	TypeAvailable EntryType = iota + 1
	// TypeReserved marks memory the firmware reserved for its own use.
	TypeReserved
	// TypeACPI marks memory holding ACPI tables that can be reclaimed
	// once the kernel has parsed them.
	TypeACPI
	// TypeNVS marks memory that must be preserved across suspend/resume.
	TypeNVS
	// TypeUnusable marks memory known to be defective.
	TypeUnusable
	// TypeDisabled marks memory explicitly disabled by firmware.
	TypeDisabled
)

// String implements fmt.Stringer.
func (t EntryType) String() string {
	switch t {
	case TypeAvailable:
		return "available"
	case TypeReserved:
		return "reserved"
	case TypeACPI:
		return "ACPI"
	case TypeNVS:
		return "ACPI NVS"
	case TypeUnusable:
		return "unusable"
	case TypeDisabled:
		return "disabled"
	default:
		return "unknown (reserved)"
	}
}

// Entry describes a single contiguous physical memory range.
type Entry struct {
	Base   uint64
	Length uint64
	Type   EntryType
}

func (e Entry) end() uint64 { return e.Base + e.Length }

// invalid reports whether an entry wrapped around the address space or has
// zero length.
func (e Entry) invalid() bool { return e.Base+e.Length <= e.Base }

// Map is an ordered, non-overlapping collection of firmware memory ranges.
type Map struct {
	entries []Entry
}

// NewMap builds a Map from raw firmware-reported ranges, filtering out
// malformed entries and resolving any overlaps before sorting the result by
// base address.
func NewMap(raw []Entry) *Map {
	entries := make([]Entry, 0, 2*MaxEntries)
	entries = append(entries, raw...)

	m := &Map{entries: entries}
	m.adjust()
	return m
}

// Entries returns the canonical, sorted, non-overlapping set of ranges.
func (m *Map) Entries() []Entry {
	return m.entries
}

// filter drops entries whose base+length overflows or is zero-length.
func (m *Map) filter() {
	out := m.entries[:0]
	for _, e := range m.entries {
		if !e.invalid() {
			out = append(out, e)
		}
	}
	m.entries = out
}

// entrySize is the byte size of one Entry, used by removeAt to shift the
// tail of the working set down over the removed slot.
var entrySize = unsafe.Sizeof(Entry{})

func (m *Map) removeAt(j int) {
	tail := m.entries[j+1:]
	if len(tail) > 0 {
		kernel.Memcopy(
			uintptr(unsafe.Pointer(&tail[0])),
			uintptr(unsafe.Pointer(&m.entries[j])),
			uintptr(len(tail))*entrySize,
		)
	}
	m.entries = m.entries[:len(m.entries)-1]
}

// adjust filters, resolves overlaps giving priority to the numerically
// higher (more restrictive) type, and sorts the map by base address.
//
// The pairwise overlap resolution mutates entries in place through stable
// pointers into the backing array; entries is allocated with enough spare
// capacity up front so that appending a split-off entry never reallocates
// and invalidates those pointers.
func (m *Map) adjust() {
	m.filter()

	for i := 0; i < len(m.entries); i++ {
		a := &m.entries[i]

		for j := i + 1; j < len(m.entries); {
			aEnd := a.end()
			b := &m.entries[j]
			bEnd := b.end()

			if a.Base >= bEnd || aEnd <= b.Base {
				j++
				continue
			}

			var first, second *Entry
			if a.Base < b.Base {
				first, second = a, b
			} else {
				first, second = b, a
			}

			var lastEnd uint64
			var lastType EntryType
			if aEnd > bEnd {
				lastEnd, lastType = aEnd, a.Type
			} else {
				lastEnd, lastType = bEnd, b.Type
			}

			tmp := Entry{Base: second.Base}
			tmp.Length = min64(aEnd, bEnd) - tmp.Base
			tmp.Type = maxType(a.Type, b.Type)

			first.Length = tmp.Base - first.Base
			second.Base += tmp.Length
			second.Length = lastEnd - second.Base
			second.Type = lastType

			aInvalid, bInvalid := a.invalid(), b.invalid()

			switch {
			case aInvalid && bInvalid:
				*a = tmp
				m.removeAt(j)
				continue
			case aInvalid:
				*a = tmp
				j++
				continue
			case bInvalid:
				*b = tmp
				j++
				continue
			}

			var mergeTarget *Entry
			switch {
			case tmp.Type == a.Type:
				mergeTarget = a
			case tmp.Type == b.Type:
				mergeTarget = b
			default:
				if len(m.entries) >= cap(m.entries) {
					kfmt.Panic(errTooManyEntries)
				}
				m.entries = append(m.entries, tmp)
				j++
				continue
			}

			if mergeTarget.Base > tmp.Base {
				mergeTarget.Base = tmp.Base
			}
			mergeTarget.Length += tmp.Length
			j++
		}
	}

	m.sort()
}

// sort performs an insertion sort by base address; at the sizes involved
// here (at most 2*MaxEntries) this beats the constant overhead of a
// comparison-heavy general purpose sort.
func (m *Map) sort() {
	for i := 1; i < len(m.entries); i++ {
		tmp := m.entries[i]
		j := i - 1
		for j >= 0 && m.entries[j].Base >= tmp.Base {
			m.entries[j+1] = m.entries[j]
			j--
		}
		m.entries[j+1] = tmp
	}
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxType(a, b EntryType) EntryType {
	if a > b {
		return a
	}
	return b
}

// Show prints the canonical memory map, one line per entry, in the format
// consumed by diagnostic tooling.
func (m *Map) Show() {
	kfmt.Printf("biosmem: physical memory map:\n")
	for _, e := range m.entries {
		kfmt.Printf("biosmem: %x:%x, %s\n", e.Base, e.end(), e.Type.String())
	}
}
