package biosmem

import "pmemkernel/multiboot"

// bootDataRegion identifies a physical range that must not be handed to the
// bump allocator because it still holds data the kernel needs during boot:
// its own image, the multiboot info blob (which covers the command line, the
// module table and the ELF section table) or a module body.
type bootDataRegion struct {
	start, end uint64
}

// findBootData returns the boot-data region with the lowest start address
// that falls in [min, max); ok is false if there is none. Regions are
// compared directly rather than collected into a sorted list so that no
// allocation is required before the bump allocator itself exists.
func findBootData(kernelStart, kernelEnd uint64, min, max uint64) (found bootDataRegion, ok bool) {
	start := max

	consider := func(r bootDataRegion) {
		if min <= r.start && r.start < start {
			start = r.start
			found = r
			ok = true
		}
	}

	consider(bootDataRegion{kernelStart, kernelEnd})

	if s, e, present := multiboot.CmdLineRegion(); present {
		consider(bootDataRegion{uint64(s), uint64(e)})
	}

	if s, e := multiboot.InfoRegion(); e > s {
		consider(bootDataRegion{uint64(s), uint64(e)})
	}

	if s, e, present := multiboot.ElfSectionsRegion(); present {
		consider(bootDataRegion{uint64(s), uint64(e)})
	}

	multiboot.VisitModules(func(mod multiboot.Module) bool {
		consider(bootDataRegion{uint64(mod.Start), uint64(mod.End)})
		return true
	})

	return found, ok
}

// largestFreeRange scans [floor, ceiling) for the largest sub-range not
// occupied by any boot-data region, by repeatedly locating the next boot-data
// region above the current scan position. It mirrors the firmware-era
// allocator's own bootstrap search: at this point nothing has been carved out
// of physical memory yet, so the only way to find free space is to walk
// around the handful of known occupied regions.
func largestFreeRange(kernelStart, kernelEnd uint64, floor, ceiling uint64) (start, end uint64, ok bool) {
	var bestStart, bestEnd uint64
	next := floor

	for {
		gapStart := next
		var gapEnd uint64

		region, found := findBootData(kernelStart, kernelEnd, gapStart, ceiling)
		if found {
			gapEnd = region.start
			next = region.end
		} else {
			gapEnd = ceiling
			next = 0
		}

		if gapEnd-gapStart > bestEnd-bestStart {
			bestStart, bestEnd = gapStart, gapEnd
		}

		if next == 0 || next >= ceiling {
			break
		}
	}

	if bestStart >= bestEnd {
		return 0, 0, false
	}

	return bestStart, bestEnd, true
}
