package cpu

import (
	"pmemkernel/kernel/sync"
	"runtime"
)

var (
	numCPU   = runtime.NumCPU()
	slotLock sync.Spinlock
	freeSlot []int
)

func init() {
	freeSlot = make([]int, numCPU)
	for i := range freeSlot {
		freeSlot[i] = i
	}
}

// NumCPU returns the number of per-CPU slots available to callers of Pin.
func NumCPU() int {
	return numCPU
}

// Pin reserves one of the per-CPU slots for the calling goroutine and locks
// it to its current OS thread for the duration of the pin. This mirrors the
// kernel notion of "running pinned to the local CPU": while pinned, the
// caller may safely index per-CPU data with the returned slot without
// another goroutine concurrently claiming the same slot. The slot must be
// handed back to Unpin on every exit path.
func Pin() int {
	runtime.LockOSThread()

	for {
		slotLock.Acquire()
		if n := len(freeSlot); n > 0 {
			slot := freeSlot[n-1]
			freeSlot = freeSlot[:n-1]
			slotLock.Release()
			return slot
		}
		slotLock.Release()
		runtime.Gosched()
	}
}

// Unpin releases a slot previously obtained via Pin.
func Unpin(slot int) {
	slotLock.Acquire()
	freeSlot = append(freeSlot, slot)
	slotLock.Release()

	runtime.UnlockOSThread()
}
