package vmpage

import (
	"pmemkernel/kernel"
	"pmemkernel/kernel/cpu"
	"pmemkernel/kernel/mem"
	"pmemkernel/kernel/sync"
	"unsafe"
)

// segment is a contiguous run of physical memory assigned to one priority
// class, along with its free lists and per-CPU caches.
type segment struct {
	start, end uint64

	pages []Page

	lock        sync.Spinlock
	freeLists   [NumOrders]freeList
	nrFreePages uint64

	cpuPools []cpuPool
}

func (s *segment) init(segIndex int, start, end uint64, pages []Page) {
	s.start, s.end = start, end
	s.pages = pages

	for i := range s.freeLists {
		s.freeLists[i] = newFreeList()
	}
	s.nrFreePages = 0

	poolSize := computePoolSize(atop(end - start))
	s.cpuPools = make([]cpuPool, cpu.NumCPU())
	for i := range s.cpuPools {
		s.cpuPools[i].init(poolSize)
	}

	for i := range pages {
		kernel.Memset(uintptr(unsafe.Pointer(&pages[i])), 0, unsafe.Sizeof(pages[i]))
		pages[i] = Page{
			PhysAddr: start + uint64(i)*uint64(mem.PageSize),
			segIndex: uint8(segIndex),
			typ:      TypeReserved,
			order:    orderUnlisted,
		}
	}
}

// alloc returns a block of 2^order frames, or ok=false if none is available.
// Order-0 requests are served from the calling CPU's cache; higher orders go
// directly to the buddy system under the segment lock.
func (s *segment) alloc(order int, typ Type) (idx int32, ok bool) {
	if order == 0 {
		slot := cpu.Pin()
		defer cpu.Unpin(slot)

		pool := &s.cpuPools[slot]

		pool.lock.Acquire()
		defer pool.lock.Release()

		if pool.nrPages() == 0 {
			if s.fill(pool) == 0 {
				return 0, false
			}
		}

		idx = s.popFront(&pool.list)
		ok = true
	} else {
		s.lock.Acquire()
		idx, ok = s.allocFromBuddy(order)
		s.lock.Release()

		if !ok {
			return 0, false
		}
	}

	s.setType(idx, order, typ)
	return idx, true
}

// free returns a block of 2^order frames previously obtained from alloc.
func (s *segment) free(idx int32, order int) {
	s.setType(idx, order, TypeFree)

	if order == 0 {
		slot := cpu.Pin()
		defer cpu.Unpin(slot)

		pool := &s.cpuPools[slot]

		pool.lock.Acquire()
		defer pool.lock.Release()

		if pool.nrPages() == pool.size {
			s.drain(pool)
		}
		s.pushFront(&pool.list, idx)
	} else {
		s.lock.Acquire()
		s.freeToBuddy(idx, order)
		s.lock.Release()
	}
}

func (s *segment) setType(idx int32, order int, typ Type) {
	n := int32(1) << uint(order)
	for i := idx; i < idx+n; i++ {
		s.pages[i].typ = typ
	}
}

func (s *segment) size() uint64 { return s.end - s.start }
