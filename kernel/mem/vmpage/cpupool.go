package vmpage

import "pmemkernel/kernel/sync"

// cpuPoolRatio divides a segment's frame count to compute its per-CPU cache
// capacity.
const cpuPoolRatio = 1024

// cpuPoolMaxSize caps the per-CPU cache capacity regardless of segment size.
const cpuPoolMaxSize = 128

// cpuPool is a per-(segment, CPU) cache of order-0 free frames. It exists to
// keep steady-state single-page traffic off the segment lock.
type cpuPool struct {
	lock         sync.Spinlock
	size         int
	transferSize int
	list         freeList
}

func (p *cpuPool) init(size int) {
	p.size = size
	p.transferSize = (size + 1) / 2
	p.list = newFreeList()
}

func (p *cpuPool) nrPages() int { return p.list.size }

// fill refills an empty pool by pulling up to p.transferSize order-0 blocks
// from the segment's buddy system. It returns the number of pages
// transferred. Callers must hold p's lock but not s.lock; fill acquires and
// releases the segment lock itself.
func (s *segment) fill(p *cpuPool) int {
	s.lock.Acquire()
	defer s.lock.Release()

	n := 0
	for ; n < p.transferSize; n++ {
		idx, ok := s.allocFromBuddy(0)
		if !ok {
			break
		}
		s.pushFront(&p.list, idx)
	}
	return n
}

// drain returns p.transferSize pages from a full pool back to the buddy
// system. Callers must hold p's lock but not s.lock.
func (s *segment) drain(p *cpuPool) {
	s.lock.Acquire()
	defer s.lock.Release()

	for i := 0; i < p.transferSize; i++ {
		idx := s.popFront(&p.list)
		s.freeToBuddy(idx, 0)
	}
}

func computePoolSize(nrFrames uint64) int {
	size := int(nrFrames / cpuPoolRatio)
	if size == 0 {
		size = 1
	} else if size > cpuPoolMaxSize {
		size = cpuPoolMaxSize
	}
	return size
}
