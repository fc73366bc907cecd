package vmpage

// allocFromBuddy removes and returns the index of a free block of the
// requested order, splitting a larger block if necessary. ok is false if no
// block of sufficient order exists. Callers must hold s.lock.
func (s *segment) allocFromBuddy(order int) (idx int32, ok bool) {
	i := order
	for ; i < NumOrders; i++ {
		if s.freeLists[i].size != 0 {
			break
		}
	}
	if i == NumOrders {
		return 0, false
	}

	idx = s.popFront(&s.freeLists[i])
	s.pages[idx].order = orderUnlisted

	for i > order {
		i--
		buddy := idx + (1 << uint(i))
		s.pushFront(&s.freeLists[i], buddy)
		s.pages[buddy].order = uint32(i)
	}

	s.nrFreePages -= uint64(1) << uint(order)
	return idx, true
}

// freeToBuddy returns the block headed by pages[idx] (of the given order) to
// the free lists, coalescing with its buddy for as long as the buddy is
// itself a free block of the same order. Callers must hold s.lock.
func (s *segment) freeToBuddy(idx int32, order int) {
	nrPages := uint64(1) << uint(order)
	pa := s.pages[idx].PhysAddr

	for order < NumOrders-1 {
		buddyPA := pa ^ ptoa(uint64(1)<<uint(order))
		if buddyPA < s.start || buddyPA >= s.end {
			break
		}

		buddyIdx := int32(atop(buddyPA - s.start))
		if s.pages[buddyIdx].order != uint32(order) {
			break
		}

		s.remove(&s.freeLists[order], buddyIdx)
		s.pages[buddyIdx].order = orderUnlisted
		order++

		blockSize := ptoa(uint64(1) << uint(order))
		pa &^= blockSize - 1
		idx = int32(atop(pa - s.start))
	}

	s.pushFront(&s.freeLists[order], idx)
	s.pages[idx].order = uint32(order)
	s.nrFreePages += nrPages
}
