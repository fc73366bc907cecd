package vmpage

// freeList is a doubly-linked, intrusive list of page descriptors, indexed
// by position within a segment's pages slice rather than by pointer. Using
// indices instead of *Page avoids aliasing a slice element across a future
// append (segments never grow after setup, but this also keeps a list
// cheaply copiable and bounds-checked).
type freeList struct {
	size int
	head int32
}

const listEnd = int32(-1)

func newFreeList() freeList {
	return freeList{head: listEnd}
}

// pushFront links pages[idx] in as the new head of l.
func (s *segment) pushFront(l *freeList, idx int32) {
	page := &s.pages[idx]
	page.prev = listEnd
	page.next = l.head
	if l.head != listEnd {
		s.pages[l.head].prev = idx
	}
	l.head = idx
	l.size++
}

// popFront removes and returns the head of l. l must not be empty.
func (s *segment) popFront(l *freeList) int32 {
	idx := l.head
	head := &s.pages[idx]
	l.head = head.next
	if l.head != listEnd {
		s.pages[l.head].prev = listEnd
	}
	head.prev, head.next = listEnd, listEnd
	l.size--
	return idx
}

// remove unlinks pages[idx] from l, wherever in the list it sits.
func (s *segment) remove(l *freeList, idx int32) {
	page := &s.pages[idx]
	if page.prev != listEnd {
		s.pages[page.prev].next = page.next
	} else {
		l.head = page.next
	}
	if page.next != listEnd {
		s.pages[page.next].prev = page.prev
	}
	page.prev, page.next = listEnd, listEnd
	l.size--
}
