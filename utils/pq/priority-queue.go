package pq

import "container/heap"

// lessFunc is a comparison function between two elements of type T.
type lessFunc[T any] func(T, T) bool

// _heap satisfies the heap.Interface. It includes a list of elements,
// and a comparison function.
type _heap[T any] struct {
	list []T
	less lessFunc[T]
}

// Len returns the size of the heap.
func (h _heap[T]) Len() int {
	return len(h.list)
}

// Swap interchanges the values of the elements at the given indices.
func (h _heap[T]) Swap(i, j int) {
	l := h.list
	l[i], l[j] = l[j], l[i]
}

// Push appends a given element to the heap.
func (h *_heap[T]) Push(x any) {
	h.list = append(h.list, x.(T))
}

// Pop retrieves the last element in the heap.
func (h *_heap[T]) Pop() any {
	old := h.list
	n := len(old)
	x := old[n-1]
	h.list = old[0 : n-1]
	return x
}

// Less compares two elements in the heap at the given indices.
func (h _heap[T]) Less(i, j int) bool {
	return h.less(h.list[i], h.list[j])
}

var _ heap.Interface = (*_heap[int])(nil)

// PriorityQueue implements a priority queue without duplicates.
// Removal is lazy: removed elements stay in the heap until they surface.
type PriorityQueue[T comparable] struct {
	heap _heap[T]
	// Elements currently in the queue, mapped to whether they are live.
	elements map[T]bool
	live     int
}

// Empty creates an empty priority queue for elements of a given type,
// with the given comparison function.
func Empty[T comparable](less lessFunc[T]) PriorityQueue[T] {
	return PriorityQueue[T]{
		heap:     _heap[T]{nil, less},
		elements: make(map[T]bool),
	}
}

// IsEmpty checks whether the priority queue is empty.
func (p *PriorityQueue[T]) IsEmpty() bool {
	return p.live == 0
}

// Len returns the number of live elements.
func (p *PriorityQueue[T]) Len() int {
	return p.live
}

// Contains checks whether x is queued.
func (p *PriorityQueue[T]) Contains(x T) bool {
	return p.elements[x]
}

// GetNext pops the top element from the heap.
// Panics if the queue is empty.
func (p *PriorityQueue[T]) GetNext() T {
	for {
		el := heap.Pop(&p.heap).(T)
		live, found := p.elements[el]
		if !found {
			continue
		}
		delete(p.elements, el)
		if live {
			p.live--
			return el
		}
	}
}

// Add inserts the given element in the heap, if not already present.
func (p *PriorityQueue[T]) Add(x T) {
	if live, found := p.elements[x]; found {
		if !live {
			// The priority of x may have changed since it was removed.
			p.elements[x] = true
			p.live++
			p.Rebuild()
		}
		return
	}

	p.elements[x] = true
	p.live++
	heap.Push(&p.heap, x)
}

// Remove drops x from the queue. Returns whether x was queued.
func (p *PriorityQueue[T]) Remove(x T) bool {
	if !p.elements[x] {
		return false
	}
	p.elements[x] = false
	p.live--
	return true
}

// Rebuild re-establishes all the invariants of the heap.
func (p *PriorityQueue[T]) Rebuild() {
	heap.Init(&p.heap)
}
