// Package worklist implements the FIFO queue driving graph traversals.
package worklist

// Worklist is a FIFO queue of pending elements. The zero value is empty.
type Worklist[T any] struct {
	list []T
	head int
}

// StartV queues start and calls do on each element in FIFO order until the
// queue is empty. do may queue further elements with add.
func StartV[T any](start []T, do func(next T, add func(el T))) {
	var w Worklist[T]
	for _, e := range start {
		w.Add(e)
	}
	for !w.IsEmpty() {
		do(w.Next(), w.Add)
	}
}

// Next dequeues the oldest element. Returns the zero value if empty.
func (w *Worklist[T]) Next() (ret T) {
	if w.IsEmpty() {
		return
	}
	next := w.list[w.head]
	w.list[w.head] = ret
	w.head++
	if w.head == len(w.list) {
		w.list, w.head = w.list[:0], 0
	}
	return next
}

func (w *Worklist[T]) IsEmpty() bool { return w.head == len(w.list) }

func (w *Worklist[T]) Len() int { return len(w.list) - w.head }

func (w *Worklist[T]) Add(el T) { w.list = append(w.list, el) }
