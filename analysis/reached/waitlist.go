package reached

import (
	"fmt"

	"github.com/cs-au-dk/argus/analysis/arg"
	"github.com/cs-au-dk/argus/utils/pq"
)

// Order is the exploration order of a waitlist.
type Order string

const (
	DFS         Order = "dfs"
	BFS         Order = "bfs"
	Topological Order = "topological"
)

var Orders = []Order{DFS, BFS, Topological}

func ParseOrder(s string) (Order, error) {
	for _, o := range Orders {
		if string(o) == s {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown waitlist order %q", s)
}

// Waitlist is the frontier of the exploration. Pushing a queued state
// again has no effect; removal is lazy.
type Waitlist struct {
	order Order
	rank  func(arg.ID) int
	seq   map[arg.ID]int
	next  int
	queue pq.PriorityQueue[arg.ID]
}

// NewWaitlist creates an empty waitlist. The topological order pops states
// by increasing rank (the reverse post-order index of their location) and
// needs rank to be set.
func NewWaitlist(order Order, rank func(arg.ID) int) *Waitlist {
	w := &Waitlist{order: order, rank: rank, seq: map[arg.ID]int{}}
	w.queue = pq.Empty[arg.ID](w.less)
	return w
}

func (w *Waitlist) less(a, b arg.ID) bool {
	switch w.order {
	case DFS:
		return w.seq[a] > w.seq[b]
	case Topological:
		if ra, rb := w.rank(a), w.rank(b); ra != rb {
			return ra < rb
		}
	}
	return w.seq[a] < w.seq[b]
}

func (w *Waitlist) Order() Order { return w.order }

// Push queues id.
func (w *Waitlist) Push(id arg.ID) {
	if w.queue.Contains(id) {
		return
	}
	w.seq[id] = w.next
	w.next++
	w.queue.Add(id)
}

// Pop dequeues the next state. Returns false if the waitlist is empty.
func (w *Waitlist) Pop() (arg.ID, bool) {
	if w.queue.IsEmpty() {
		return arg.NoID, false
	}
	id := w.queue.GetNext()
	delete(w.seq, id)
	return id, true
}

// Remove drops id from the waitlist. Returns whether it was queued.
func (w *Waitlist) Remove(id arg.ID) bool {
	return w.queue.Remove(id)
}

func (w *Waitlist) Contains(id arg.ID) bool { return w.queue.Contains(id) }

func (w *Waitlist) Len() int { return w.queue.Len() }

func (w *Waitlist) IsEmpty() bool { return w.queue.IsEmpty() }
