// Package distributed analyses the blocks of a partitioned CFA in
// separate workers that exchange boundary states as messages, until no
// block has anything left to say.
package distributed

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/cs-au-dk/argus/utils/metrics"
)

var (
	ErrMessage = errors.New("malformed message")
	// ErrChain reports a block state whose path from the program entry
	// is unknown.
	ErrChain = errors.New("missing entry chain")
)

// Environment is the sender of the messages seeding the root block.
const Environment = -1

type Kind string

const (
	// KindState carries an abstract state entering the receiver.
	KindState Kind = "state"
	// KindRefine carries a precision increment and opens a new epoch.
	KindRefine Kind = "refine"
)

// Message is an immutable value passed between blocks. Payloads are
// msgpack encoded: a composite state for KindState and a precision
// increment for KindRefine.
type Message struct {
	ID   uuid.UUID `msgpack:"id"`
	Kind Kind      `msgpack:"kind"`
	From int       `msgpack:"from"`
	To   int       `msgpack:"to"`
	// Entry is the CFA node at which the state enters the receiver.
	Entry   int    `msgpack:"entry"`
	Payload []byte `msgpack:"payload"`
	Epoch   int    `msgpack:"epoch"`
	// Seq numbers the messages of one sender/receiver pair.
	Seq int `msgpack:"seq"`
	// Chains hold the IDs of the CFA edges of paths leading from the
	// program entry to the state.
	Chains [][]int `msgpack:"chains"`
}

func sender(id int) string {
	if id == Environment {
		return "env"
	}
	return fmt.Sprintf("B%d", id)
}

func (m Message) String() string {
	return fmt.Sprintf("%s %s->%s #%d@%d entry N%d", m.Kind, sender(m.From), sender(m.To), m.Seq, m.Epoch, m.Entry)
}

type pair struct{ from, to int }

// Network holds one FIFO queue per ordered pair of blocks.
type Network struct {
	queues  map[pair][]Message
	seq     map[pair]int
	metrics *metrics.Metrics

	sent, delivered int
}

func NewNetwork(m *metrics.Metrics) *Network {
	return &Network{queues: map[pair][]Message{}, seq: map[pair]int{}, metrics: m}
}

// Send enqueues m, assigning its ID and sequence number.
func (n *Network) Send(m Message) Message {
	p := pair{m.From, m.To}
	m.ID = uuid.New()
	m.Seq = n.seq[p]
	n.seq[p]++
	n.queues[p] = append(n.queues[p], m)
	n.sent++
	n.metrics.MessageSent(string(m.Kind))
	return m
}

// Pending returns the number of queued messages.
func (n *Network) Pending() (count int) {
	for _, q := range n.queues {
		count += len(q)
	}
	return
}

// Drain empties every queue. The messages for each receiver are ordered
// by sender, and by sequence number within a sender.
func (n *Network) Drain() map[int][]Message {
	pairs := make([]pair, 0, len(n.queues))
	for p, q := range n.queues {
		if len(q) > 0 {
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].to != pairs[j].to {
			return pairs[i].to < pairs[j].to
		}
		return pairs[i].from < pairs[j].from
	})

	inbox := map[int][]Message{}
	for _, p := range pairs {
		inbox[p.to] = append(inbox[p.to], n.queues[p]...)
		n.delivered += len(n.queues[p])
		delete(n.queues, p)
	}
	return inbox
}

// Sent returns the number of messages sent so far.
func (n *Network) Sent() int { return n.sent }

// Delivered returns the number of messages drained so far.
func (n *Network) Delivered() int { return n.delivered }
