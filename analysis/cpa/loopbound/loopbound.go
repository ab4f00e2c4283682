// Package loopbound counts loop iterations and stops expanding states
// that exceed the bound given by the precision.
package loopbound

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/utils"
)

const Name = "loopbound"

// State maps loop head node IDs to the number of times they were entered.
type State struct {
	counts *immutable.SortedMap[int, int]
}

func empty() State {
	return State{utils.NewSortedMap[int, int]()}
}

// Count returns the number of times the loop at head was entered.
func (s State) Count(head *cfa.Node) int {
	n, _ := s.counts.Get(head.ID)
	return n
}

// Max returns the largest iteration count.
func (s State) Max() (max int) {
	s.forEach(func(_, n int) {
		if n > max {
			max = n
		}
	})
	return
}

func (s State) forEach(do func(head, n int)) {
	for itr := s.counts.Iterator(); !itr.Done(); {
		h, n, _ := itr.Next()
		do(h, n)
	}
}

func (s State) Hash() uint32 {
	hs := []uint32{uint32(s.counts.Len())}
	s.forEach(func(h, n int) {
		hs = append(hs, uint32(h), uint32(n))
	})
	return utils.HashCombine(hs...)
}

func (s State) Equal(o cpa.AbstractState) bool {
	s2, ok := o.(State)
	return ok && s.Leq(s2) && s2.Leq(s)
}

// Leq holds when o has at most the iteration counts of s, so o may
// still unroll every loop at least as far as s.
func (s State) Leq(o State) bool {
	leq := true
	o.forEach(func(h, n int) {
		if m, _ := s.counts.Get(h); n > m {
			leq = false
		}
	})
	return leq
}

func (s State) String() string {
	var strs []string
	s.forEach(func(h, n int) {
		strs = append(strs, "N"+strconv.Itoa(h)+":"+strconv.Itoa(n))
	})
	return "#{" + strings.Join(strs, ", ") + "}"
}

// Precision is the maximal number of iterations per loop.
type Precision struct {
	Bound int
}

func (p Precision) String() string { return "bound(" + strconv.Itoa(p.Bound) + ")" }

func (p Precision) Equal(o cpa.Precision) bool {
	p2, ok := o.(Precision)
	return ok && p == p2
}

// New creates the loop bound CPA with the given initial bound.
func New(c *cfa.CFA, bound int) cpa.CPA {
	return cpa.CPA{
		Name:      Name,
		MergeKind: cpa.MergeKindSep,
		StopKind:  cpa.StopPartial,
		Initial: func(*cfa.Node) cpa.AbstractState {
			return empty()
		},
		InitialPrecision: func(*cfa.Node) cpa.Precision {
			return Precision{bound}
		},
		Transfer: func(s cpa.AbstractState, _ cpa.Precision, edge *cfa.Edge) []cpa.AbstractState {
			ls := s.(State)
			if !c.IsLoopHead(edge.To) {
				return []cpa.AbstractState{ls}
			}
			return []cpa.AbstractState{State{ls.counts.Set(edge.To.ID, ls.Count(edge.To)+1)}}
		},
		Adjust: func(s cpa.AbstractState, p cpa.Precision, _ cpa.ReachedView) (cpa.AbstractState, cpa.Precision, cpa.Action) {
			if s.(State).Max() > p.(Precision).Bound {
				return s, p, cpa.Break
			}
			return s, p, cpa.Continue
		},
		Leq: func(a, b cpa.AbstractState) bool {
			return a.(State).Leq(b.(State))
		},
		Codec: cpa.Codec{
			Encode: func(s cpa.AbstractState) ([]byte, error) {
				counts := map[int]int{}
				s.(State).forEach(func(h, n int) { counts[h] = n })
				return msgpack.Marshal(counts)
			},
			Decode: func(data []byte) (cpa.AbstractState, error) {
				var counts map[int]int
				if err := msgpack.Unmarshal(data, &counts); err != nil {
					return nil, err
				}
				s := empty()
				for h, n := range counts {
					if c.Node(h) == nil {
						return nil, fmt.Errorf("unknown node %d", h)
					}
					s = State{s.counts.Set(h, n)}
				}
				return s, nil
			},
		},
	}
}
