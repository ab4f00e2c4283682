// Package callstack matches function returns with their calls.
package callstack

import (
	"fmt"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/utils"
)

const Name = "callstack"

// DefaultMaxDepth bounds the stack depth explored for recursive programs.
const DefaultMaxDepth = 32

// State is the stack of pending return sites, innermost last.
type State struct {
	stack *immutable.List[*cfa.Node]
}

func empty() State {
	return State{immutable.NewList[*cfa.Node]()}
}

// Depth returns the number of pending calls.
func (s State) Depth() int { return s.stack.Len() }

// Top returns the innermost return site.
func (s State) Top() (*cfa.Node, bool) {
	if s.stack.Len() == 0 {
		return nil, false
	}
	return s.stack.Get(s.stack.Len() - 1), true
}

func (s State) push(n *cfa.Node) State {
	return State{s.stack.Append(n)}
}

func (s State) pop() State {
	return State{s.stack.Slice(0, s.stack.Len()-1)}
}

func (s State) Hash() uint32 {
	hs := []uint32{uint32(s.stack.Len())}
	for itr := s.stack.Iterator(); !itr.Done(); {
		_, n := itr.Next()
		hs = append(hs, n.Hash())
	}
	return utils.HashCombine(hs...)
}

func (s State) Equal(o cpa.AbstractState) bool {
	s2, ok := o.(State)
	if !ok || s.stack.Len() != s2.stack.Len() {
		return false
	}
	for i := 0; i < s.stack.Len(); i++ {
		if s.stack.Get(i) != s2.stack.Get(i) {
			return false
		}
	}
	return true
}

func (s State) String() string {
	strs := make([]string, 0, s.stack.Len())
	for itr := s.stack.Iterator(); !itr.Done(); {
		_, n := itr.Next()
		strs = append(strs, n.String())
	}
	return "[" + strings.Join(strs, " ") + "]"
}

// New creates the call stack CPA. States deeper than maxDepth are not
// expanded, which makes the exploration incomplete.
func New(c *cfa.CFA, maxDepth int) cpa.CPA {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	return cpa.CPA{
		Name:      Name,
		MergeKind: cpa.MergeKindSep,
		StopKind:  cpa.StopAllOrNothing,
		Initial: func(*cfa.Node) cpa.AbstractState {
			return empty()
		},
		Transfer: func(s cpa.AbstractState, _ cpa.Precision, edge *cfa.Edge) []cpa.AbstractState {
			cs := s.(State)
			switch op := edge.Op.(type) {
			case cfa.Call:
				return []cpa.AbstractState{cs.push(op.ReturnSite)}
			case cfa.Return:
				if top, ok := cs.Top(); ok && top == edge.To {
					return []cpa.AbstractState{cs.pop()}
				}
				return nil
			}
			return []cpa.AbstractState{cs}
		},
		Stop: cpa.StopEqual,
		Adjust: func(s cpa.AbstractState, p cpa.Precision, _ cpa.ReachedView) (cpa.AbstractState, cpa.Precision, cpa.Action) {
			if s.(State).Depth() > maxDepth {
				return s, p, cpa.Break
			}
			return s, p, cpa.Continue
		},
		Leq: func(a, b cpa.AbstractState) bool {
			return a.Equal(b)
		},
		Codec: cpa.Codec{
			Encode: func(s cpa.AbstractState) ([]byte, error) {
				cs := s.(State)
				ids := make([]int, 0, cs.stack.Len())
				for itr := cs.stack.Iterator(); !itr.Done(); {
					_, n := itr.Next()
					ids = append(ids, n.ID)
				}
				return msgpack.Marshal(ids)
			},
			Decode: func(data []byte) (cpa.AbstractState, error) {
				var ids []int
				if err := msgpack.Unmarshal(data, &ids); err != nil {
					return nil, err
				}
				cs := empty()
				for _, id := range ids {
					n := c.Node(id)
					if n == nil {
						return nil, fmt.Errorf("unknown node %d", id)
					}
					cs = cs.push(n)
				}
				return cs, nil
			},
		},
	}
}
