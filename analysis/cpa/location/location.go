// Package location tracks the program location. It must be the first
// component of every composite CPA.
package location

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/utils"
)

const Name = "location"

// State is the location of the program counter.
type State struct {
	Node *cfa.Node
}

func (s State) Location() *cfa.Node { return s.Node }
func (s State) String() string      { return "@" + s.Node.String() }
func (s State) Hash() uint32        { return s.Node.Hash() }

func (s State) Equal(o cpa.AbstractState) bool {
	s2, ok := o.(State)
	return ok && s.Node == s2.Node
}

// New creates the location CPA for c.
func New(c *cfa.CFA) cpa.CPA {
	return cpa.CPA{
		Name:             Name,
		MergeKind:        cpa.MergeKindSep,
		StopKind:         cpa.StopAllOrNothing,
		ProvidesLocation: true,
		Initial: func(node *cfa.Node) cpa.AbstractState {
			return State{node}
		},
		Transfer: func(s cpa.AbstractState, _ cpa.Precision, edge *cfa.Edge) []cpa.AbstractState {
			if s.(State).Node != edge.From {
				return nil
			}
			return []cpa.AbstractState{State{edge.To}}
		},
		Leq: func(a, b cpa.AbstractState) bool {
			return a.Equal(b)
		},
		Codec: cpa.Codec{
			Encode: func(s cpa.AbstractState) ([]byte, error) {
				return msgpack.Marshal(s.(State).Node.ID)
			},
			Decode: func(data []byte) (cpa.AbstractState, error) {
				var id int
				if err := msgpack.Unmarshal(data, &id); err != nil {
					return nil, err
				}
				node := c.Node(id)
				if node == nil {
					return nil, fmt.Errorf("unknown node %d", id)
				}
				return State{node}, nil
			},
		},
	}
}

var _ cpa.Located = State{}
var _ utils.Hashable = State{}
