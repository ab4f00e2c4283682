// Package cpa defines configurable program analyses: a CPA bundles the
// transfer relation, merge, stop and precision adjustment operators over
// one kind of abstract state. CPAs are combined into a product by Composite.
package cpa

import (
	"errors"
	"fmt"

	"github.com/cs-au-dk/argus/analysis/cfa"
)

var (
	ErrInvalidComposite = errors.New("invalid composite CPA")
	ErrNoCodec          = errors.New("CPA has no codec")
)

// AbstractState is an immutable value produced by a CPA.
type AbstractState interface {
	String() string
	Hash() uint32
	Equal(AbstractState) bool
}

// Precision steers the operators of a CPA. Precisions are immutable:
// refinement replaces them.
type Precision interface {
	String() string
	Equal(Precision) bool
}

// Located is implemented by states that determine a program location.
type Located interface {
	Location() *cfa.Node
}

// NoPrecision is the precision of CPAs that are not refinable.
type NoPrecision struct{}

func (NoPrecision) String() string { return "∅" }

func (NoPrecision) Equal(p Precision) bool {
	_, ok := p.(NoPrecision)
	return ok
}

// Action tells the algorithm whether to expand a state after precision
// adjustment.
type Action int

const (
	Continue Action = iota
	Break
)

func (a Action) String() string {
	if a == Break {
		return "BREAK"
	}
	return "CONTINUE"
}

// MergeKind declares how a component merges states at the same location.
type MergeKind int

const (
	// MergeKindSep never merges.
	MergeKindSep MergeKind = iota
	// MergeKindJoin merges by join.
	MergeKindJoin
)

// StopKind declares how a component participates in the composite stop
// operator.
type StopKind int

const (
	// StopAllOrNothing components must always be covered.
	StopAllOrNothing StopKind = iota
	// StopPartial components may be covered selectively.
	StopPartial
)

// ReachedView exposes the reached set to precision adjustment.
type ReachedView interface {
	Size() int
}

// Codec serializes states of one CPA for inter-block messages.
type Codec struct {
	Encode func(AbstractState) ([]byte, error)
	Decode func([]byte) (AbstractState, error)
}

// CPA is a named bundle of operators over one kind of abstract state.
// Merge and Stop may be left nil, in which case they are derived from
// MergeKind, Join and Leq. Adjust may be left nil for the identity.
type CPA struct {
	Name      string
	MergeKind MergeKind
	StopKind  StopKind
	// ProvidesLocation is set for CPAs whose states implement Located.
	ProvidesLocation bool

	Initial          func(node *cfa.Node) AbstractState
	InitialPrecision func(node *cfa.Node) Precision
	// Transfer computes the abstract successors along edge. An empty
	// result means the edge is infeasible.
	Transfer func(s AbstractState, p Precision, edge *cfa.Edge) []AbstractState
	// Merge returns s2 unchanged if s1 and s2 should not be combined.
	Merge func(s1, s2 AbstractState, p Precision) AbstractState
	// Stop reports whether s is covered by the reached states.
	Stop   func(s AbstractState, reached []AbstractState, p Precision) bool
	Adjust func(s AbstractState, p Precision, reached ReachedView) (AbstractState, Precision, Action)

	// Leq is the partial order of the abstract domain.
	Leq func(a, b AbstractState) bool
	// Join is the least upper bound, if the domain has one.
	Join func(a, b AbstractState) AbstractState

	Codec Codec
}

func (c CPA) String() string { return c.Name }

// validate checks a component declaration and fills in derived operators.
func (c CPA) validate() (CPA, error) {
	switch {
	case c.Name == "":
		return c, fmt.Errorf("%w: component without a name", ErrInvalidComposite)
	case c.Initial == nil || c.Transfer == nil || c.Leq == nil:
		return c, fmt.Errorf("%w: component %s lacks an initial state, transfer relation or partial order", ErrInvalidComposite, c.Name)
	case c.MergeKind == MergeKindJoin && c.Join == nil:
		return c, fmt.Errorf("%w: component %s merges by join but has no join", ErrInvalidComposite, c.Name)
	}

	if c.InitialPrecision == nil {
		c.InitialPrecision = func(*cfa.Node) Precision { return NoPrecision{} }
	}
	if c.Merge == nil {
		if c.MergeKind == MergeKindJoin {
			c.Merge = MergeJoin(c.Join)
		} else {
			c.Merge = MergeSep
		}
	}
	if c.Stop == nil {
		c.Stop = StopSep(c.Leq)
	}
	if c.Adjust == nil {
		c.Adjust = AdjustIdentity
	}
	return c, nil
}

// MergeSep never merges.
func MergeSep(_, s2 AbstractState, _ Precision) AbstractState {
	return s2
}

// MergeJoin merges by joining, returning s2 itself when the join does not
// add information.
func MergeJoin(join func(a, b AbstractState) AbstractState) func(s1, s2 AbstractState, p Precision) AbstractState {
	return func(s1, s2 AbstractState, _ Precision) AbstractState {
		j := join(s1, s2)
		if j.Equal(s2) {
			return s2
		}
		return j
	}
}

// StopSep covers s if some reached state is greater or equal.
func StopSep(leq func(a, b AbstractState) bool) func(s AbstractState, reached []AbstractState, p Precision) bool {
	return func(s AbstractState, reached []AbstractState, _ Precision) bool {
		for _, r := range reached {
			if leq(s, r) {
				return true
			}
		}
		return false
	}
}

// StopEqual covers s if an equal state was reached.
func StopEqual(s AbstractState, reached []AbstractState, _ Precision) bool {
	for _, r := range reached {
		if s.Equal(r) {
			return true
		}
	}
	return false
}

// StopNever never covers.
func StopNever(AbstractState, []AbstractState, Precision) bool {
	return false
}

// AdjustIdentity keeps the state and precision.
func AdjustIdentity(s AbstractState, p Precision, _ ReachedView) (AbstractState, Precision, Action) {
	return s, p, Continue
}
