package cpa

import (
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/utils"
)

// MergePolicy combines the component merge operators.
type MergePolicy string

const (
	// MergePolicySep never merges composite states.
	MergePolicySep MergePolicy = "sep"
	// MergePolicyAgree merges when all separating components agree,
	// merging the remaining components with their own operator.
	MergePolicyAgree MergePolicy = "agree"
)

// StopPolicy combines the component stop operators.
type StopPolicy string

const (
	// StopPolicyAll covers a state if one reached state covers every component.
	StopPolicyAll StopPolicy = "all"
	// StopPolicyAny covers a state if one reached state covers every
	// all-or-nothing component and at least one partial component.
	StopPolicyAny StopPolicy = "any"
)

// Composite is the product of an ordered list of component CPAs. The
// first component determines the location of composite states.
type Composite struct {
	components []CPA
	merge      MergePolicy
	stop       StopPolicy
}

// NewComposite validates the configuration and builds the product.
func NewComposite(components []CPA, merge MergePolicy, stop StopPolicy) (*Composite, error) {
	if len(components) == 0 {
		return nil, fmt.Errorf("%w: no components", ErrInvalidComposite)
	}

	c := &Composite{merge: merge, stop: stop}
	names := map[string]bool{}
	partial := false
	for i, comp := range components {
		comp, err := comp.validate()
		if err != nil {
			return nil, err
		}
		if names[comp.Name] {
			return nil, fmt.Errorf("%w: duplicate component %s", ErrInvalidComposite, comp.Name)
		}
		names[comp.Name] = true

		if comp.ProvidesLocation != (i == 0) {
			return nil, fmt.Errorf("%w: the location providing component must come first, found %s at position %d", ErrInvalidComposite, comp.Name, i)
		}
		partial = partial || comp.StopKind == StopPartial
		c.components = append(c.components, comp)
	}

	switch merge {
	case MergePolicySep, MergePolicyAgree:
	default:
		return nil, fmt.Errorf("%w: unknown merge policy %q", ErrInvalidComposite, merge)
	}

	switch stop {
	case StopPolicyAll:
	case StopPolicyAny:
		if !partial {
			return nil, fmt.Errorf("%w: stop policy %q needs a component with partial stop", ErrInvalidComposite, stop)
		}
	default:
		return nil, fmt.Errorf("%w: unknown stop policy %q", ErrInvalidComposite, stop)
	}

	return c, nil
}

// Components returns the configured components in order.
func (c *Composite) Components() []CPA { return c.components }

// Len returns the number of components.
func (c *Composite) Len() int { return len(c.components) }

// Index returns the position of the named component, or -1.
func (c *Composite) Index(name string) int {
	for i, comp := range c.components {
		if comp.Name == name {
			return i
		}
	}
	return -1
}

// State is a composite abstract state, holding one sub-state per component.
type State struct {
	parts []AbstractState
	hash  uint32
}

func newState(parts []AbstractState) *State {
	hashes := make([]uint32, len(parts))
	for i, p := range parts {
		hashes[i] = p.Hash()
	}
	return &State{parts: parts, hash: utils.HashCombine(hashes...)}
}

// Component returns the sub-state of component i.
func (s *State) Component(i int) AbstractState { return s.parts[i] }

// Len returns the number of sub-states.
func (s *State) Len() int { return len(s.parts) }

// Location returns the location determined by the first component.
func (s *State) Location() *cfa.Node {
	return s.parts[0].(Located).Location()
}

func (s *State) Hash() uint32 { return s.hash }

func (s *State) Equal(o AbstractState) bool {
	s2, ok := o.(*State)
	if !ok {
		return false
	}
	if s == s2 {
		return true
	}
	if s.hash != s2.hash || len(s.parts) != len(s2.parts) {
		return false
	}
	for i := range s.parts {
		if !s.parts[i].Equal(s2.parts[i]) {
			return false
		}
	}
	return true
}

func (s *State) String() string {
	strs := make([]string, len(s.parts))
	for i, p := range s.parts {
		strs[i] = p.String()
	}
	return "⟨" + strings.Join(strs, ", ") + "⟩"
}

// CompositePrecision holds one precision per component.
type CompositePrecision struct {
	parts []Precision
}

// Component returns the precision of component i.
func (p CompositePrecision) Component(i int) Precision { return p.parts[i] }

// With replaces the precision of component i.
func (p CompositePrecision) With(i int, q Precision) CompositePrecision {
	parts := make([]Precision, len(p.parts))
	copy(parts, p.parts)
	parts[i] = q
	return CompositePrecision{parts}
}

func (p CompositePrecision) Equal(o Precision) bool {
	p2, ok := o.(CompositePrecision)
	if !ok || len(p.parts) != len(p2.parts) {
		return false
	}
	for i := range p.parts {
		if !p.parts[i].Equal(p2.parts[i]) {
			return false
		}
	}
	return true
}

func (p CompositePrecision) String() string {
	strs := make([]string, len(p.parts))
	for i, q := range p.parts {
		strs[i] = q.String()
	}
	return "⟨" + strings.Join(strs, ", ") + "⟩"
}

// Initial builds the initial composite state at node.
func (c *Composite) Initial(node *cfa.Node) *State {
	parts := make([]AbstractState, len(c.components))
	for i, comp := range c.components {
		parts[i] = comp.Initial(node)
	}
	return newState(parts)
}

// InitialPrecision builds the initial composite precision at node.
func (c *Composite) InitialPrecision(node *cfa.Node) CompositePrecision {
	parts := make([]Precision, len(c.components))
	for i, comp := range c.components {
		parts[i] = comp.InitialPrecision(node)
	}
	return CompositePrecision{parts}
}

// Compose assembles a composite state from component states.
// Panics if the number of parts does not match the configuration.
func (c *Composite) Compose(parts ...AbstractState) *State {
	if len(parts) != len(c.components) {
		panic(fmt.Errorf("composite of %d components built from %d parts", len(c.components), len(parts)))
	}
	return newState(parts)
}

// Transfer applies each component's transfer relation. The successors are
// the cartesian product of the component successors; if any component
// finds the edge infeasible, there are none.
func (c *Composite) Transfer(s *State, p CompositePrecision, edge *cfa.Edge) []*State {
	succs := make([][]AbstractState, len(c.components))
	for i, comp := range c.components {
		succs[i] = comp.Transfer(s.parts[i], p.parts[i], edge)
		if len(succs[i]) == 0 {
			return nil
		}
	}

	var res []*State
	var rec func(i int, acc []AbstractState)
	rec = func(i int, acc []AbstractState) {
		if i == len(succs) {
			parts := make([]AbstractState, len(acc))
			copy(parts, acc)
			res = append(res, newState(parts))
			return
		}
		for _, si := range succs[i] {
			rec(i+1, append(acc, si))
		}
	}
	rec(0, make([]AbstractState, 0, len(succs)))
	return res
}

// Merge combines s1 into s2 under the merge policy. Returns s2 itself
// when the states are not merged.
func (c *Composite) Merge(s1, s2 *State, p CompositePrecision) *State {
	if c.merge == MergePolicySep {
		return s2
	}

	parts := make([]AbstractState, len(c.components))
	changed := false
	for i, comp := range c.components {
		if comp.MergeKind == MergeKindSep {
			if !s1.parts[i].Equal(s2.parts[i]) {
				return s2
			}
			parts[i] = s2.parts[i]
			continue
		}
		parts[i] = comp.Merge(s1.parts[i], s2.parts[i], p.parts[i])
		changed = changed || !parts[i].Equal(s2.parts[i])
	}

	if !changed {
		return s2
	}
	return newState(parts)
}

// Covers returns the index of the first reached state that covers s,
// or -1 if s is not covered.
func (c *Composite) Covers(s *State, reached []*State, p CompositePrecision) int {
	for j, r := range reached {
		if c.covers(s, r, p) {
			return j
		}
	}
	return -1
}

func (c *Composite) covers(s, r *State, p CompositePrecision) bool {
	partial := false
	for i, comp := range c.components {
		covered := comp.Stop(s.parts[i], []AbstractState{r.parts[i]}, p.parts[i])
		switch {
		case covered && comp.StopKind == StopPartial:
			partial = true
		case !covered && (c.stop == StopPolicyAll || comp.StopKind == StopAllOrNothing):
			return false
		}
	}
	return c.stop == StopPolicyAll || partial
}

// Stop reports whether s is covered by one of the reached states.
func (c *Composite) Stop(s *State, reached []*State, p CompositePrecision) bool {
	return c.Covers(s, reached, p) >= 0
}

// Adjust applies the precision adjustment of every component. The state
// is discarded if any component breaks.
func (c *Composite) Adjust(s *State, p CompositePrecision, reached ReachedView) (*State, CompositePrecision, Action) {
	var parts []AbstractState
	var precs []Precision
	for i, comp := range c.components {
		si, pi, action := comp.Adjust(s.parts[i], p.parts[i], reached)
		if action == Break {
			return s, p, Break
		}
		if !si.Equal(s.parts[i]) {
			if parts == nil {
				parts = append([]AbstractState(nil), s.parts...)
			}
			parts[i] = si
		}
		if !pi.Equal(p.parts[i]) {
			if precs == nil {
				precs = append([]Precision(nil), p.parts...)
			}
			precs[i] = pi
		}
	}

	if parts != nil {
		s = newState(parts)
	}
	if precs != nil {
		p = CompositePrecision{precs}
	}
	return s, p, Continue
}

// Leq is the componentwise partial order.
func (c *Composite) Leq(a, b *State) bool {
	for i, comp := range c.components {
		if !comp.Leq(a.parts[i], b.parts[i]) {
			return false
		}
	}
	return true
}

// Encode serializes a composite state with the component codecs.
func (c *Composite) Encode(s *State) ([]byte, error) {
	parts := make([][]byte, len(c.components))
	for i, comp := range c.components {
		if comp.Codec.Encode == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoCodec, comp.Name)
		}
		data, err := comp.Codec.Encode(s.parts[i])
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", comp.Name, err)
		}
		parts[i] = data
	}
	return msgpack.Marshal(parts)
}

// Decode deserializes a composite state produced by Encode.
func (c *Composite) Decode(data []byte) (*State, error) {
	var raw [][]byte
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) != len(c.components) {
		return nil, fmt.Errorf("encoded state has %d components, expected %d", len(raw), len(c.components))
	}

	parts := make([]AbstractState, len(c.components))
	for i, comp := range c.components {
		if comp.Codec.Decode == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoCodec, comp.Name)
		}
		part, err := comp.Codec.Decode(raw[i])
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", comp.Name, err)
		}
		parts[i] = part
	}
	return newState(parts), nil
}
