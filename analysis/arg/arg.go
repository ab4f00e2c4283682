// Package arg implements the abstract reachability graph. States live in
// an arena and refer to each other by ID, so pruning a subtree only marks
// the affected states as destroyed.
package arg

import (
	"errors"
	"fmt"

	"golang.org/x/tools/container/intsets"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/utils/graph"
)

var (
	ErrInvariant = errors.New("ARG invariant violated")
	errInternal  = errors.New("internal ARG error")
)

// ID is a stable handle of an ARG state.
type ID int

// NoID is the absent handle.
const NoID ID = -1

// State is a node of the ARG, wrapping a composite abstract state.
type State struct {
	ID    ID
	State *cpa.State

	// parents[i] derived this state along edges[i].
	parents []ID
	edges   []*cfa.Edge
	// Parents that were merged into this state along a loop. They are not
	// derivation edges.
	mergedFrom []ID
	children   []ID

	coveredBy ID
	covering  []ID

	destroyed  bool
	mergedInto ID
}

func (s *State) Parents() []ID { return s.parents }

// ParentEdge returns the CFA edge from the i'th parent.
func (s *State) ParentEdge(i int) *cfa.Edge { return s.edges[i] }

func (s *State) Children() []ID { return s.children }

// CoveredBy returns the state covering s, if any.
func (s *State) CoveredBy() (ID, bool) { return s.coveredBy, s.coveredBy != NoID }

func (s *State) IsCovered() bool { return s.coveredBy != NoID }

// Covering returns the states covered by s.
func (s *State) Covering() []ID { return s.covering }

func (s *State) Destroyed() bool { return s.destroyed }

// MergedInto returns the state that replaced s in a merge, if any.
func (s *State) MergedInto() (ID, bool) { return s.mergedInto, s.mergedInto != NoID }

func (s *State) Location() *cfa.Node { return s.State.Location() }

func (s *State) IsTarget() bool { return s.Location().Target }

func (s *State) String() string {
	return fmt.Sprintf("%d%s", s.ID, s.State)
}

// ARG is an arena of states.
type ARG struct {
	states []*State
	roots  []ID
	live   int
}

func New() *ARG {
	return &ARG{}
}

func (a *ARG) newState(s *cpa.State) *State {
	st := &State{
		ID:         ID(len(a.states)),
		State:      s,
		coveredBy:  NoID,
		mergedInto: NoID,
	}
	a.states = append(a.states, st)
	a.live++
	return st
}

// Get retrieves the state with the given ID, including destroyed ones.
// Returns nil for unknown IDs.
func (a *ARG) Get(id ID) *State {
	if id < 0 || int(id) >= len(a.states) {
		return nil
	}
	return a.states[id]
}

func (a *ARG) mustLive(id ID) *State {
	st := a.Get(id)
	if st == nil || st.destroyed {
		panic(fmt.Errorf("%w: state %d is not live", errInternal, id))
	}
	return st
}

// Size returns the number of live states.
func (a *ARG) Size() int { return a.live }

// Roots returns the live roots in creation order.
func (a *ARG) Roots() []ID { return a.roots }

// Root returns the first root, or NoID.
func (a *ARG) Root() ID {
	if len(a.roots) == 0 {
		return NoID
	}
	return a.roots[0]
}

// AddRoot adds a state without parents.
func (a *ARG) AddRoot(s *cpa.State) ID {
	st := a.newState(s)
	a.roots = append(a.roots, st.ID)
	return st.ID
}

// AddChild adds s as the successor of parent along edge.
func (a *ARG) AddChild(parent ID, edge *cfa.Edge, s *cpa.State) ID {
	p := a.mustLive(parent)
	if p.IsCovered() {
		panic(fmt.Errorf("%w: expanding covered state %d", errInternal, parent))
	}
	st := a.newState(s)
	st.parents = []ID{parent}
	st.edges = []*cfa.Edge{edge}
	p.children = append(p.children, st.ID)
	return st.ID
}

// Merge replaces old with the merge result s, which was derived from
// parent along edge. The new state inherits the parents, children and
// covered states of old, and parent becomes its most recent parent.
// If parent descends from old, the derivation is only recorded as merged
// to keep the graph acyclic.
func (a *ARG) Merge(old, parent ID, edge *cfa.Edge, s *cpa.State) ID {
	o := a.mustLive(old)
	a.mustLive(parent)
	if o.IsCovered() {
		panic(fmt.Errorf("%w: merging into covered state %d", errInternal, old))
	}

	descends := a.descendants(old).Has(int(parent))

	m := a.newState(s)
	m.parents = append(m.parents, o.parents...)
	m.edges = append(m.edges, o.edges...)
	m.mergedFrom = append(m.mergedFrom, o.mergedFrom...)
	switch {
	case descends:
		m.mergedFrom = append(m.mergedFrom, parent)
	case derives(o, parent, edge):
	default:
		m.parents = append(m.parents, parent)
		m.edges = append(m.edges, edge)
		p := a.states[parent]
		p.children = append(p.children, m.ID)
	}

	for _, pid := range o.parents {
		p := a.states[pid]
		p.children = replace(p.children, old, m.ID)
	}
	m.children = o.children
	for _, cid := range o.children {
		c := a.states[cid]
		for i, pid := range c.parents {
			if pid == old {
				c.parents[i] = m.ID
			}
		}
	}
	m.covering = o.covering
	for _, cid := range o.covering {
		a.states[cid].coveredBy = m.ID
	}
	for i, r := range a.roots {
		if r == old {
			a.roots[i] = m.ID
		}
	}

	o.parents, o.edges, o.children, o.covering = nil, nil, nil, nil
	o.destroyed = true
	o.mergedInto = m.ID
	a.live--
	return m.ID
}

// derives checks whether st already has parent along edge.
func derives(st *State, parent ID, edge *cfa.Edge) bool {
	for i, p := range st.parents {
		if p == parent && st.edges[i] == edge {
			return true
		}
	}
	return false
}

func replace(ids []ID, old, new ID) []ID {
	res := make([]ID, 0, len(ids))
	seen := false
	for _, id := range ids {
		if id == old {
			id = new
		}
		if id == new {
			if seen {
				continue
			}
			seen = true
		}
		res = append(res, id)
	}
	return res
}

func remove(ids []ID, id ID) []ID {
	res := ids[:0]
	for _, x := range ids {
		if x != id {
			res = append(res, x)
		}
	}
	return res
}

// Cover marks id as covered by another state. Panics if id already has
// children.
func (a *ARG) Cover(id, by ID) {
	st, cov := a.mustLive(id), a.mustLive(by)
	switch {
	case len(st.children) > 0:
		panic(fmt.Errorf("%w: covering expanded state %d", errInternal, id))
	case id == by:
		panic(fmt.Errorf("%w: state %d covers itself", errInternal, id))
	}
	if st.IsCovered() {
		a.Uncover(id)
	}
	st.coveredBy = by
	cov.covering = append(cov.covering, id)
}

// Uncover removes the covering of id.
func (a *ARG) Uncover(id ID) {
	st := a.states[id]
	if !st.IsCovered() {
		return
	}
	cov := a.states[st.coveredBy]
	cov.covering = remove(cov.covering, id)
	st.coveredBy = NoID
}

func (a *ARG) graph() graph.Graph[ID] {
	return graph.Of(func(id ID) []ID {
		return a.states[id].children
	})
}

func (a *ARG) descendants(id ID) *intsets.Sparse {
	var set intsets.Sparse
	for _, d := range a.graph().Reachable(id) {
		set.Insert(int(d))
	}
	return &set
}

// Subtree returns id and its descendants in breadth-first order.
func (a *ARG) Subtree(id ID) []ID {
	a.mustLive(id)
	return a.graph().Reachable(id)
}

// RemoveSubtree destroys id and all its descendants. States that were
// covered by a destroyed state, but are not destroyed themselves, are
// uncovered and returned so they can be explored again.
func (a *ARG) RemoveSubtree(id ID) (removed, uncovered []ID) {
	removed = a.Subtree(id)
	var gone intsets.Sparse
	for _, r := range removed {
		gone.Insert(int(r))
	}

	for _, r := range removed {
		st := a.states[r]
		for _, pid := range st.parents {
			if !gone.Has(int(pid)) {
				p := a.states[pid]
				p.children = remove(p.children, r)
			}
		}
		for _, cid := range st.covering {
			if !gone.Has(int(cid)) {
				a.states[cid].coveredBy = NoID
				uncovered = append(uncovered, cid)
			}
		}
		if st.IsCovered() && !gone.Has(int(st.coveredBy)) {
			cov := a.states[st.coveredBy]
			cov.covering = remove(cov.covering, r)
		}
	}

	for _, r := range removed {
		st := a.states[r]
		st.parents, st.edges, st.children, st.covering, st.mergedFrom = nil, nil, nil, nil, nil
		st.coveredBy = NoID
		st.destroyed = true
		a.live--
	}

	roots := a.roots[:0]
	for _, r := range a.roots {
		if !gone.Has(int(r)) {
			roots = append(roots, r)
		}
	}
	a.roots = roots
	return
}

// PathTo returns the states and edges from a root to id. When a state has
// several parents, the most recently added one is followed.
func (a *ARG) PathTo(id ID) (states []ID, edges []*cfa.Edge) {
	st := a.mustLive(id)
	states = append(states, id)
	for len(st.parents) > 0 {
		last := len(st.parents) - 1
		edges = append(edges, st.edges[last])
		st = a.states[st.parents[last]]
		states = append(states, st.ID)
	}

	for i, j := 0, len(states)-1; i < j; i, j = i+1, j-1 {
		states[i], states[j] = states[j], states[i]
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	return
}

// ForEach visits the live states in creation order.
func (a *ARG) ForEach(do func(*State)) {
	for _, st := range a.states {
		if !st.destroyed {
			do(st)
		}
	}
}

// Targets returns the live states at target locations.
func (a *ARG) Targets() (ret []ID) {
	a.ForEach(func(st *State) {
		if st.IsTarget() {
			ret = append(ret, st.ID)
		}
	})
	return
}
