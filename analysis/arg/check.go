package arg

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
	"golang.org/x/tools/container/intsets"
)

// Check verifies the structural invariants of the ARG: parent and child
// lists agree, derivation edges are acyclic, covered states have no
// children, and only live states are referenced.
func (a *ARG) Check() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...))
	}

	live := func(id ID) bool {
		st := a.Get(id)
		return st != nil && !st.destroyed
	}

	a.ForEach(func(st *State) {
		if len(st.parents) != len(st.edges) {
			fail("state %d has %d parents but %d parent edges", st.ID, len(st.parents), len(st.edges))
		}
		for i, pid := range st.parents {
			switch {
			case !live(pid):
				fail("state %d has dead parent %d", st.ID, pid)
			case !slices.Contains(a.states[pid].children, st.ID):
				fail("state %d is not a child of its parent %d", st.ID, pid)
			case i < len(st.edges) && st.edges[i].To != st.Location():
				fail("state %d at %s is derived along %s", st.ID, st.Location(), st.edges[i])
			}
		}
		for _, cid := range st.children {
			if !live(cid) || !slices.Contains(a.states[cid].parents, st.ID) {
				fail("state %d has stale child %d", st.ID, cid)
			}
		}
		if st.IsCovered() {
			if len(st.children) > 0 {
				fail("covered state %d has children", st.ID)
			}
			if !live(st.coveredBy) || !slices.Contains(a.states[st.coveredBy].covering, st.ID) {
				fail("state %d is covered by stale state %d", st.ID, st.coveredBy)
			}
		}
		for _, cid := range st.covering {
			if !live(cid) || a.states[cid].coveredBy != st.ID {
				fail("state %d claims to cover %d", st.ID, cid)
			}
		}
	})

	if cycle := a.cycle(); cycle != NoID {
		fail("state %d is its own ancestor", cycle)
	}
	return errors.Join(errs...)
}

// cycle returns a state on a derivation cycle, or NoID.
func (a *ARG) cycle() ID {
	var done, onStack intsets.Sparse
	var visit func(id ID) ID
	visit = func(id ID) ID {
		if done.Has(int(id)) {
			return NoID
		}
		if !onStack.Insert(int(id)) {
			return id
		}
		for _, pid := range a.states[id].parents {
			if c := visit(pid); c != NoID {
				return c
			}
		}
		onStack.Remove(int(id))
		done.Insert(int(id))
		return NoID
	}

	found := NoID
	a.ForEach(func(st *State) {
		if found == NoID {
			found = visit(st.ID)
		}
	})
	return found
}
