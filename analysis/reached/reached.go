// Package reached holds the reached set and the waitlist of the CPA
// algorithm. Both refer to abstract states by their ARG handle.
package reached

import (
	"golang.org/x/exp/slices"

	"github.com/cs-au-dk/argus/analysis/arg"
	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
)

// Entry is a reached abstract state with the precision it was explored
// under.
type Entry struct {
	ID        arg.ID
	State     *cpa.State
	Precision cpa.CompositePrecision
}

type slot struct {
	Entry
	seq int
}

// Set partitions the reached states by location. States at a location are
// kept in insertion order.
type Set struct {
	entries map[arg.ID]slot
	byNode  map[int][]arg.ID
	seq     int
	// Set when some state was not expanded because of a resource bound.
	incomplete bool
}

func NewSet() *Set {
	return &Set{
		entries: map[arg.ID]slot{},
		byNode:  map[int][]arg.ID{},
	}
}

// Add inserts e. Adding an ID twice replaces the entry but keeps its
// position.
func (r *Set) Add(e Entry) {
	if old, ok := r.entries[e.ID]; ok {
		old.Entry = e
		r.entries[e.ID] = old
		return
	}
	r.entries[e.ID] = slot{e, r.seq}
	r.seq++
	node := e.State.Location().ID
	r.byNode[node] = append(r.byNode[node], e.ID)
}

// Remove drops the entry of id. Returns whether it was present.
func (r *Set) Remove(id arg.ID) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	node := e.State.Location().ID
	ids := r.byNode[node]
	if i := slices.Index(ids, id); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
	}
	if len(ids) == 0 {
		delete(r.byNode, node)
	} else {
		r.byNode[node] = ids
	}
	return true
}

func (r *Set) Get(id arg.ID) (Entry, bool) {
	e, ok := r.entries[id]
	return e.Entry, ok
}

func (r *Set) Contains(id arg.ID) bool {
	_, ok := r.entries[id]
	return ok
}

// At returns the entries at node, oldest first.
func (r *Set) At(node *cfa.Node) []Entry {
	ids := r.byNode[node.ID]
	res := make([]Entry, len(ids))
	for i, id := range ids {
		res[i] = r.entries[id].Entry
	}
	return res
}

// UpdatePrecision replaces the precision of id.
func (r *Set) UpdatePrecision(id arg.ID, p cpa.CompositePrecision) {
	if e, ok := r.entries[id]; ok {
		e.Precision = p
		r.entries[id] = e
	}
}

// Size returns the number of reached states.
func (r *Set) Size() int { return len(r.entries) }

// IDs returns the reached states in insertion order.
func (r *Set) IDs() []arg.ID {
	ids := make([]arg.ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b arg.ID) bool {
		return r.entries[a].seq < r.entries[b].seq
	})
	return ids
}

// MarkIncomplete records that the exploration skipped some states.
func (r *Set) MarkIncomplete() { r.incomplete = true }

func (r *Set) Incomplete() bool { return r.incomplete }

var _ cpa.ReachedView = (*Set)(nil)
