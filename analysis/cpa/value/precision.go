package value

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
)

// Scope determines where a tracked variable is tracked.
type Scope string

const (
	// ScopeGlobal tracks variables at every location.
	ScopeGlobal Scope = "global"
	// ScopeLocation tracks variables only at the locations they were
	// learned for.
	ScopeLocation Scope = "location"
)

// Precision is the set of tracked variables. It is never mutated;
// Refine returns a new precision.
type Precision struct {
	scope  Scope
	all    bool
	global map[string]bool
	local  map[int]map[string]bool
}

// NewPrecision creates the empty precision, tracking nothing.
func NewPrecision(scope Scope) Precision {
	return Precision{scope: scope, global: map[string]bool{}, local: map[int]map[string]bool{}}
}

// TrackAll creates the precision tracking every variable everywhere.
func TrackAll() Precision {
	p := NewPrecision(ScopeGlobal)
	p.all = true
	return p
}

func (p Precision) Scope() Scope { return p.scope }

// Tracks checks whether x is tracked at node.
func (p Precision) Tracks(node *cfa.Node, x string) bool {
	if p.all || p.global[x] {
		return true
	}
	return node != nil && p.local[node.ID][x]
}

// Size counts the (location, variable) pairs of the precision.
func (p Precision) Size() (n int) {
	n = len(p.global)
	for _, vs := range p.local {
		n += len(vs)
	}
	return
}

// Increment maps CFA node IDs to variables that must become tracked there.
type Increment map[int][]string

// Refine adds the increment. Under global scope every variable of the
// increment becomes tracked at every location.
func (p Precision) Refine(inc Increment) Precision {
	if p.all {
		return p
	}
	res := Precision{scope: p.scope, global: make(map[string]bool, len(p.global)), local: make(map[int]map[string]bool, len(p.local))}
	for x := range p.global {
		res.global[x] = true
	}
	for id, vs := range p.local {
		cp := make(map[string]bool, len(vs))
		for x := range vs {
			cp[x] = true
		}
		res.local[id] = cp
	}

	for id, vs := range inc {
		for _, x := range vs {
			if p.scope == ScopeGlobal {
				res.global[x] = true
				continue
			}
			if res.local[id] == nil {
				res.local[id] = map[string]bool{}
			}
			res.local[id][x] = true
		}
	}
	return res
}

// Covers checks whether every variable tracked by o is tracked by p.
func (p Precision) Covers(o Precision) bool {
	if p.all {
		return true
	}
	if o.all {
		return false
	}
	for x := range o.global {
		if !p.global[x] {
			return false
		}
	}
	for id, vs := range o.local {
		for x := range vs {
			if !p.global[x] && !p.local[id][x] {
				return false
			}
		}
	}
	return true
}

func (p Precision) Equal(o cpa.Precision) bool {
	p2, ok := o.(Precision)
	return ok && p.scope == p2.scope && p.Covers(p2) && p2.Covers(p)
}

func (p Precision) String() string {
	if p.all {
		return "track(*)"
	}
	var strs []string
	for x := range p.global {
		strs = append(strs, x)
	}
	for id, vs := range p.local {
		for x := range vs {
			strs = append(strs, x+"@N"+strconv.Itoa(id))
		}
	}
	sort.Strings(strs)
	return "track(" + strings.Join(strs, ", ") + ")"
}
