package solver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa/interval"
	"github.com/cs-au-dk/argus/utils"
)

const (
	DefaultBudget    = 100000
	maxCandidates    = 24
	errNotRefutedMsg = "interval reasoning does not refute the path"
)

// Symbolic is a reference oracle. It proves infeasibility by interval
// narrowing along the path and proves feasibility only by replaying the
// path concretely with inputs drawn from the constants of the path.
// Anything else is Unknown.
type Symbolic struct {
	// Budget bounds the number of replayed steps per query.
	Budget int
}

func NewSymbolic() *Symbolic {
	return &Symbolic{Budget: DefaultBudget}
}

// narrow runs interval analysis along edges from s. Returns the state
// after every edge, stopping at the first infeasible one.
func narrow(s interval.State, edges []*cfa.Edge) ([]interval.State, bool) {
	states := make([]interval.State, 0, len(edges))
	for _, e := range edges {
		var ok bool
		if s, ok = s.Post(e); !ok {
			return states, false
		}
		states = append(states, s)
	}
	return states, true
}

func start(pc PathCondition) interval.State {
	return interval.Top(pc.Edges[0].From)
}

func (sv *Symbolic) CheckFeasibility(ctx context.Context, pc PathCondition) (Result, Model, error) {
	if len(pc.Edges) == 0 {
		return Sat, Model{}, nil
	}
	if _, ok := narrow(start(pc), pc.Edges); !ok {
		return Unsat, Model{}, nil
	}

	r := &replay{ctx: ctx, edges: pc.Edges, budget: sv.Budget, candidates: candidates(pc)}
	if r.budget <= 0 {
		r.budget = DefaultBudget
	}
	if r.run(0, map[string]int64{}, nil) {
		return Sat, Model{Inputs: r.inputs}, nil
	}
	if err := ctx.Err(); err != nil {
		return Unknown, Model{}, err
	}
	return Unknown, Model{}, nil
}

func (sv *Symbolic) Interpolant(ctx context.Context, pc PathCondition, split int) (Interpolant, error) {
	if split < 0 || split > len(pc.Edges) {
		return Interpolant{}, fmt.Errorf("%w: split %d of a path of length %d", ErrUnsupported, split, len(pc.Edges))
	}
	if len(pc.Edges) == 0 {
		return Interpolant{}, fmt.Errorf("%w: empty path", ErrUnsupported)
	}

	pre := start(pc)
	if split > 0 {
		states, ok := narrow(pre, pc.Edges[:split])
		if !ok {
			return Interpolant{False: true}, nil
		}
		pre = states[len(states)-1]
	}

	suffix := pc.Edges[split:]
	refutes := func(s interval.State) bool {
		_, ok := narrow(s, suffix)
		return !ok
	}
	if !refutes(pre) {
		return Interpolant{}, fmt.Errorf("%w: %s", ErrUnsupported, errNotRefutedMsg)
	}

	// Greedily forget bindings that are not needed for the refutation.
	keep := pre.Vars()
	for i := 0; i < len(keep); {
		if err := ctx.Err(); err != nil {
			return Interpolant{}, err
		}
		weaker := interval.Top(pre.Node())
		for j, x := range keep {
			if j != i {
				weaker = weaker.With(x, pre.Range(x))
			}
		}
		if refutes(weaker) {
			keep = append(keep[:i:i], keep[i+1:]...)
			continue
		}
		i++
	}

	conj := make([]string, len(keep))
	for i, x := range keep {
		conj[i] = fmt.Sprintf("%s ∈ %s", x, utils.StripColor(pre.Range(x).String()))
	}
	return Interpolant{Vars: keep, Formula: strings.Join(conj, " ∧ ")}, nil
}

// candidates collects the values tried for inputs: small numbers and the
// constants of the path with their neighbours.
func candidates(pc PathCondition) []int64 {
	set := map[int64]bool{0: true, 1: true, -1: true}
	var visit func(e cfa.Expr)
	visit = func(e cfa.Expr) {
		switch e := e.(type) {
		case cfa.Const:
			set[e.Value], set[e.Value+1], set[e.Value-1] = true, true, true
		case cfa.Unary:
			visit(e.X)
		case cfa.Binary:
			visit(e.X)
			visit(e.Y)
		}
	}
	for _, edge := range pc.Edges {
		for _, e := range exprs(edge.Op) {
			visit(e)
		}
	}

	vals := maps.Keys(set)
	sort.Slice(vals, func(i, j int) bool {
		ai, aj := abs(vals[i]), abs(vals[j])
		if ai != aj {
			return ai < aj
		}
		return vals[i] < vals[j]
	})
	if len(vals) > maxCandidates {
		vals = vals[:maxCandidates]
	}
	return vals
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func exprs(op cfa.Op) []cfa.Expr {
	switch op := op.(type) {
	case cfa.Assign:
		return []cfa.Expr{op.Expr}
	case cfa.Assume:
		return []cfa.Expr{op.Cond}
	case cfa.Call:
		return op.Args
	case cfa.Return:
		if op.Value != nil {
			return []cfa.Expr{op.Value}
		}
	}
	return nil
}

func countNondet(e cfa.Expr) int {
	switch e := e.(type) {
	case cfa.Nondet:
		return 1
	case cfa.Unary:
		return countNondet(e.X)
	case cfa.Binary:
		return countNondet(e.X) + countNondet(e.Y)
	}
	return 0
}

// replay searches for inputs under which every edge of the path can be
// executed concretely.
type replay struct {
	ctx        context.Context
	edges      []*cfa.Edge
	candidates []int64
	budget     int
	inputs     []Input
}

func clone(env map[string]int64) map[string]int64 {
	res := make(map[string]int64, len(env)+1)
	for x, v := range env {
		res[x] = v
	}
	return res
}

// run executes edges[i:] under env. On success, r.inputs holds the
// chosen inputs.
func (r *replay) run(i int, env map[string]int64, inputs []Input) bool {
	if i == len(r.edges) {
		r.inputs = inputs
		return true
	}
	r.budget--
	if r.budget < 0 || r.ctx.Err() != nil {
		return false
	}

	// Choose values for variables read before being written.
	for _, x := range cfa.Reads(r.edges[i].Op) {
		if _, ok := env[x]; !ok {
			for _, v := range r.candidates {
				next := clone(env)
				next[x] = v
				if r.run(i, next, append(inputs[:len(inputs):len(inputs)], Input{i, x, v})) {
					return true
				}
			}
			return false
		}
	}

	needed := 0
	for _, e := range exprs(r.edges[i].Op) {
		needed += countNondet(e)
	}
	if _, ok := r.edges[i].Op.(cfa.Havoc); ok {
		needed++
	}
	if ret, ok := r.edges[i].Op.(cfa.Return); ok && ret.Var != "" && ret.Value == nil {
		needed++
	}
	return r.choose(i, env, inputs, nil, needed)
}

// choose enumerates the nondeterministic values of edge i.
func (r *replay) choose(i int, env map[string]int64, inputs []Input, chosen []int64, needed int) bool {
	if len(chosen) == needed {
		next, ok := r.step(r.edges[i].Op, env, chosen)
		return ok && r.run(i+1, next, inputs)
	}
	for _, v := range r.candidates {
		in := Input{Step: i, Value: v}
		if h, ok := r.edges[i].Op.(cfa.Havoc); ok && len(chosen) == needed-1 {
			in.Var = h.Var
		}
		if r.choose(i, env, append(inputs[:len(inputs):len(inputs)], in), append(chosen[:len(chosen):len(chosen)], v), needed) {
			return true
		}
		if r.budget < 0 {
			return false
		}
	}
	return false
}

// step executes op concretely. Returns false if op blocks.
func (r *replay) step(op cfa.Op, env map[string]int64, chosen []int64) (map[string]int64, bool) {
	lookup := func(x string) (int64, bool) {
		v, ok := env[x]
		return v, ok
	}
	nondet := func() int64 {
		if len(chosen) == 0 {
			return 0
		}
		v := chosen[0]
		chosen = chosen[1:]
		return v
	}
	eval := func(e cfa.Expr) (int64, bool) {
		v, err := cfa.Eval(e, lookup, nondet)
		return v, err == nil
	}

	next := clone(env)
	switch op := op.(type) {
	case cfa.Assign:
		v, ok := eval(op.Expr)
		if !ok {
			return nil, false
		}
		next[op.Var] = v
	case cfa.Assume:
		v, ok := eval(op.Cond)
		if !ok || v == 0 {
			return nil, false
		}
	case cfa.Havoc:
		next[op.Var] = nondet()
	case cfa.Call:
		vals := make([]int64, len(op.Args))
		for i, a := range op.Args {
			v, ok := eval(a)
			if !ok {
				return nil, false
			}
			vals[i] = v
		}
		for i, x := range op.Params {
			next[x] = vals[i]
		}
	case cfa.Return:
		if op.Var == "" {
			break
		}
		if op.Value == nil {
			next[op.Var] = nondet()
			break
		}
		v, ok := eval(op.Value)
		if !ok {
			return nil, false
		}
		next[op.Var] = v
	}
	return next, true
}

var _ Solver = (*Symbolic)(nil)
