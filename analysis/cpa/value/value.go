// Package value is an explicit-value analysis. It tracks constant values
// of the variables selected by its precision, which refinement extends.
package value

import (
	"go/token"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/analysis/lattice"
)

const Name = "value"

// State maps tracked variables to their known constant values.
// Unknown variables are absent.
type State struct {
	env lattice.Env[lattice.FlatInt]
}

// Top is the state without any knowledge.
func Top() State {
	return State{lattice.NewEnv(lattice.FlatTop())}
}

// With binds x to v.
func (s State) With(x string, v int64) State {
	return State{s.env.Set(x, lattice.FlatConst(v))}
}

// Value retrieves the known value of x.
func (s State) Value(x string) (int64, bool) {
	return s.env.Lookup(x).Value()
}

// Len returns the number of known variables.
func (s State) Len() int { return s.env.Len() }

// ForEach visits the known variables in name order.
func (s State) ForEach(do func(x string, v int64)) {
	s.env.ForEach(func(x string, v lattice.FlatInt) {
		c, _ := v.Value()
		do(x, c)
	})
}

func (s State) Hash() uint32   { return s.env.Hash() }
func (s State) String() string { return s.env.String() }

func (s State) Equal(o cpa.AbstractState) bool {
	s2, ok := o.(State)
	return ok && s.env.Eq(s2.env)
}

// Leq holds when s knows at least what o knows.
func (s State) Leq(o State) bool { return s.env.Leq(o.env) }

// Join keeps the bindings both states agree on.
func (s State) Join(o State) State { return State{s.env.Join(o.env)} }

// evalSafe evaluates e abstractly. The result is ⊤ if e depends on unknown
// variables, nondeterminism, or would divide by zero.
func (s State) evalSafe(e cfa.Expr) lattice.FlatInt {
	if cfa.HasNondet(e) {
		return lattice.FlatTop()
	}
	v, err := cfa.Eval(e, s.Value, func() int64 { return 0 })
	if err != nil {
		return lattice.FlatTop()
	}
	return lattice.FlatConst(v)
}

// assign binds x to v if x is tracked at node, and forgets it otherwise.
func (s State) assign(p Precision, node *cfa.Node, x string, v lattice.FlatInt) State {
	if !p.Tracks(node, x) {
		return State{s.env.Forget(x)}
	}
	return State{s.env.Set(x, v)}
}

// assume refines s with cond. Returns false if cond is definitely false.
func (s State) assume(p Precision, node *cfa.Node, cond cfa.Expr) (State, bool) {
	if v, ok := s.evalSafe(cond).Value(); ok {
		return s, v != 0
	}

	// Learn from equalities with constants.
	if b, ok := cond.(cfa.Binary); ok && b.Op == token.EQL {
		x, y := b.X, b.Y
		if _, ok := x.(cfa.Var); !ok {
			x, y = y, x
		}
		if v, ok := x.(cfa.Var); ok {
			if c, ok := s.evalSafe(y).Value(); ok {
				return s.assign(p, node, v.Name, lattice.FlatConst(c)), true
			}
		}
	}
	if b, ok := cond.(cfa.Binary); ok && b.Op == token.LAND {
		left, ok := s.assume(p, node, b.X)
		if !ok {
			return left, false
		}
		return left.assume(p, node, b.Y)
	}
	return s, true
}

// Post computes the successor of s along op, arriving at node.
// Returns false if op is infeasible.
func (s State) Post(p Precision, op cfa.Op, node *cfa.Node) (State, bool) {
	switch op := op.(type) {
	case cfa.Assign:
		return s.assign(p, node, op.Var, s.evalSafe(op.Expr)), true
	case cfa.Assume:
		return s.assume(p, node, op.Cond)
	case cfa.Havoc:
		return State{s.env.Forget(op.Var)}, true
	case cfa.Call:
		vals := make([]lattice.FlatInt, len(op.Args))
		for i, a := range op.Args {
			vals[i] = s.evalSafe(a)
		}
		res := s
		for i, x := range op.Params {
			res = res.assign(p, node, x, vals[i])
		}
		return res, true
	case cfa.Return:
		if op.Var == "" {
			return s, true
		}
		v := lattice.FlatTop()
		if op.Value != nil {
			v = s.evalSafe(op.Value)
		}
		return s.assign(p, node, op.Var, v), true
	}
	return s, true
}

// Restrict forgets the variables not tracked at node.
func (s State) Restrict(p Precision, node *cfa.Node) State {
	if p.all {
		return s
	}
	return State{s.env.Retain(func(x string) bool { return p.Tracks(node, x) })}
}

// New creates the value CPA. The initial precision tracks nothing unless
// trackAll is set.
func New(scope Scope, trackAll bool) cpa.CPA {
	return cpa.CPA{
		Name:      Name,
		MergeKind: cpa.MergeKindSep,
		StopKind:  cpa.StopAllOrNothing,
		Initial: func(*cfa.Node) cpa.AbstractState {
			return Top()
		},
		InitialPrecision: func(*cfa.Node) cpa.Precision {
			if trackAll {
				return TrackAll()
			}
			return NewPrecision(scope)
		},
		Transfer: func(s cpa.AbstractState, p cpa.Precision, edge *cfa.Edge) []cpa.AbstractState {
			prec := p.(Precision)
			succ, ok := s.(State).Post(prec, edge.Op, edge.To)
			if !ok {
				return nil
			}
			return []cpa.AbstractState{succ.Restrict(prec, edge.To)}
		},
		Leq: func(a, b cpa.AbstractState) bool {
			return a.(State).Leq(b.(State))
		},
		Join: func(a, b cpa.AbstractState) cpa.AbstractState {
			return a.(State).Join(b.(State))
		},
		Codec: cpa.Codec{
			Encode: func(s cpa.AbstractState) ([]byte, error) {
				vals := map[string]int64{}
				s.(State).ForEach(func(x string, v int64) { vals[x] = v })
				return msgpack.Marshal(vals)
			},
			Decode: func(data []byte) (cpa.AbstractState, error) {
				var vals map[string]int64
				if err := msgpack.Unmarshal(data, &vals); err != nil {
					return nil, err
				}
				s := Top()
				for x, v := range vals {
					s = s.With(x, v)
				}
				return s, nil
			},
		},
	}
}
