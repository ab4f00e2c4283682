// Package interval is an interval analysis over program variables. States
// at the same location are joined, with widening at loop heads.
package interval

import (
	"fmt"
	"go/token"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/analysis/lattice"
	"github.com/cs-au-dk/argus/utils"
)

const Name = "interval"

type itv = lattice.Interval

// State is an interval environment at a location.
type State struct {
	node *cfa.Node
	env  lattice.Env[itv]
}

// Top is the state without knowledge at node.
func Top(node *cfa.Node) State {
	return State{node, lattice.NewEnv(lattice.IntervalTop())}
}

// Range retrieves the interval of x.
func (s State) Range(x string) itv { return s.env.Lookup(x) }

// Vars returns the variables with a bounded range, in name order.
func (s State) Vars() (vars []string) {
	s.env.ForEach(func(x string, _ itv) { vars = append(vars, x) })
	return
}

func (s State) Node() *cfa.Node { return s.node }

// With binds x to v.
func (s State) With(x string, v itv) State { return State{s.node, s.env.Set(x, v)} }

func (s State) Hash() uint32 {
	return utils.HashCombine(s.node.Hash(), s.env.Hash())
}

func (s State) Equal(o cpa.AbstractState) bool {
	s2, ok := o.(State)
	return ok && s.node == s2.node && s.env.Eq(s2.env)
}

func (s State) String() string { return s.env.String() }

func (s State) Leq(o State) bool {
	return s.node == o.node && s.env.Leq(o.env)
}

func (s State) Join(o State) State {
	if s.node != o.node {
		panic(fmt.Errorf("joining interval states at %s and %s", s.node, o.node))
	}
	return State{s.node, s.env.Join(o.env)}
}

var (
	falsy   = lattice.IntervalConst(0)
	truthy  = lattice.IntervalConst(1)
	unknown = lattice.IntervalOf(0, 1)
)

func boolean(v itv) itv {
	switch {
	case v.IsBot():
		return v
	case v.Eq(falsy):
		return falsy
	case !v.Contains(0):
		return truthy
	}
	return unknown
}

// eval evaluates e over intervals.
func (s State) eval(e cfa.Expr) itv {
	switch e := e.(type) {
	case cfa.Const:
		return lattice.IntervalConst(e.Value)
	case cfa.Var:
		return s.Range(e.Name)
	case cfa.Unary:
		x := s.eval(e.X)
		if e.Op == token.NOT {
			switch boolean(x) {
			case falsy:
				return truthy
			case truthy:
				return falsy
			}
			return boolean(x)
		}
		return x.Neg()
	case cfa.Binary:
		x, y := s.eval(e.X), s.eval(e.Y)
		switch e.Op {
		case token.ADD:
			return x.Add(y)
		case token.SUB:
			return x.Sub(y)
		case token.MUL:
			return x.Mul(y)
		case token.QUO:
			return x.Div(y)
		case token.REM:
			return x.Rem(y)
		case token.LAND:
			bx, by := boolean(x), boolean(y)
			switch {
			case bx.IsBot() || by.IsBot():
				return lattice.IntervalBot()
			case bx == falsy || by == falsy:
				return falsy
			case bx == truthy && by == truthy:
				return truthy
			}
			return unknown
		case token.LOR:
			bx, by := boolean(x), boolean(y)
			switch {
			case bx.IsBot() || by.IsBot():
				return lattice.IntervalBot()
			case bx == truthy || by == truthy:
				return truthy
			case bx == falsy && by == falsy:
				return falsy
			}
			return unknown
		}
		return compare(e.Op, x, y)
	}
	return lattice.IntervalTop()
}

// compare evaluates a comparison over intervals.
func compare(op token.Token, x, y itv) itv {
	if x.IsBot() || y.IsBot() {
		return lattice.IntervalBot()
	}
	switch op {
	case token.LSS:
		switch {
		case x.High().Lt(y.Low()):
			return truthy
		case y.High().Leq(x.Low()):
			return falsy
		}
	case token.LEQ:
		switch {
		case x.High().Leq(y.Low()):
			return truthy
		case y.High().Lt(x.Low()):
			return falsy
		}
	case token.GTR:
		return compare(token.LSS, y, x)
	case token.GEQ:
		return compare(token.LEQ, y, x)
	case token.EQL:
		cx, okx := x.Singleton()
		cy, oky := y.Singleton()
		switch {
		case okx && oky && cx == cy:
			return truthy
		case x.Meet(y).IsBot():
			return falsy
		}
	case token.NEQ:
		switch compare(token.EQL, x, y) {
		case truthy:
			return falsy
		case falsy:
			return truthy
		}
	}
	return unknown
}

// below returns [-∞, v.high + d] and above returns [v.low + d, ∞].
// Comparisons do not wrap, so the shifted bound clamps.
func below(v itv, d int64) itv {
	return lattice.NewInterval(lattice.MinusInfinity{}, lattice.Shift(v.High(), d))
}

func above(v itv, d int64) itv {
	return lattice.NewInterval(lattice.Shift(v.Low(), d), lattice.PlusInfinity{})
}

// constrain intersects the range of a variable expression with c.
func (s State) constrain(e cfa.Expr, c itv) (State, bool) {
	v, ok := e.(cfa.Var)
	if !ok {
		return s, !s.eval(e).Meet(c).IsBot()
	}
	r := s.Range(v.Name).Meet(c)
	if r.IsBot() {
		return s, false
	}
	return s.With(v.Name, r), true
}

// exclude removes c from a variable range if c is one of its bounds.
func (s State) exclude(e cfa.Expr, c int64) (State, bool) {
	v, ok := e.(cfa.Var)
	if !ok {
		return s, true
	}
	r := s.Range(v.Name)
	switch {
	case r.Low().Eq(lattice.FiniteBound(c)):
		r = r.Meet(above(lattice.IntervalConst(c), 1))
	case r.High().Eq(lattice.FiniteBound(c)):
		r = r.Meet(below(lattice.IntervalConst(c), -1))
	}
	if r.IsBot() {
		return s, false
	}
	return s.With(v.Name, r), true
}

// Assume narrows s by cond. Returns false if cond cannot hold.
func (s State) Assume(cond cfa.Expr) (State, bool) {
	if b := boolean(s.eval(cond)); b.IsBot() || b == falsy {
		return s, false
	}

	switch e := cond.(type) {
	case cfa.Var:
		return s.exclude(e, 0)
	case cfa.Unary:
		if e.Op != token.NOT {
			return s, true
		}
		if v, ok := e.X.(cfa.Var); ok {
			return s.constrain(v, falsy)
		}
		if cfa.IsCondition(e.X) {
			return s.Assume(cfa.Negate(e.X))
		}
		return s, true
	case cfa.Binary:
		switch e.Op {
		case token.LAND:
			left, ok := s.Assume(e.X)
			if !ok {
				return s, false
			}
			return left.Assume(e.Y)
		case token.LOR:
			left, lok := s.Assume(e.X)
			right, rok := s.Assume(e.Y)
			switch {
			case lok && rok:
				return left.Join(right), true
			case lok:
				return left, true
			case rok:
				return right, true
			}
			return s, false
		}
		return s.assumeCompare(e.Op, e.X, e.Y)
	}
	return s, true
}

func (s State) assumeCompare(op token.Token, l, r cfa.Expr) (State, bool) {
	x, y := s.eval(l), s.eval(r)
	var lc, rc itv
	switch op {
	case token.LSS:
		lc, rc = below(y, -1), above(x, 1)
	case token.LEQ:
		lc, rc = below(y, 0), above(x, 0)
	case token.GTR:
		lc, rc = above(y, 1), below(x, -1)
	case token.GEQ:
		lc, rc = above(y, 0), below(x, 0)
	case token.EQL:
		lc, rc = y, x
	case token.NEQ:
		res, ok := s, true
		if c, single := y.Singleton(); single {
			res, ok = res.exclude(l, c)
		}
		if c, single := x.Singleton(); ok && single {
			res, ok = res.exclude(r, c)
		}
		return res, ok
	default:
		return s, true
	}

	res, ok := s.constrain(l, lc)
	if !ok {
		return s, false
	}
	return res.constrain(r, rc)
}

// Post computes the successor along edge.
func (s State) Post(edge *cfa.Edge) (State, bool) {
	res := State{edge.To, s.env}
	switch op := edge.Op.(type) {
	case cfa.Assign:
		return res.With(op.Var, s.eval(op.Expr)), true
	case cfa.Assume:
		narrowed, ok := s.Assume(op.Cond)
		return State{edge.To, narrowed.env}, ok
	case cfa.Havoc:
		return State{edge.To, s.env.Forget(op.Var)}, true
	case cfa.Call:
		for i, x := range op.Params {
			res = res.With(x, s.eval(op.Args[i]))
		}
	case cfa.Return:
		if op.Var != "" {
			v := lattice.IntervalTop()
			if op.Value != nil {
				v = s.eval(op.Value)
			}
			res = res.With(op.Var, v)
		}
	}
	return res, true
}

type bound struct {
	V   int64 `msgpack:"v"`
	Inf int8  `msgpack:"inf,omitempty"`
}

func encodeBound(b lattice.IntervalBound) bound {
	switch b := b.(type) {
	case lattice.FiniteBound:
		return bound{V: int64(b)}
	case lattice.PlusInfinity:
		return bound{Inf: 1}
	}
	return bound{Inf: -1}
}

func decodeBound(b bound) lattice.IntervalBound {
	switch b.Inf {
	case 1:
		return lattice.PlusInfinity{}
	case -1:
		return lattice.MinusInfinity{}
	}
	return lattice.FiniteBound(b.V)
}

type encoded struct {
	Node int                 `msgpack:"node"`
	Vars map[string][2]bound `msgpack:"vars"`
}

// New creates the interval CPA. Merging widens at the loop heads of c.
func New(c *cfa.CFA) cpa.CPA {
	return cpa.CPA{
		Name:      Name,
		MergeKind: cpa.MergeKindJoin,
		StopKind:  cpa.StopAllOrNothing,
		Initial: func(node *cfa.Node) cpa.AbstractState {
			return Top(node)
		},
		Transfer: func(s cpa.AbstractState, _ cpa.Precision, edge *cfa.Edge) []cpa.AbstractState {
			succ, ok := s.(State).Post(edge)
			if !ok {
				return nil
			}
			return []cpa.AbstractState{succ}
		},
		Merge: func(s1, s2 cpa.AbstractState, _ cpa.Precision) cpa.AbstractState {
			a, b := s1.(State), s2.(State)
			if a.node != b.node {
				return s2
			}
			merged := b.env.Join(a.env)
			if c.IsLoopHead(b.node) {
				merged = b.env.Widen(merged, itv.Widen)
			}
			if merged.Eq(b.env) {
				return s2
			}
			return State{b.node, merged}
		},
		Leq: func(a, b cpa.AbstractState) bool {
			return a.(State).Leq(b.(State))
		},
		Join: func(a, b cpa.AbstractState) cpa.AbstractState {
			return a.(State).Join(b.(State))
		},
		Codec: cpa.Codec{
			Encode: func(s cpa.AbstractState) ([]byte, error) {
				is := s.(State)
				enc := encoded{Node: is.node.ID, Vars: map[string][2]bound{}}
				is.env.ForEach(func(x string, v itv) {
					enc.Vars[x] = [2]bound{encodeBound(v.Low()), encodeBound(v.High())}
				})
				return msgpack.Marshal(enc)
			},
			Decode: func(data []byte) (cpa.AbstractState, error) {
				var enc encoded
				if err := msgpack.Unmarshal(data, &enc); err != nil {
					return nil, err
				}
				node := c.Node(enc.Node)
				if node == nil {
					return nil, fmt.Errorf("unknown node %d", enc.Node)
				}
				s := Top(node)
				for x, bs := range enc.Vars {
					s = s.With(x, lattice.NewInterval(decodeBound(bs[0]), decodeBound(bs[1])))
				}
				return s, nil
			},
		},
	}
}
