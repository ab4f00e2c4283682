package cfa

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"strings"
)

// Builder constructs a CFA incrementally. Nodes are referred to by name
// and created on first mention inside the current function. Errors are
// collected and reported by Build.
type Builder struct {
	cfa   *CFA
	fun   *Function
	order []string
	calls []pendingCall
	errs  []error
}

type pendingCall struct {
	edge   *Edge
	result string
}

// NewBuilder creates an empty builder. The first function declared with
// Func is the program entry function.
func NewBuilder() *Builder {
	return &Builder{
		cfa: &CFA{
			Functions: map[string]*Function{},
			byName:    map[string]*Node{},
		},
	}
}

func (b *Builder) errorf(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

// Func switches to function `name`, declaring it if necessary.
func (b *Builder) Func(name string, params ...string) *Builder {
	fun, ok := b.cfa.Functions[name]
	if !ok {
		fun = &Function{Name: name}
		b.cfa.Functions[name] = fun
		b.order = append(b.order, name)
	}
	if len(params) > 0 {
		fun.Params = params
	}
	b.fun = fun
	return b
}

func (b *Builder) current() *Function {
	if b.fun == nil {
		b.Func("main")
	}
	return b.fun
}

// Node retrieves or creates the node `name` in the current function.
// The first node of a function is its entry unless Entry overrides it.
func (b *Builder) Node(name string) *Node {
	if n, ok := b.cfa.byName[name]; ok {
		return n
	}
	fun := b.current()
	n := &Node{ID: len(b.cfa.Nodes), Name: name, Function: fun.Name}
	b.cfa.Nodes = append(b.cfa.Nodes, n)
	b.cfa.byName[name] = n
	if fun.Entry == nil {
		fun.Entry = n
	}
	return n
}

// Entry declares the entry node of the current function.
func (b *Builder) Entry(name string) *Builder {
	b.current().Entry = b.Node(name)
	return b
}

// Exit declares the exit node of the current function and the expression
// it returns ("" for none).
func (b *Builder) Exit(name string, result string) *Builder {
	fun := b.current()
	fun.Exit = b.Node(name)
	if result != "" {
		e, err := ParseExpr(result)
		if err != nil {
			b.errs = append(b.errs, err)
			return b
		}
		fun.Result = e
	}
	return b
}

// Target marks the given nodes as property violations.
func (b *Builder) Target(names ...string) *Builder {
	for _, name := range names {
		b.Node(name).Target = true
	}
	return b
}

func (b *Builder) edge(from, to string, op Op) *Edge {
	e := &Edge{ID: len(b.cfa.Edges), From: b.Node(from), Op: op}
	if to != "" {
		e.To = b.Node(to)
	}
	b.cfa.Edges = append(b.cfa.Edges, e)
	return e
}

// Skip adds a no-op edge.
func (b *Builder) Skip(from, to string) *Builder {
	b.edge(from, to, Skip{})
	return b
}

// Assign adds an edge for "x = expr".
func (b *Builder) Assign(from, to, src string) *Builder {
	lhs, rhs, ok := splitAssign(src)
	if !ok || !isIdent(lhs) {
		b.errorf("%w: %q is not an assignment", ErrMalformed, src)
		return b
	}
	e, err := ParseExpr(rhs)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.edge(from, to, Assign{Var: normalizeVar(lhs), Expr: e})
	return b
}

// Assume adds an edge that is only taken when cond holds.
func (b *Builder) Assume(from, to, cond string) *Builder {
	e, err := ParseExpr(cond)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.edge(from, to, Assume{Cond: e})
	return b
}

// Branch adds the edges [cond] to `then` and [!cond] to `els`.
func (b *Builder) Branch(from, then, els, cond string) *Builder {
	e, err := ParseExpr(cond)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.edge(from, then, Assume{Cond: e})
	b.edge(from, els, Assume{Cond: Negate(e)})
	return b
}

// Havoc adds an edge assigning an arbitrary value to x.
func (b *Builder) Havoc(from, to, x string) *Builder {
	if !isIdent(x) {
		b.errorf("%w: cannot havoc %q", ErrMalformed, x)
		return b
	}
	b.edge(from, to, Havoc{Var: normalizeVar(x)})
	return b
}

// Call adds a call "f(args)" or "x = f(args)" from `from`, returning to
// `returnSite`. The call and return edges are connected to the callee
// when the CFA is built.
func (b *Builder) Call(from, returnSite, src string) *Builder {
	result, call := "", strings.TrimSpace(src)
	if lhs, rhs, ok := splitAssign(src); ok {
		result, call = normalizeVar(lhs), rhs
	}

	node, err := parser.ParseExpr(call)
	ce, ok := node.(*ast.CallExpr)
	if err != nil || !ok {
		b.errorf("%w: %q is not a call", ErrMalformed, src)
		return b
	}
	fn, ok := ce.Fun.(*ast.Ident)
	if !ok {
		b.errorf("%w: %q does not call a named function", ErrMalformed, src)
		return b
	}

	args := make([]Expr, 0, len(ce.Args))
	for _, a := range ce.Args {
		arg, err := fromAST(a)
		if err != nil {
			b.errorf("%w: %q: %v", ErrMalformed, src, err)
			return b
		}
		args = append(args, arg)
	}

	e := b.edge(from, "", Call{
		Function:   fn.Name,
		Args:       args,
		ReturnSite: b.Node(returnSite),
	})
	b.calls = append(b.calls, pendingCall{edge: e, result: result})
	return b
}

// Build connects calls to their callees, computes structural information
// and validates the result.
func (b *Builder) Build() (*CFA, error) {
	c := b.cfa
	if len(b.order) > 0 {
		c.Entry = c.Functions[b.order[0]].Entry
	}

	for _, pc := range b.calls {
		op := pc.edge.Op.(Call)
		callee, ok := c.Functions[op.Function]
		if !ok || callee.Entry == nil {
			b.errorf("%w: call to undefined function %s", ErrMalformed, op.Function)
			continue
		}
		if callee.Exit == nil {
			b.errorf("%w: function %s has no exit", ErrMalformed, op.Function)
			continue
		}
		if pc.result != "" && callee.Result == nil {
			b.errorf("%w: function %s returns no value", ErrMalformed, op.Function)
			continue
		}

		op.Params = callee.Params
		pc.edge.Op = op
		pc.edge.To = callee.Entry

		ret := &Edge{
			ID:   len(c.Edges),
			From: callee.Exit,
			To:   op.ReturnSite,
			Op:   Return{Function: callee.Name, Var: pc.result, Value: callee.Result},
		}
		c.Edges = append(c.Edges, ret)
	}

	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	for _, e := range c.Edges {
		e.From.out = append(e.From.out, e)
		e.To.in = append(e.To.in, e)
	}
	c.analyze()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *CFA {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}

func isIdent(s string) bool {
	e, err := ParseExpr(s)
	if err != nil {
		return false
	}
	_, ok := e.(Var)
	return ok
}

// normalizeVar canonicalizes the spelling of a variable name.
func normalizeVar(s string) string {
	if e, err := ParseExpr(s); err == nil {
		if v, ok := e.(Var); ok {
			return v.Name
		}
	}
	return strings.TrimSpace(s)
}
