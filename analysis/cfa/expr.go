package cfa

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

var (
	ErrDivByZero = errors.New("division by zero")
	ErrUnbound   = errors.New("unbound variable")
)

// Expr is an integer expression over program variables. Boolean
// expressions evaluate to 0 (false) or 1 (true).
type Expr interface {
	fmt.Stringer
	expr()
}

type (
	// Const is an integer literal.
	Const struct{ Value int64 }
	// Var reads a program variable.
	Var struct{ Name string }
	// Nondet yields an arbitrary value each time it is evaluated.
	Nondet struct{}
	// Unary is one of -X, !X.
	Unary struct {
		Op token.Token
		X  Expr
	}
	// Binary is an arithmetic, comparison or logical operation.
	Binary struct {
		Op   token.Token
		X, Y Expr
	}
)

func (Const) expr()  {}
func (Var) expr()    {}
func (Nondet) expr() {}
func (Unary) expr()  {}
func (Binary) expr() {}

func (e Const) String() string { return strconv.FormatInt(e.Value, 10) }
func (e Var) String() string   { return e.Name }
func (Nondet) String() string  { return "nondet()" }

func (e Unary) String() string {
	return e.Op.String() + paren(e.X)
}

func (e Binary) String() string {
	return paren(e.X) + " " + e.Op.String() + " " + paren(e.Y)
}

func paren(e Expr) string {
	switch e.(type) {
	case Binary:
		return "(" + e.String() + ")"
	}
	return e.String()
}

// ParseExpr parses an expression in Go syntax. Supported are integer
// literals, identifiers (true and false denote 1 and 0), nondet(),
// the arithmetic operators + - * / %, comparisons and the logical
// operators && || !.
func ParseExpr(src string) (Expr, error) {
	node, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformed, src, err)
	}
	e, err := fromAST(node)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformed, src, err)
	}
	return e, nil
}

// MustParseExpr is like ParseExpr but panics on malformed input.
func MustParseExpr(src string) Expr {
	e, err := ParseExpr(src)
	if err != nil {
		panic(err)
	}
	return e
}

func fromAST(node ast.Expr) (Expr, error) {
	switch n := node.(type) {
	case *ast.ParenExpr:
		return fromAST(n.X)
	case *ast.BasicLit:
		if n.Kind != token.INT {
			return nil, fmt.Errorf("unsupported literal %s", n.Value)
		}
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return nil, err
		}
		return Const{v}, nil
	case *ast.Ident:
		switch n.Name {
		case "true":
			return Const{1}, nil
		case "false":
			return Const{0}, nil
		}
		return Var{n.Name}, nil
	case *ast.SelectorExpr:
		// Qualified names such as f.x denote function-local variables.
		x, err := fromAST(n.X)
		if err != nil {
			return nil, err
		}
		if v, ok := x.(Var); ok {
			return Var{v.Name + "." + n.Sel.Name}, nil
		}
		return nil, fmt.Errorf("unsupported selector %s", n.Sel.Name)
	case *ast.CallExpr:
		if id, ok := n.Fun.(*ast.Ident); ok && id.Name == "nondet" && len(n.Args) == 0 {
			return Nondet{}, nil
		}
		return nil, fmt.Errorf("unsupported call")
	case *ast.UnaryExpr:
		x, err := fromAST(n.X)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.ADD:
			return x, nil
		case token.SUB:
			if c, ok := x.(Const); ok {
				return Const{-c.Value}, nil
			}
			return Unary{token.SUB, x}, nil
		case token.NOT:
			return Unary{token.NOT, x}, nil
		}
		return nil, fmt.Errorf("unsupported unary operator %s", n.Op)
	case *ast.BinaryExpr:
		switch n.Op {
		case token.ADD, token.SUB, token.MUL, token.QUO, token.REM,
			token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ,
			token.LAND, token.LOR:
		default:
			return nil, fmt.Errorf("unsupported binary operator %s", n.Op)
		}
		x, err := fromAST(n.X)
		if err != nil {
			return nil, err
		}
		y, err := fromAST(n.Y)
		if err != nil {
			return nil, err
		}
		return Binary{n.Op, x, y}, nil
	}
	return nil, fmt.Errorf("unsupported expression %T", node)
}

// Vars collects the variables read by e.
func Vars(e Expr) (vars []string) {
	seen := map[string]bool{}
	var rec func(Expr)
	rec = func(e Expr) {
		switch e := e.(type) {
		case Var:
			if !seen[e.Name] {
				seen[e.Name] = true
				vars = append(vars, e.Name)
			}
		case Unary:
			rec(e.X)
		case Binary:
			rec(e.X)
			rec(e.Y)
		}
	}
	rec(e)
	return
}

// HasNondet checks whether e contains a nondet() call.
func HasNondet(e Expr) bool {
	switch e := e.(type) {
	case Nondet:
		return true
	case Unary:
		return HasNondet(e.X)
	case Binary:
		return HasNondet(e.X) || HasNondet(e.Y)
	}
	return false
}

// Negate returns the logical negation of a condition, pushing the
// negation through comparisons and connectives.
func Negate(e Expr) Expr {
	switch e := e.(type) {
	case Const:
		return Const{b2i(e.Value == 0)}
	case Unary:
		if e.Op == token.NOT {
			return e.X
		}
	case Binary:
		switch e.Op {
		case token.EQL:
			return Binary{token.NEQ, e.X, e.Y}
		case token.NEQ:
			return Binary{token.EQL, e.X, e.Y}
		case token.LSS:
			return Binary{token.GEQ, e.X, e.Y}
		case token.GEQ:
			return Binary{token.LSS, e.X, e.Y}
		case token.GTR:
			return Binary{token.LEQ, e.X, e.Y}
		case token.LEQ:
			return Binary{token.GTR, e.X, e.Y}
		case token.LAND:
			return Binary{token.LOR, Negate(e.X), Negate(e.Y)}
		case token.LOR:
			return Binary{token.LAND, Negate(e.X), Negate(e.Y)}
		}
	}
	return Unary{token.NOT, e}
}

// IsCondition reports whether e has a boolean top-level operator.
func IsCondition(e Expr) bool {
	switch e := e.(type) {
	case Unary:
		return e.Op == token.NOT
	case Binary:
		switch e.Op {
		case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ, token.LAND, token.LOR:
			return true
		}
	}
	return false
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Eval evaluates e concretely with wrapping 64-bit arithmetic.
// Variables are resolved with lookup, nondet() is resolved with nondet.
func Eval(e Expr, lookup func(string) (int64, bool), nondet func() int64) (int64, error) {
	switch e := e.(type) {
	case Const:
		return e.Value, nil
	case Var:
		if v, ok := lookup(e.Name); ok {
			return v, nil
		}
		return 0, fmt.Errorf("%w: %s", ErrUnbound, e.Name)
	case Nondet:
		return nondet(), nil
	case Unary:
		x, err := Eval(e.X, lookup, nondet)
		if err != nil {
			return 0, err
		}
		if e.Op == token.NOT {
			return b2i(x == 0), nil
		}
		return -x, nil
	case Binary:
		x, err := Eval(e.X, lookup, nondet)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.LAND:
			if x == 0 {
				return 0, nil
			}
		case token.LOR:
			if x != 0 {
				return 1, nil
			}
		}
		y, err := Eval(e.Y, lookup, nondet)
		if err != nil {
			return 0, err
		}
		return apply(e.Op, x, y)
	}
	panic(fmt.Errorf("unknown expression %T", e))
}

func apply(op token.Token, x, y int64) (int64, error) {
	switch op {
	case token.ADD:
		return x + y, nil
	case token.SUB:
		return x - y, nil
	case token.MUL:
		return x * y, nil
	case token.QUO, token.REM:
		if y == 0 {
			return 0, ErrDivByZero
		}
		if op == token.QUO {
			return x / y, nil
		}
		return x % y, nil
	case token.EQL:
		return b2i(x == y), nil
	case token.NEQ:
		return b2i(x != y), nil
	case token.LSS:
		return b2i(x < y), nil
	case token.LEQ:
		return b2i(x <= y), nil
	case token.GTR:
		return b2i(x > y), nil
	case token.GEQ:
		return b2i(x >= y), nil
	case token.LAND, token.LOR:
		return b2i(y != 0), nil
	}
	panic(fmt.Errorf("unknown operator %s", op))
}

// splitAssign splits "lhs = rhs" on its single assignment operator.
func splitAssign(src string) (lhs, rhs string, ok bool) {
	for i := 0; i < len(src); i++ {
		if src[i] != '=' {
			continue
		}
		prev, next := byte(0), byte(0)
		if i > 0 {
			prev = src[i-1]
		}
		if i+1 < len(src) {
			next = src[i+1]
		}
		if next == '=' {
			i++
			continue
		}
		if prev == '!' || prev == '<' || prev == '>' {
			continue
		}
		return strings.TrimSpace(src[:i]), strings.TrimSpace(src[i+1:]), true
	}
	return "", "", false
}
