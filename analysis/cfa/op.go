package cfa

import (
	"strings"
)

// Op is the operation labelling a CFA edge.
type Op interface {
	String() string
	op()
}

type (
	// Skip is a no-op transition.
	Skip struct{}
	// Assign evaluates Expr and stores the result in Var.
	Assign struct {
		Var  string
		Expr Expr
	}
	// Assume blocks unless Cond holds.
	Assume struct {
		Cond Expr
	}
	// Havoc assigns an arbitrary value to Var.
	Havoc struct {
		Var string
	}
	// Call enters Function, binding Args to the callee parameters.
	// The matching return edge leads to ReturnSite.
	Call struct {
		Function   string
		Params     []string
		Args       []Expr
		ReturnSite *Node
	}
	// Return leaves Function for the return site the edge leads to, storing
	// Value in the caller variable Var (if any).
	Return struct {
		Function string
		Var      string
		Value    Expr
	}
)

func (Skip) op()   {}
func (Assign) op() {}
func (Assume) op() {}
func (Havoc) op()  {}
func (Call) op()   {}
func (Return) op() {}

func (Skip) String() string     { return "skip" }
func (o Assign) String() string { return o.Var + " = " + o.Expr.String() }
func (o Assume) String() string { return "[" + o.Cond.String() + "]" }
func (o Havoc) String() string  { return "havoc " + o.Var }

func (o Call) String() string {
	args := make([]string, len(o.Args))
	for i, a := range o.Args {
		args[i] = a.String()
	}
	return "call " + o.Function + "(" + strings.Join(args, ", ") + ")"
}

func (o Return) String() string {
	switch {
	case o.Var != "" && o.Value != nil:
		return "return " + o.Function + ": " + o.Var + " = " + o.Value.String()
	case o.Value != nil:
		return "return " + o.Function + ": " + o.Value.String()
	}
	return "return " + o.Function
}

// Writes returns the variables an operation may modify.
func Writes(op Op) []string {
	switch op := op.(type) {
	case Assign:
		return []string{op.Var}
	case Havoc:
		return []string{op.Var}
	case Call:
		return op.Params
	case Return:
		if op.Var != "" {
			return []string{op.Var}
		}
	}
	return nil
}

// Reads returns the variables an operation may read.
func Reads(op Op) (vars []string) {
	switch op := op.(type) {
	case Assign:
		return Vars(op.Expr)
	case Assume:
		return Vars(op.Cond)
	case Call:
		for _, a := range op.Args {
			vars = append(vars, Vars(a)...)
		}
	case Return:
		if op.Value != nil {
			return Vars(op.Value)
		}
	}
	return
}
