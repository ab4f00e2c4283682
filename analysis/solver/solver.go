// Package solver is the boundary to decision procedures used by the
// refiner: feasibility of path conditions and interpolation.
package solver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cs-au-dk/argus/analysis/cfa"
)

var (
	// ErrUnsupported is returned for queries a solver cannot answer.
	ErrUnsupported = errors.New("unsupported solver query")
)

type Result int

const (
	Unknown Result = iota
	Sat
	Unsat
)

func (r Result) String() string {
	switch r {
	case Sat:
		return "SAT"
	case Unsat:
		return "UNSAT"
	}
	return "UNKNOWN"
}

// PathCondition is the conjunction of the operations along a sequence of
// CFA edges, starting from an unconstrained state.
type PathCondition struct {
	Edges []*cfa.Edge
}

func (pc PathCondition) String() string {
	strs := make([]string, len(pc.Edges))
	for i, e := range pc.Edges {
		strs[i] = e.Op.String()
	}
	return strings.Join(strs, "; ")
}

// Input is a value chosen for an unconstrained read of Var at the given
// position of a path. An empty Var stands for a nondet() call.
type Input struct {
	Step  int    `msgpack:"step"`
	Var   string `msgpack:"var"`
	Value int64  `msgpack:"value"`
}

func (in Input) String() string {
	name := in.Var
	if name == "" {
		name = "nondet()"
	}
	return fmt.Sprintf("%s = %d at step %d", name, in.Value, in.Step)
}

// Model witnesses a satisfiable path condition.
type Model struct {
	Inputs []Input
}

func (m Model) String() string {
	if len(m.Inputs) == 0 {
		return "no inputs"
	}
	strs := make([]string, len(m.Inputs))
	for i, in := range m.Inputs {
		strs[i] = in.String()
	}
	return strings.Join(strs, ", ")
}

// Interpolant separates the prefix of a path condition from its suffix.
// It is expressed as the set of variables whose values after the prefix
// already refute the suffix. False means the prefix is infeasible.
type Interpolant struct {
	False   bool
	Vars    []string
	Formula string
}

func (itp Interpolant) String() string {
	switch {
	case itp.False:
		return "false"
	case itp.Formula == "":
		return "true"
	}
	return itp.Formula
}

// Solver decides path conditions.
type Solver interface {
	// CheckFeasibility decides whether pc has a satisfying execution.
	// Sat answers come with a model.
	CheckFeasibility(ctx context.Context, pc PathCondition) (Result, Model, error)
	// Interpolant is only requested for unsatisfiable path conditions.
	// split is the number of edges in the prefix.
	Interpolant(ctx context.Context, pc PathCondition, split int) (Interpolant, error)
}
