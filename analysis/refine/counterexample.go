package refine

import (
	"fmt"
	"strings"

	"github.com/cs-au-dk/argus/analysis/arg"
	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/solver"
	"github.com/cs-au-dk/argus/utils"
)

type Verdict int

const (
	Unknown Verdict = iota
	Holds
	Violated
)

func (v Verdict) String() string {
	switch v {
	case Holds:
		return "HOLDS"
	case Violated:
		return "VIOLATED"
	}
	return "UNKNOWN"
}

// Pretty renders the verdict with color.
func (v Verdict) Pretty() string {
	switch v {
	case Holds:
		return utils.Colorize.Holds(v.String())
	case Violated:
		return utils.Colorize.Violated(v.String())
	}
	return utils.Colorize.Unknown(v.String())
}

// Counterexample is a path from the program entry to a target location.
type Counterexample struct {
	Edges []*cfa.Edge
	// ARG states along the path, if the path was found in a single ARG.
	States []arg.ID
	// Inputs under which the path executes.
	Model solver.Model
	// Pending is set when the solver could not decide the path.
	Pending bool
}

// Target returns the target location the path ends in.
func (cx *Counterexample) Target() *cfa.Node {
	if len(cx.Edges) == 0 {
		return nil
	}
	return cx.Edges[len(cx.Edges)-1].To
}

func (cx *Counterexample) String() string {
	var sb strings.Builder
	for _, e := range cx.Edges {
		fmt.Fprintf(&sb, "%s -> %s: %s\n",
			utils.Colorize.Node(e.From.Name),
			utils.Colorize.Node(e.To.Name),
			utils.Colorize.Edge(e.Op.String()))
	}
	if cx.Pending {
		sb.WriteString("unconfirmed: the solver could not decide the path\n")
	} else {
		sb.WriteString("inputs: " + cx.Model.String() + "\n")
	}
	return sb.String()
}
