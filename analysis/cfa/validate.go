package cfa

import (
	"errors"
	"fmt"
)

// Validate checks the well-formedness conditions the analysis relies on:
// a program entry exists, edges connect nodes of this CFA, intraprocedural
// edges stay within their function, calls and returns match their callee,
// and every target is reachable from the entry.
func (c *CFA) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...))
	}

	if c.Entry == nil {
		fail("no entry node")
	}

	names := map[string]bool{}
	for i, n := range c.Nodes {
		if n.ID != i {
			fail("node %s has ID %d at index %d", n.Name, n.ID, i)
		}
		if names[n.Name] {
			fail("duplicate node name %s", n.Name)
		}
		names[n.Name] = true
		if _, ok := c.Functions[n.Function]; !ok {
			fail("node %s belongs to undeclared function %s", n.Name, n.Function)
		}
	}

	owned := func(n *Node) bool {
		return n != nil && n.ID >= 0 && n.ID < len(c.Nodes) && c.Nodes[n.ID] == n
	}

	for i, e := range c.Edges {
		if e.ID != i {
			fail("edge %d has ID %d", i, e.ID)
		}
		if !owned(e.From) || !owned(e.To) {
			fail("edge %d is dangling", e.ID)
			continue
		}

		switch op := e.Op.(type) {
		case Call:
			callee, ok := c.Functions[op.Function]
			switch {
			case !ok:
				fail("edge %d calls undefined function %s", e.ID, op.Function)
			case callee.Entry != e.To:
				fail("call edge %d does not lead to the entry of %s", e.ID, op.Function)
			case len(op.Args) != len(op.Params):
				fail("call edge %d passes %d arguments to %s, which takes %d", e.ID, len(op.Args), op.Function, len(op.Params))
			case !owned(op.ReturnSite) || op.ReturnSite.Function != e.From.Function:
				fail("call edge %d has an invalid return site", e.ID)
			}
		case Return:
			callee, ok := c.Functions[op.Function]
			if !ok || callee.Exit != e.From {
				fail("return edge %d does not leave the exit of %s", e.ID, op.Function)
			}
		case nil:
			fail("edge %d has no operation", e.ID)
		default:
			if e.From.Function != e.To.Function {
				fail("edge %d crosses from %s to %s", e.ID, e.From.Function, e.To.Function)
			}
		}
	}

	if len(errs) == 0 {
		reachable := map[*Node]bool{}
		for _, n := range c.Graph().Reachable(c.Entry) {
			reachable[n] = true
		}
		for _, t := range c.Targets() {
			if !reachable[t] {
				fail("target %s is unreachable from the entry", t.Name)
			}
		}
	}

	return errors.Join(errs...)
}
