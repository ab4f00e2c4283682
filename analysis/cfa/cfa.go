// Package cfa defines the control-flow automaton consumed by the analysis:
// program locations connected by edges labelled with operations.
// A CFA is immutable once built and is shared read-only by all analyses.
package cfa

import (
	"errors"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/cs-au-dk/argus/utils"
	"github.com/cs-au-dk/argus/utils/graph"
)

// ErrMalformed is returned for CFAs that violate the well-formedness
// conditions checked by Validate.
var ErrMalformed = errors.New("malformed CFA")

// Node is a program location.
type Node struct {
	ID       int
	Name     string
	Function string
	Target   bool

	out []*Edge
	in  []*Edge
}

// Out returns the outgoing edges in insertion order.
func (n *Node) Out() []*Edge { return n.out }

// In returns the incoming edges in insertion order.
func (n *Node) In() []*Edge { return n.in }

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return utils.Colorize.Node(n.Name)
}

// Hash identifies the node within its CFA.
func (n *Node) Hash() uint32 { return utils.HashInt(int64(n.ID)) }

// Edge is a labelled transition between two locations.
type Edge struct {
	ID       int
	From, To *Node
	Op       Op
}

func (e *Edge) String() string {
	return e.From.Name + " -[" + utils.Colorize.Edge(e.Op.String()) + "]-> " + e.To.Name
}

// Function groups the locations of a procedure.
type Function struct {
	Name   string
	Entry  *Node
	Exit   *Node
	Params []string
	Result Expr
}

// CFA is a control-flow automaton with a unique program entry.
type CFA struct {
	Nodes     []*Node
	Edges     []*Edge
	Entry     *Node
	Functions map[string]*Function

	byName    map[string]*Node
	loopHeads map[int]bool
	rpo       map[int]int
}

// Node retrieves the node with the given ID.
func (c *CFA) Node(id int) *Node {
	if id < 0 || id >= len(c.Nodes) {
		return nil
	}
	return c.Nodes[id]
}

// Edge retrieves the edge with the given ID.
func (c *CFA) Edge(id int) *Edge {
	if id < 0 || id >= len(c.Edges) {
		return nil
	}
	return c.Edges[id]
}

// NodeByName retrieves a node by its unique name.
func (c *CFA) NodeByName(name string) (*Node, bool) {
	n, ok := c.byName[name]
	return n, ok
}

// Targets returns the designated target locations.
func (c *CFA) Targets() (ret []*Node) {
	for _, n := range c.Nodes {
		if n.Target {
			ret = append(ret, n)
		}
	}
	return
}

// Graph exposes the node successor relation.
func (c *CFA) Graph() graph.Graph[*Node] {
	return graph.Of(func(n *Node) (ret []*Node) {
		for _, e := range n.out {
			ret = append(ret, e.To)
		}
		return
	})
}

// intraGraph is the successor relation within functions, where calls
// continue at their return site.
func (c *CFA) intraGraph() graph.Graph[*Node] {
	return graph.Of(func(n *Node) (ret []*Node) {
		for _, e := range n.out {
			switch op := e.Op.(type) {
			case Call:
				ret = append(ret, op.ReturnSite)
			case Return:
			default:
				ret = append(ret, e.To)
			}
		}
		return
	})
}

// IsLoopHead checks whether n is the target of a back edge of the
// depth-first traversal of its function.
func (c *CFA) IsLoopHead(n *Node) bool {
	return c.loopHeads[n.ID]
}

// LoopHeads returns the loop heads ordered by ID.
func (c *CFA) LoopHeads() (ret []*Node) {
	for _, n := range c.Nodes {
		if c.loopHeads[n.ID] {
			ret = append(ret, n)
		}
	}
	return
}

// RPO returns the reverse post-order index of n. Nodes unreachable from
// the entry are ordered after every reachable node.
func (c *CFA) RPO(n *Node) int {
	if i, ok := c.rpo[n.ID]; ok {
		return i
	}
	return len(c.rpo) + n.ID
}

// analyze computes the derived structural information.
func (c *CFA) analyze() {
	c.byName = make(map[string]*Node, len(c.Nodes))
	for _, n := range c.Nodes {
		c.byName[n.Name] = n
	}

	c.loopHeads = map[int]bool{}
	c.rpo = map[int]int{}
	if c.Entry == nil {
		return
	}

	dfs := c.Graph().DFS(c.Entry)
	for i, n := range dfs.ReversePostorder() {
		c.rpo[n.ID] = i
	}

	intra := c.intraGraph()
	for _, name := range c.functionNames() {
		if fun := c.Functions[name]; fun.Entry != nil {
			for _, e := range intra.DFS(fun.Entry).BackEdges {
				c.loopHeads[e[1].ID] = true
			}
		}
	}
}

func (c *CFA) functionNames() []string {
	names := maps.Keys(c.Functions)
	slices.Sort(names)
	return names
}

func (c *CFA) String() string {
	str := fmt.Sprintf("CFA with %d nodes and %d edges, entry %s\n", len(c.Nodes), len(c.Edges), c.Entry)
	for _, e := range c.Edges {
		str += "  " + e.String() + "\n"
	}
	return str
}
