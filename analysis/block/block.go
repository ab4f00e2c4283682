// Package block partitions a CFA into blocks that are analysed
// independently and communicate through messages at their boundaries.
package block

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	uf "github.com/spakin/disjoint"
	"golang.org/x/exp/slices"
	"golang.org/x/tools/container/intsets"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/utils"
)

var ErrPartition = errors.New("invalid block partition")

// Strategy selects the locations at which the CFA is cut into blocks.
type Strategy string

const (
	// Single keeps the whole CFA in one block.
	Single Strategy = "single"
	// LoopHeads starts a new block at every loop head.
	LoopHeads Strategy = "loop-heads"
	// MergePoints starts a new block at every location with several
	// incoming edges.
	MergePoints Strategy = "merge-points"
	// Functions makes a block of every function.
	Functions Strategy = "functions"
)

var Strategies = []Strategy{Single, LoopHeads, MergePoints, Functions}

func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown decomposition %q", s)
}

// Block is a set of CFA locations. Entries are the locations at which
// analysis states arrive from other blocks; exits are the edges leaving
// the block.
type Block struct {
	ID      int
	nodes   intsets.Sparse
	Entries []*cfa.Node
	Exits   []*cfa.Edge
}

func (b *Block) Contains(n *cfa.Node) bool { return b.nodes.Has(n.ID) }

func (b *Block) IsEntry(n *cfa.Node) bool { return slices.Contains(b.Entries, n) }

// Len returns the number of locations in b.
func (b *Block) Len() int { return b.nodes.Len() }

// Nodes returns the locations of b ordered by ID.
func (b *Block) Nodes(c *cfa.CFA) []*cfa.Node {
	ids := b.nodes.AppendTo(nil)
	res := make([]*cfa.Node, len(ids))
	for i, id := range ids {
		res[i] = c.Node(id)
	}
	return res
}

func (b *Block) String() string {
	ids := b.nodes.AppendTo(nil)
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = "N" + strconv.Itoa(id)
	}
	return fmt.Sprintf("B%d{%s}", b.ID, strings.Join(strs, ", "))
}

// Partition is a decomposition of a CFA into disjoint blocks covering
// every location.
type Partition struct {
	CFA      *cfa.CFA
	Strategy Strategy
	Blocks   []*Block

	of    []int
	graph *simple.DirectedGraph
}

// joins decides whether edge e stays within a block under strategy s.
func joins(c *cfa.CFA, s Strategy, e *cfa.Edge) bool {
	switch s {
	case LoopHeads:
		return !c.IsLoopHead(e.To)
	case MergePoints:
		return len(e.To.In()) < 2
	case Functions:
		return e.From.Function == e.To.Function
	}
	return true
}

// Decompose partitions c. Every edge that the strategy does not cut joins
// the blocks of its endpoints.
func Decompose(c *cfa.CFA, s Strategy) (*Partition, error) {
	if _, err := ParseStrategy(string(s)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPartition, err)
	}

	elems := make([]*uf.Element, len(c.Nodes))
	for i := range c.Nodes {
		elems[i] = uf.NewElement()
		elems[i].Data = i
	}
	for _, e := range c.Edges {
		if joins(c, s, e) {
			uf.Union(elems[e.From.ID], elems[e.To.ID])
		}
	}
	if s == Single {
		for _, el := range elems[1:] {
			uf.Union(elems[0], el)
		}
	}

	// Blocks are numbered by their smallest location.
	p := &Partition{CFA: c, Strategy: s, of: make([]int, len(c.Nodes))}
	ids := map[*uf.Element]int{}
	for i, el := range elems {
		rep := el.Find()
		id, ok := ids[rep]
		if !ok {
			id = len(p.Blocks)
			ids[rep] = id
			p.Blocks = append(p.Blocks, &Block{ID: id})
		}
		p.Blocks[id].nodes.Insert(i)
		p.of[i] = id
	}

	for _, n := range c.Nodes {
		b := p.Of(n)
		entry := n == c.Entry
		for _, e := range n.In() {
			if !b.Contains(e.From) {
				entry = true
			}
		}
		if entry {
			b.Entries = append(b.Entries, n)
		}
	}
	for _, e := range c.Edges {
		if b := p.Of(e.From); !b.Contains(e.To) {
			b.Exits = append(b.Exits, e)
		}
	}

	p.graph = simple.NewDirectedGraph()
	for _, b := range p.Blocks {
		p.graph.AddNode(simple.Node(b.ID))
	}
	for _, b := range p.Blocks {
		for _, e := range b.Exits {
			to := p.of[e.To.ID]
			if !p.graph.HasEdgeFromTo(int64(b.ID), int64(to)) {
				p.graph.SetEdge(p.graph.NewEdge(simple.Node(b.ID), simple.Node(to)))
			}
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Of returns the block containing n.
func (p *Partition) Of(n *cfa.Node) *Block { return p.Blocks[p.of[n.ID]] }

// Root returns the block containing the program entry.
func (p *Partition) Root() *Block { return p.Of(p.CFA.Entry) }

func (p *Partition) blocks(nodes graph.Nodes) []*Block {
	var res []*Block
	for _, n := range graph.NodesOf(nodes) {
		res = append(res, p.Blocks[n.ID()])
	}
	slices.SortFunc(res, func(a, b *Block) bool { return a.ID < b.ID })
	return res
}

// Successors returns the blocks b has exit edges into, ordered by ID.
func (p *Partition) Successors(b *Block) []*Block {
	return p.blocks(p.graph.From(int64(b.ID)))
}

// Predecessors returns the blocks with exit edges into b, ordered by ID.
func (p *Partition) Predecessors(b *Block) []*Block {
	return p.blocks(p.graph.To(int64(b.ID)))
}

// Order returns the blocks in topological order of the block graph, with
// the blocks of a cycle ordered by ID.
func (p *Partition) Order() []*Block {
	sccs := topo.TarjanSCC(p.graph)
	res := make([]*Block, 0, len(p.Blocks))
	for i := len(sccs) - 1; i >= 0; i-- {
		comp := make([]*Block, len(sccs[i]))
		for j, n := range sccs[i] {
			comp[j] = p.Blocks[n.ID()]
		}
		slices.SortFunc(comp, func(a, b *Block) bool { return a.ID < b.ID })
		res = append(res, comp...)
	}
	return res
}

// Validate checks that the blocks partition the CFA and that entries and
// exits agree with the edges.
func (p *Partition) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrPartition}, args...)...))
	}

	var seen intsets.Sparse
	total := 0
	for _, b := range p.Blocks {
		if b.Len() == 0 {
			fail("block %d is empty", b.ID)
		}
		total += b.Len()
		seen.UnionWith(&b.nodes)
	}
	if total != len(p.CFA.Nodes) || seen.Len() != len(p.CFA.Nodes) {
		fail("blocks cover %d of %d locations with %d memberships", seen.Len(), len(p.CFA.Nodes), total)
	}

	for _, e := range p.CFA.Edges {
		from, to := p.Of(e.From), p.Of(e.To)
		if from != to && !to.IsEntry(e.To) {
			fail("edge %d enters block %d at %s, which is not an entry", e.ID, to.ID, e.To)
		}
	}
	if !p.Root().IsEntry(p.CFA.Entry) {
		fail("the program entry is not an entry of its block")
	}
	return errors.Join(errs...)
}

func (p *Partition) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d blocks (%s)\n", len(p.Blocks), p.Strategy)
	for _, b := range p.Blocks {
		entries := make([]string, len(b.Entries))
		for i, n := range b.Entries {
			entries[i] = utils.Colorize.Node(n.Name)
		}
		succs := p.Successors(b)
		next := make([]string, len(succs))
		for i, s := range succs {
			next[i] = "B" + strconv.Itoa(s.ID)
		}
		fmt.Fprintf(&sb, "  %s entries [%s] exits %d -> [%s]\n",
			b, strings.Join(entries, ", "), len(b.Exits), strings.Join(next, ", "))
	}
	return sb.String()
}
