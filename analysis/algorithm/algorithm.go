// Package algorithm implements the CPA reachability algorithm: a worklist
// fixpoint over composite abstract states that records its exploration in
// an abstract reachability graph.
package algorithm

import (
	"context"
	"log/slog"
	"time"

	"github.com/cs-au-dk/argus/analysis/arg"
	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/analysis/reached"
	"github.com/cs-au-dk/argus/utils/logging"
	"github.com/cs-au-dk/argus/utils/metrics"
)

type Status int

const (
	Initialized Status = iota
	Running
	TargetFound
	Exhausted
	Interrupted
)

func (s Status) String() string {
	switch s {
	case Initialized:
		return "INITIALIZED"
	case Running:
		return "RUNNING"
	case TargetFound:
		return "TARGET_FOUND"
	case Exhausted:
		return "EXHAUSTED"
	case Interrupted:
		return "INTERRUPTED"
	}
	return "?"
}

type Config struct {
	CFA   *cfa.CFA
	CPA   *cpa.Composite
	Order reached.Order
	// MaxStates bounds the size of the ARG. Zero means unbounded.
	MaxStates int
	// InBlock restricts the exploration to a block of the CFA. Successors
	// outside the block are recorded as exits and not expanded.
	InBlock func(*cfa.Node) bool

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// Context holds everything one exploration mutates. Contexts are not
// shared between goroutines.
type Context struct {
	cfg Config
	log *slog.Logger

	ARG      *arg.ARG
	Reached  *reached.Set
	Waitlist *reached.Waitlist

	status  Status
	targets []arg.ID
	pending []arg.ID
	exits   []arg.ID
	steps   int
}

func New(cfg Config) *Context {
	c := &Context{
		cfg:     cfg,
		log:     logging.OrDiscard(cfg.Log),
		ARG:     arg.New(),
		Reached: reached.NewSet(),
	}
	if c.cfg.Order == "" {
		c.cfg.Order = reached.BFS
	}
	c.Waitlist = reached.NewWaitlist(c.cfg.Order, func(id arg.ID) int {
		return cfg.CFA.RPO(c.ARG.Get(id).Location())
	})
	return c
}

func (c *Context) CPA() *cpa.Composite { return c.cfg.CPA }

func (c *Context) CFA() *cfa.CFA { return c.cfg.CFA }

func (c *Context) Status() Status { return c.status }

// Steps returns the number of states expanded so far.
func (c *Context) Steps() int { return c.steps }

// Targets returns the target states found by the last run.
func (c *Context) Targets() []arg.ID { return c.targets }

// Exits returns the live states that left the block, in creation order.
func (c *Context) Exits() []arg.ID {
	c.exits = c.live(c.exits)
	return c.exits
}

func (c *Context) live(ids []arg.ID) []arg.ID {
	res := ids[:0]
	for _, id := range ids {
		if !c.ARG.Get(id).Destroyed() {
			res = append(res, id)
		}
	}
	return res
}

// Seed adds an initial state to the exploration.
func (c *Context) Seed(s *cpa.State, p cpa.CompositePrecision) arg.ID {
	id := c.ARG.AddRoot(s)
	c.add(id, s, p)
	return id
}

// SeedEntry seeds the initial state at the CFA entry.
func (c *Context) SeedEntry() arg.ID {
	entry := c.cfg.CFA.Entry
	return c.Seed(c.cfg.CPA.Initial(entry), c.cfg.CPA.InitialPrecision(entry))
}

func (c *Context) add(id arg.ID, s *cpa.State, p cpa.CompositePrecision) {
	c.Reached.Add(reached.Entry{ID: id, State: s, Precision: p})
	c.Waitlist.Push(id)
	if s.Location().Target {
		c.pending = append(c.pending, id)
	}
}

// Readd puts an ARG state back into the reached set and waitlist under
// the precision p, so that it is expanded again.
func (c *Context) Readd(id arg.ID, p cpa.CompositePrecision) {
	st := c.ARG.Get(id)
	c.Reached.Add(reached.Entry{ID: id, State: st.State, Precision: p})
	c.Waitlist.Push(id)
}

// Prune removes the ARG subtree rooted at id from every structure.
// Returns the states outside the subtree that lost their coverer.
func (c *Context) Prune(id arg.ID) (uncovered []arg.ID) {
	removed, uncovered := c.ARG.RemoveSubtree(id)
	for _, r := range removed {
		c.Reached.Remove(r)
		c.Waitlist.Remove(r)
	}
	c.exits = c.live(c.exits)
	c.pending = c.live(c.pending)
	return uncovered
}

// Run explores until the waitlist is empty, a target is found, or ctx is
// done. After TargetFound, calling Run again resumes the exploration.
func (c *Context) Run(ctx context.Context) Status {
	start := time.Now()
	defer c.cfg.Metrics.Observe("explore", start)

	c.status = Running
	c.targets = nil
	for {
		if len(c.pending) > 0 {
			c.targets, c.pending = c.pending, nil
			c.status = TargetFound
			c.log.Debug("target found", "states", c.targets)
			return c.status
		}

		if ctx.Err() != nil {
			c.status = Interrupted
			c.log.Info("exploration interrupted", "reason", context.Cause(ctx), "states", c.ARG.Size())
			return c.status
		}

		if c.Waitlist.IsEmpty() {
			c.status = Exhausted
			c.log.Debug("exploration exhausted", "states", c.ARG.Size(), "complete", !c.Reached.Incomplete())
			return c.status
		}

		if c.cfg.MaxStates > 0 && c.ARG.Size() >= c.cfg.MaxStates {
			c.Reached.MarkIncomplete()
			c.status = Interrupted
			c.log.Info("state limit reached", "limit", c.cfg.MaxStates)
			return c.status
		}

		id, _ := c.Waitlist.Pop()
		c.expand(id)
	}
}

// expand computes the successors of a popped state.
func (c *Context) expand(id arg.ID) {
	entry, ok := c.Reached.Get(id)
	if !ok {
		return
	}
	c.steps++

	comp := c.cfg.CPA
	s, p, action := comp.Adjust(entry.State, entry.Precision, c.Reached)
	if action == cpa.Break {
		c.Reached.MarkIncomplete()
		c.cfg.Metrics.PrecisionBreak()
		c.log.Debug("precision adjustment broke", "state", id)
		return
	}
	if !s.Equal(entry.State) || !p.Equal(entry.Precision) {
		c.ARG.Get(id).State = s
		c.Reached.Add(reached.Entry{ID: id, State: s, Precision: p})
	}

	for _, edge := range s.Location().Out() {
		for _, succ := range comp.Transfer(s, p, edge) {
			c.cfg.Metrics.StateExplored()
			if c.successor(id, edge, succ, p) {
				// id was merged away; the merge result is queued instead.
				return
			}
		}
	}
}

// successor records succ, derived from id along edge. Returns whether id
// itself was replaced by a merge.
func (c *Context) successor(id arg.ID, edge *cfa.Edge, succ *cpa.State, p cpa.CompositePrecision) (replaced bool) {
	comp := c.cfg.CPA
	if c.cfg.InBlock != nil && !c.cfg.InBlock(edge.To) {
		c.exits = append(c.exits, c.ARG.AddChild(id, edge, succ))
		return false
	}

	candidates := c.Reached.At(edge.To)
	states := make([]*cpa.State, len(candidates))
	for i, e := range candidates {
		states[i] = e.State
	}

	if j := comp.Covers(succ, states, p); j >= 0 {
		child := c.ARG.AddChild(id, edge, succ)
		c.ARG.Cover(child, candidates[j].ID)
		c.cfg.Metrics.StateCovered()
		return false
	}

	merged := false
	for _, cand := range candidates {
		m := comp.Merge(succ, cand.State, p)
		if m.Equal(cand.State) {
			continue
		}
		merged = true
		mid := c.ARG.Merge(cand.ID, id, edge, m)
		c.Reached.Remove(cand.ID)
		c.Waitlist.Remove(cand.ID)
		c.add(mid, m, p)
		c.cfg.Metrics.StateMerged()
		c.log.Debug("merged", "old", cand.ID, "new", mid, "location", edge.To)
		if cand.ID == id {
			replaced = true
			// The parent of later merges is gone too.
			id = mid
		}
	}
	if merged {
		return replaced
	}

	child := c.ARG.AddChild(id, edge, succ)
	c.add(child, succ, p)
	return false
}
