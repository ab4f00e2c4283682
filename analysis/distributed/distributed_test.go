package distributed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs-au-dk/argus/analysis/algorithm"
	"github.com/cs-au-dk/argus/analysis/block"
	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/lattice"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/analysis/cpa/interval"
	"github.com/cs-au-dk/argus/analysis/cpa/location"
	"github.com/cs-au-dk/argus/analysis/cpa/value"
	"github.com/cs-au-dk/argus/analysis/refine"
	"github.com/cs-au-dk/argus/analysis/solver"
	"github.com/cs-au-dk/argus/testutil"
	"github.com/cs-au-dk/argus/utils/metrics"
)

func driver(t *testing.T, c *cfa.CFA, s block.Strategy, trackAll bool) *Driver {
	comp := testutil.Composite(t, cpa.MergePolicySep, cpa.StopPolicyAll, location.New(c), value.New(value.ScopeGlobal, trackAll))
	return driverWith(t, c, s, comp, 0)
}

func driverWith(t *testing.T, c *cfa.CFA, s block.Strategy, comp *cpa.Composite, maxRounds int) *Driver {
	p, err := block.Decompose(c, s)
	require.NoError(t, err)
	d, err := New(Config{
		CFA:       c,
		CPA:       comp,
		Partition: p,
		Solver:    solver.NewSymbolic(),
		MaxRounds: maxRounds,
		MaxEpochs: 10,
		Metrics:   metrics.New(),
	})
	require.NoError(t, err)
	return d
}

func edge(t *testing.T, c *cfa.CFA, from, to string) *cfa.Edge {
	t.Helper()
	for _, e := range c.Edges {
		if e.From.Name == from && e.To.Name == to {
			return e
		}
	}
	t.Fatalf("no edge %s -> %s", from, to)
	return nil
}

// enter builds the message carrying s into the block entered at its location.
func enter(t *testing.T, d *Driver, s *cpa.State, chain ...*cfa.Edge) Message {
	t.Helper()
	data, err := d.cfg.CPA.Encode(s)
	require.NoError(t, err)
	ids := make([]int, len(chain))
	for i, e := range chain {
		ids[i] = e.ID
	}
	return Message{
		Kind:    KindState,
		From:    Environment,
		To:      d.cfg.Partition.Of(s.Location()).ID,
		Entry:   s.Location().ID,
		Payload: data,
		Chains:  [][]int{ids},
	}
}

// counterLoop counts i up by one or two until it reaches 100. It has no
// target.
func counterLoop() *cfa.CFA {
	return cfa.NewBuilder().
		Func("main").
		Assign("n0", "n1", "i = 0").
		Branch("n1", "n2", "n6", "i < 100").
		Branch("n2", "n3", "n4", "i % 2 == 0").
		Assign("n3", "n5", "i = i + 1").
		Assign("n4", "n5", "i = i + 2").
		Skip("n5", "n1").
		MustBuild()
}

// unreachableAfterLoop has a safe target behind a loop head, reachable
// only through a chain that starts before the loop.
func unreachableAfterLoop() *cfa.CFA {
	return cfa.NewBuilder().
		Func("main").
		Assign("n0", "n1", "i = 0").
		Branch("n1", "n2", "n3", "i < 10").
		Assign("n2", "n1", "i = i + 1").
		Branch("n3", "err", "n4", "i == 100").
		Target("err").
		MustBuild()
}

func intervals(t *testing.T, c *cfa.CFA) *cpa.Composite {
	return testutil.Composite(t, cpa.MergePolicyAgree, cpa.StopPolicyAll,
		location.New(c), interval.New(c), value.New(value.ScopeGlobal, false))
}

func TestLoopAfterEntry(t *testing.T) {
	c := testutil.LoopAfterEntry()
	d := driver(t, c, block.LoopHeads, true)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, refine.Holds, res.Verdict, res.Diagnostic)

	// The seed into the entry block, then the state entering the loop.
	assert.Equal(t, 2, res.Messages)
	assert.Equal(t, 0, res.Epochs)
	assert.Equal(t, 0, res.Stale)

	n1, _ := c.NodeByName("n1")
	loop := d.Workers()[1]
	assert.True(t, loop.Block().IsEntry(n1))
	assert.Equal(t, 1, loop.proceeded)
	assert.Len(t, loop.Assumptions(n1), 1)
}

func TestDistributedVerdicts(t *testing.T) {
	for _, sc := range testutil.Scenarios() {
		for _, s := range block.Strategies {
			d := driver(t, sc.CFA, s, false)
			res, err := d.Run(context.Background())
			if err != nil {
				t.Errorf("%s/%s: %v\n", sc.Name, s, err)
				continue
			}
			if res.Verdict.String() != sc.Expect {
				t.Errorf("%s/%s: %s (%s), expected %s\n", sc.Name, s, res.Verdict, res.Diagnostic, sc.Expect)
			}
		}
	}
}

func TestSpuriousViolationRefines(t *testing.T) {
	d := driver(t, testutil.GuardedLoop(10), block.LoopHeads, false)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, refine.Holds, res.Verdict, res.Diagnostic)
	assert.Equal(t, 1, res.Epochs)
	for _, w := range d.Workers() {
		assert.Equal(t, 1, w.Epoch())
	}
}

func TestViolationStitchesBlocks(t *testing.T) {
	d := driver(t, testutil.MagicInput(), block.MergePoints, false)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, refine.Violated, res.Verdict)
	require.NotNil(t, res.Counterexample)
	assert.Len(t, res.Counterexample.Edges, 4)
	assert.Equal(t, "err", res.Counterexample.Target().Name)
	assert.NotEmpty(t, res.Counterexample.Model.Inputs)
}

func TestMaxRounds(t *testing.T) {
	c := testutil.LoopAfterEntry()
	p, err := block.Decompose(c, block.LoopHeads)
	require.NoError(t, err)
	d, err := New(Config{
		CFA:       c,
		CPA:       testutil.Composite(t, cpa.MergePolicySep, cpa.StopPolicyAll, location.New(c), value.New(value.ScopeGlobal, true)),
		Partition: p,
		Solver:    solver.NewSymbolic(),
		MaxRounds: 1,
	})
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, refine.Unknown, res.Verdict)
	assert.Contains(t, res.Diagnostic, "message round bound of 1")
}

func TestInterrupted(t *testing.T) {
	d := driver(t, testutil.GuardedLoop(10), block.LoopHeads, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, refine.Unknown, res.Verdict)
	assert.Contains(t, res.Diagnostic, "interrupted")
}

func TestProceed(t *testing.T) {
	c := testutil.GuardedLoop(10)
	comp := testutil.Composite(t, cpa.MergePolicySep, cpa.StopPolicyAll, location.New(c), value.New(value.ScopeGlobal, true))
	s := comp.Initial(c.Entry)

	assert.True(t, Proceed(comp, nil, s))
	assert.False(t, Proceed(comp, []*cpa.State{s}, s))

	// Decoding yields an equal state, which is covered as well.
	data, err := comp.Encode(s)
	require.NoError(t, err)
	again, err := comp.Decode(data)
	require.NoError(t, err)
	assert.False(t, Proceed(comp, []*cpa.State{s}, again))
}

func TestStaleMessageDropped(t *testing.T) {
	c := testutil.LoopAfterEntry()
	p, err := block.Decompose(c, block.LoopHeads)
	require.NoError(t, err)
	comp := testutil.Composite(t, cpa.MergePolicySep, cpa.StopPolicyAll, location.New(c), value.New(value.ScopeGlobal, true))

	w := newWorker(p.Root(), p, algorithm.Config{CFA: c, CPA: comp}, comp.InitialPrecision(c.Entry))
	w.epoch = 1

	data, err := comp.Encode(comp.Initial(c.Entry))
	require.NoError(t, err)
	o, err := w.handle(context.Background(), []Message{{
		Kind: KindState, From: Environment, To: p.Root().ID, Entry: c.Entry.ID, Payload: data, Epoch: 0,
	}})
	require.NoError(t, err)
	assert.Empty(t, o.out)
	assert.Nil(t, o.violation)
	assert.Equal(t, 1, w.stale)
	assert.Equal(t, 0, w.proceeded)
	assert.Equal(t, 0, w.ARG().Size())
}

func TestMalformedMessage(t *testing.T) {
	c := testutil.LoopAfterEntry()
	p, err := block.Decompose(c, block.LoopHeads)
	require.NoError(t, err)
	comp := testutil.Composite(t, cpa.MergePolicySep, cpa.StopPolicyAll, location.New(c), value.New(value.ScopeGlobal, true))
	w := newWorker(p.Root(), p, algorithm.Config{CFA: c, CPA: comp}, comp.InitialPrecision(c.Entry))

	_, err = w.handle(context.Background(), []Message{{Kind: KindState, Payload: []byte{0xc1}}})
	assert.ErrorIs(t, err, ErrMessage)
}

func TestNetworkDrainOrder(t *testing.T) {
	n := NewNetwork(nil)
	n.Send(Message{Kind: KindState, From: 1, To: 0})
	n.Send(Message{Kind: KindState, From: Environment, To: 0})
	n.Send(Message{Kind: KindState, From: 0, To: 1, Entry: 7})
	n.Send(Message{Kind: KindState, From: 0, To: 1, Entry: 8})
	require.Equal(t, 4, n.Pending())

	inbox := n.Drain()
	require.Len(t, inbox[0], 2)
	assert.Equal(t, Environment, inbox[0][0].From)
	assert.Equal(t, 1, inbox[0][1].From)

	require.Len(t, inbox[1], 2)
	assert.Equal(t, []int{7, 8}, []int{inbox[1][0].Entry, inbox[1][1].Entry})
	assert.Equal(t, []int{0, 1}, []int{inbox[1][0].Seq, inbox[1][1].Seq})
	assert.NotEqual(t, inbox[1][0].ID, inbox[1][1].ID)

	assert.Equal(t, 0, n.Pending())
	assert.Equal(t, 4, n.Delivered())
	assert.Empty(t, n.Drain())
}

func TestChainSurvivesEntryMerge(t *testing.T) {
	c := unreachableAfterLoop()
	for _, s := range block.Strategies {
		d := driverWith(t, c, s, intervals(t, c), 100)
		res, err := d.Run(context.Background())
		require.NoError(t, err, s)
		if res.Verdict != refine.Holds {
			t.Errorf("%s: %s (%s), expected %s\n", s, res.Verdict, res.Diagnostic, refine.Holds)
		}
	}
}

func TestMissingChainFails(t *testing.T) {
	c := testutil.LoopAfterEntry()
	d := driver(t, c, block.LoopHeads, true)
	n1, _ := c.NodeByName("n1")

	m := enter(t, d, d.cfg.CPA.Initial(n1))
	m.Chains = nil
	_, err := d.Workers()[1].handle(context.Background(), []Message{m})
	assert.ErrorIs(t, err, ErrMessage)
}

func TestEntryStatesAreMerged(t *testing.T) {
	c := testutil.LoopAfterEntry()
	comp := intervals(t, c)
	d := driverWith(t, c, block.LoopHeads, comp, 0)
	n1, _ := c.NodeByName("n1")
	e := edge(t, c, "n0", "n1")
	at := func(lo, hi int64) *cpa.State {
		init := comp.Initial(n1)
		itv := init.Component(1).(interval.State).With("i", lattice.IntervalOf(lo, hi))
		return comp.Compose(init.Component(0), itv, init.Component(2))
	}

	loop := d.Workers()[1]
	tests := []struct {
		lo, hi    int64
		proceeded int
		ignored   int
		expected  lattice.Interval
	}{
		{0, 0, 1, 0, lattice.IntervalConst(0)},
		// n1 is a loop head, so the merge widens.
		{1, 1, 2, 0, lattice.NewInterval(lattice.FiniteBound(0), lattice.PlusInfinity{})},
		{5, 7, 2, 1, lattice.NewInterval(lattice.FiniteBound(0), lattice.PlusInfinity{})},
	}

	for _, test := range tests {
		_, err := loop.handle(context.Background(), []Message{enter(t, d, at(test.lo, test.hi), e)})
		require.NoError(t, err)

		assumptions := loop.Assumptions(n1)
		require.Len(t, assumptions, 1)
		res := assumptions[0].Component(1).(interval.State).Range("i")
		if !res.Eq(test.expected) {
			t.Errorf("after [%d, %d]: i ∈ %s, expected %s\n", test.lo, test.hi, res, test.expected)
		}
		assert.Equal(t, test.proceeded, loop.proceeded)
		assert.Equal(t, test.ignored, loop.ignored)
	}
}

func TestLoopAcrossBlocksConverges(t *testing.T) {
	c := counterLoop()
	d := driverWith(t, c, block.MergePoints, intervals(t, c), 200)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, refine.Holds, res.Verdict, res.Diagnostic)
	assert.Less(t, res.Rounds, 20)

	for _, w := range d.Workers() {
		for _, n := range w.Block().Entries {
			assert.LessOrEqual(t, len(w.Assumptions(n)), 1, "entry %s", n)
		}
	}
}

func TestProceedIsIdempotent(t *testing.T) {
	c := testutil.LoopAfterEntry()
	d := driver(t, c, block.LoopHeads, true)
	comp := d.cfg.CPA
	n1, _ := c.NodeByName("n1")
	e := edge(t, c, "n0", "n1")

	// i unknown subsumes i = 0.
	top := comp.Initial(n1)
	succ := comp.Transfer(comp.Initial(c.Entry), comp.InitialPrecision(c.Entry), e)
	require.Len(t, succ, 1)
	zero := succ[0]
	require.True(t, comp.Leq(zero, top))
	require.False(t, comp.Leq(top, zero))

	loop := d.Workers()[1]
	first, err := loop.handle(context.Background(), []Message{enter(t, d, top, e)})
	require.NoError(t, err)
	assert.Equal(t, 1, loop.proceeded)
	size := loop.ARG().Size()

	tests := []struct {
		name  string
		state *cpa.State
	}{
		{"redelivery", top},
		{"subsumed", zero},
	}
	for i, test := range tests {
		o, err := loop.handle(context.Background(), []Message{enter(t, d, test.state, e)})
		require.NoError(t, err)
		if len(o.out) != 0 {
			t.Errorf("%s: %d messages sent, expected none\n", test.name, len(o.out))
		}
		assert.Equal(t, 1, loop.proceeded, test.name)
		assert.Equal(t, i+1, loop.ignored, test.name)
		assert.Equal(t, size, loop.ARG().Size(), test.name)
		assert.Len(t, loop.Assumptions(n1), 1, test.name)
	}
	assert.Empty(t, first.out)
}

func TestSubsumedMessageQuiesces(t *testing.T) {
	c := testutil.LoopAfterEntry()
	d := driver(t, c, block.LoopHeads, true)
	comp := d.cfg.CPA
	n1, _ := c.NodeByName("n1")
	e := edge(t, c, "n0", "n1")
	zero := comp.Transfer(comp.Initial(c.Entry), comp.InitialPrecision(c.Entry), e)[0]

	for i, s := range []*cpa.State{comp.Initial(n1), zero} {
		d.net.Send(enter(t, d, s, e))
		res, err := d.exchange(context.Background())
		require.NoError(t, err)
		require.Equal(t, refine.Holds, res.Verdict, res.Diagnostic)
		assert.Equal(t, i+1, res.Rounds)
		assert.Equal(t, i+1, res.Messages)
	}

	loop := d.Workers()[1]
	assert.Equal(t, 1, loop.proceeded)
	assert.Equal(t, 1, loop.ignored)
	assert.Equal(t, 0, d.net.Pending())
}

func TestUnconnectedSenderRejected(t *testing.T) {
	c := testutil.LoopAfterEntry()
	d := driver(t, c, block.LoopHeads, true)
	require.Equal(t, d.cfg.Partition.Order(), d.order)
	require.Equal(t, d.cfg.Partition.Root(), d.order[0])

	m := enter(t, d, d.cfg.CPA.Initial(c.Entry))
	m.From = 1
	d.net.Send(m)
	_, err := d.exchange(context.Background())
	assert.ErrorIs(t, err, ErrMessage)
}

// refuter proves every path infeasible but has no interpolants.
type refuter struct{}

func (refuter) CheckFeasibility(context.Context, solver.PathCondition) (solver.Result, solver.Model, error) {
	return solver.Unsat, solver.Model{}, nil
}

func (refuter) Interpolant(context.Context, solver.PathCondition, int) (solver.Interpolant, error) {
	return solver.Interpolant{}, solver.ErrUnsupported
}

func TestInterpolantFailureIsNeverViolated(t *testing.T) {
	c := testutil.GuardedLoop(10)
	p, err := block.Decompose(c, block.LoopHeads)
	require.NoError(t, err)

	for _, policy := range []refine.OnUnknown{refine.OnUnknownUnknown, refine.OnUnknownViolated} {
		d, err := New(Config{
			CFA:       c,
			CPA:       testutil.Composite(t, cpa.MergePolicySep, cpa.StopPolicyAll, location.New(c), value.New(value.ScopeGlobal, false)),
			Partition: p,
			Solver:    refuter{},
			OnUnknown: policy,
		})
		require.NoError(t, err)

		res, err := d.Run(context.Background())
		require.NoError(t, err)
		if res.Verdict != refine.Unknown {
			t.Errorf("%s: %s, expected %s\n", policy, res.Verdict, refine.Unknown)
		}
		assert.Nil(t, res.Counterexample)
		assert.Contains(t, res.Diagnostic, "could not be refined")
	}
}
