package algorithm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs-au-dk/argus/analysis/algorithm"
	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/analysis/cpa/interval"
	"github.com/cs-au-dk/argus/analysis/cpa/location"
	"github.com/cs-au-dk/argus/analysis/cpa/loopbound"
	"github.com/cs-au-dk/argus/analysis/cpa/value"
	"github.com/cs-au-dk/argus/analysis/reached"
	"github.com/cs-au-dk/argus/testutil"
	"github.com/cs-au-dk/argus/utils/metrics"
)

func explicit(t *testing.T, c *cfa.CFA) *cpa.Composite {
	return testutil.Composite(t, cpa.MergePolicySep, cpa.StopPolicyAll,
		location.New(c), value.New(value.ScopeGlobal, true))
}

func run(t *testing.T, cfg algorithm.Config) *algorithm.Context {
	algo := algorithm.New(cfg)
	algo.SeedEntry()
	return algo
}

func TestSingleLocationHolds(t *testing.T) {
	c := testutil.SingleLocation()
	algo := run(t, algorithm.Config{
		CFA: c,
		CPA: testutil.Composite(t, cpa.MergePolicySep, cpa.StopPolicyAll, location.New(c)),
	})

	require.Equal(t, algorithm.Exhausted, algo.Run(context.Background()))
	assert.Equal(t, 1, algo.ARG.Size())
	assert.Empty(t, algo.Targets())
	assert.False(t, algo.Reached.Incomplete())
	assert.Equal(t, 1, algo.Steps())
}

func TestDirectTargetFound(t *testing.T) {
	c := testutil.DirectTarget()
	algo := run(t, algorithm.Config{
		CFA: c,
		CPA: testutil.Composite(t, cpa.MergePolicySep, cpa.StopPolicyAll, location.New(c)),
	})

	require.Equal(t, algorithm.TargetFound, algo.Run(context.Background()))
	require.Len(t, algo.Targets(), 1)

	states, edges := algo.ARG.PathTo(algo.Targets()[0])
	assert.Len(t, states, 2)
	require.Len(t, edges, 1)
	assert.Equal(t, "err", edges[0].To.Name)

	// Resuming finishes the exploration.
	assert.Equal(t, algorithm.Exhausted, algo.Run(context.Background()))
	assert.Empty(t, algo.Targets())
	assert.NoError(t, algo.ARG.Check())
}

func TestInterrupted(t *testing.T) {
	c := testutil.GuardedLoop(10)
	algo := run(t, algorithm.Config{CFA: c, CPA: explicit(t, c)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, algorithm.Interrupted, algo.Run(ctx))
	assert.Equal(t, algorithm.Interrupted, algo.Status())
	assert.Equal(t, 1, algo.ARG.Size())
	assert.NoError(t, algo.ARG.Check())

	// The structures stay usable.
	assert.Equal(t, algorithm.Exhausted, algo.Run(context.Background()))
}

func TestMaxStates(t *testing.T) {
	c := testutil.GuardedLoop(10)
	algo := run(t, algorithm.Config{CFA: c, CPA: explicit(t, c), MaxStates: 3})

	assert.Equal(t, algorithm.Interrupted, algo.Run(context.Background()))
	assert.True(t, algo.Reached.Incomplete())
	assert.GreaterOrEqual(t, algo.ARG.Size(), 3)
}

func TestPrecisionBreak(t *testing.T) {
	c := testutil.LoopAfterEntry()
	comp := testutil.Composite(t, cpa.MergePolicySep, cpa.StopPolicyAll,
		location.New(c), value.New(value.ScopeGlobal, true), loopbound.New(c, 1))
	m := metrics.New()
	algo := run(t, algorithm.Config{CFA: c, CPA: comp, Metrics: m})

	assert.Equal(t, algorithm.Exhausted, algo.Run(context.Background()))
	assert.True(t, algo.Reached.Incomplete())
}

func TestMergeAgreeWidens(t *testing.T) {
	c := testutil.GuardedLoop(10)
	comp := testutil.Composite(t, cpa.MergePolicyAgree, cpa.StopPolicyAll, location.New(c), interval.New(c))
	algo := run(t, algorithm.Config{CFA: c, CPA: comp})

	require.Equal(t, algorithm.Exhausted, algo.Run(context.Background()))
	assert.Empty(t, algo.Targets())
	assert.NoError(t, algo.ARG.Check())

	n1, _ := c.NodeByName("n1")
	assert.Len(t, algo.Reached.At(n1), 1)
}

func TestBlockExits(t *testing.T) {
	c := testutil.LoopAfterEntry()
	algo := run(t, algorithm.Config{
		CFA:     c,
		CPA:     explicit(t, c),
		InBlock: func(n *cfa.Node) bool { return n == c.Entry },
	})

	require.Equal(t, algorithm.Exhausted, algo.Run(context.Background()))
	exits := algo.Exits()
	require.Len(t, exits, 1)

	st := algo.ARG.Get(exits[0])
	assert.Equal(t, "n1", st.Location().Name)
	assert.False(t, algo.Reached.Contains(exits[0]))
}

func TestVerdictIndependentOfOrder(t *testing.T) {
	for _, sc := range testutil.Scenarios() {
		found := map[reached.Order]bool{}
		for _, order := range reached.Orders {
			algo := run(t, algorithm.Config{CFA: sc.CFA, CPA: explicit(t, sc.CFA), Order: order})

			status := algo.Run(context.Background())
			for status == algorithm.TargetFound {
				found[order] = true
				status = algo.Run(context.Background())
			}
			if status != algorithm.Exhausted {
				t.Errorf("%s with %s: %s, expected %s\n", sc.Name, order, status, algorithm.Exhausted)
			}
			assert.NoError(t, algo.ARG.Check(), "%s with %s", sc.Name, order)
		}

		for _, order := range reached.Orders {
			if found[order] != (sc.Expect == "VIOLATED") {
				t.Errorf("%s with %s: target found = %v, expected verdict %s\n", sc.Name, order, found[order], sc.Expect)
			}
		}
	}
}
