package interval

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/lattice"
	"github.com/cs-au-dk/argus/testutil"
)

func edge(t *testing.T, c *cfa.CFA, from, to string) *cfa.Edge {
	t.Helper()
	n, ok := c.NodeByName(from)
	require.True(t, ok)
	for _, e := range n.Out() {
		if e.To.Name == to {
			return e
		}
	}
	t.Fatalf("no edge %s -> %s", from, to)
	return nil
}

func TestOverflowingAssignment(t *testing.T) {
	c := testutil.Overflow()
	s := Top(c.Entry)

	s, ok := s.Post(edge(t, c, "n0", "n1"))
	require.True(t, ok)
	assert.True(t, s.Range("x").Eq(lattice.IntervalConst(math.MaxInt64)))

	s, ok = s.Post(edge(t, c, "n1", "n2"))
	require.True(t, ok)
	assert.True(t, s.Range("x").IsTop(), "x = %s", s.Range("x"))

	_, ok = s.Post(edge(t, c, "n2", "err"))
	assert.True(t, ok, "the wrapped value is negative")
}

func TestAssumeClampsBounds(t *testing.T) {
	tests := []struct {
		cond     string
		x        lattice.Interval
		expected lattice.Interval
	}{
		{"x < 10", lattice.IntervalTop(), lattice.NewInterval(lattice.MinusInfinity{}, lattice.FiniteBound(9))},
		{"x > y", lattice.IntervalTop(), lattice.NewInterval(lattice.FiniteBound(6), lattice.PlusInfinity{})},
		{"x >= 0", lattice.IntervalOf(-5, 5), lattice.IntervalOf(0, 5)},
		{"x > 9223372036854775806", lattice.IntervalTop(), lattice.NewInterval(lattice.FiniteBound(math.MaxInt64), lattice.PlusInfinity{})},
	}

	for _, test := range tests {
		cond, err := cfa.ParseExpr(test.cond)
		require.NoError(t, err)

		s := Top(nil).With("x", test.x).With("y", lattice.NewInterval(lattice.FiniteBound(5), lattice.PlusInfinity{}))
		res, ok := s.Assume(cond)
		require.True(t, ok, test.cond)
		if !res.Range("x").Eq(test.expected) {
			t.Errorf("assume %s: x = %s, expected %s\n", test.cond, res.Range("x"), test.expected)
		}
	}
}
