package block

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/testutil"
)

func names(c *cfa.CFA, b *Block) (ret []string) {
	for _, n := range b.Nodes(c) {
		ret = append(ret, n.Name)
	}
	return
}

func TestDecompose(t *testing.T) {
	loop := testutil.LoopAfterEntry()
	twice := testutil.Twice()

	tests := []struct {
		c        *cfa.CFA
		strategy Strategy
		blocks   [][]string
	}{
		{loop, Single, [][]string{{"n0", "n1", "n2", "n3", "n4"}}},
		{loop, LoopHeads, [][]string{{"n0"}, {"n1", "n2", "n3", "n4"}}},
		{loop, MergePoints, [][]string{{"n0"}, {"n1", "n2", "n3", "n4"}}},
		{twice, Functions, [][]string{{"n0", "n1", "n2", "err", "n3"}, {"t0", "t1"}}},
		{testutil.SingleLocation(), LoopHeads, [][]string{{"n0"}}},
	}

	for _, test := range tests {
		p, err := Decompose(test.c, test.strategy)
		require.NoError(t, err)
		if len(p.Blocks) != len(test.blocks) {
			t.Errorf("%s: %d blocks, expected %d\n%s", test.strategy, len(p.Blocks), len(test.blocks), p)
			continue
		}
		for i, b := range p.Blocks {
			assert.Equal(t, test.blocks[i], names(test.c, b), "%s: block %d", test.strategy, i)
		}
	}
}

func TestEntriesAndExits(t *testing.T) {
	c := testutil.LoopAfterEntry()
	p, err := Decompose(c, LoopHeads)
	require.NoError(t, err)

	n0, _ := c.NodeByName("n0")
	n1, _ := c.NodeByName("n1")
	a, b := p.Of(n0), p.Of(n1)

	assert.Same(t, a, p.Root())
	assert.Equal(t, []*cfa.Node{n0}, a.Entries)
	assert.Equal(t, []*cfa.Node{n1}, b.Entries)
	require.Len(t, a.Exits, 1)
	assert.Same(t, n1, a.Exits[0].To)
	assert.Empty(t, b.Exits)

	assert.Equal(t, []*Block{b}, p.Successors(a))
	assert.Equal(t, []*Block{a}, p.Predecessors(b))
	assert.Equal(t, []*Block{a, b}, p.Order())
}

func TestFunctionsOrder(t *testing.T) {
	c := testutil.Twice()
	p, err := Decompose(c, Functions)
	require.NoError(t, err)

	// main and twice call each other, so they form one cycle.
	order := p.Order()
	require.Len(t, order, 2)
	assert.Equal(t, 0, order[0].ID)
	assert.Equal(t, 1, order[1].ID)

	t0, _ := c.NodeByName("t0")
	assert.True(t, p.Of(t0).IsEntry(t0))
}

func TestValidate(t *testing.T) {
	c := testutil.LoopAfterEntry()
	p, err := Decompose(c, LoopHeads)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	// Drop the entry of the loop block.
	p.Blocks[1].Entries = nil
	err = p.Validate()
	assert.True(t, errors.Is(err, ErrPartition), "got %v", err)

	_, err = Decompose(c, "everywhere")
	assert.ErrorIs(t, err, ErrPartition)
}

func TestParseStrategy(t *testing.T) {
	for _, s := range Strategies {
		got, err := ParseStrategy(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStrategy("random")
	assert.Error(t, err)
}

func TestToDot(t *testing.T) {
	c := testutil.LoopAfterEntry()
	p, err := Decompose(c, LoopHeads)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, p.ToDot("blocks").WriteDot(&buf))
	out := buf.String()
	assert.Contains(t, out, "cluster_B0")
	assert.Contains(t, out, "cluster_B1")
	assert.Contains(t, out, `style="bold";`)
}
