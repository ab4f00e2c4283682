package arg

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/analysis/cpa/location"
)

type fixture struct {
	c    *cfa.CFA
	comp *cpa.Composite
	a    *ARG
}

func newFixture(t *testing.T) *fixture {
	c := cfa.NewBuilder().
		Func("main").
		Skip("n0", "n1").
		Branch("n1", "n2", "n3", "x > 0").
		Skip("n2", "n1").
		Skip("n3", "err").
		Target("err").
		MustBuild()
	comp, err := cpa.NewComposite([]cpa.CPA{location.New(c)}, cpa.MergePolicySep, cpa.StopPolicyAll)
	require.NoError(t, err)
	return &fixture{c, comp, New()}
}

func (f *fixture) edge(from, to string) *cfa.Edge {
	for _, e := range f.c.Edges {
		if e.From.Name == from && e.To.Name == to {
			return e
		}
	}
	panic("no edge " + from + " -> " + to)
}

// child adds the successor of parent along from -> to.
func (f *fixture) child(parent ID, from, to string) ID {
	e := f.edge(from, to)
	return f.a.AddChild(parent, e, f.comp.Compose(location.State{Node: e.To}))
}

func TestPathTo(t *testing.T) {
	f := newFixture(t)
	root := f.a.AddRoot(f.comp.Initial(f.c.Entry))
	n1 := f.child(root, "n0", "n1")
	n3 := f.child(n1, "n1", "n3")
	err := f.child(n3, "n3", "err")

	states, edges := f.a.PathTo(err)
	assert.Equal(t, []ID{root, n1, n3, err}, states)
	require.Len(t, edges, 3)
	assert.Equal(t, "n0", edges[0].From.Name)
	assert.Equal(t, "err", edges[2].To.Name)

	assert.Equal(t, []ID{err}, f.a.Targets())
	assert.NoError(t, f.a.Check())
}

func TestCover(t *testing.T) {
	f := newFixture(t)
	root := f.a.AddRoot(f.comp.Initial(f.c.Entry))
	n1 := f.child(root, "n0", "n1")
	n2 := f.child(n1, "n1", "n2")
	again := f.child(n2, "n2", "n1")

	f.a.Cover(again, n1)
	by, ok := f.a.Get(again).CoveredBy()
	assert.True(t, ok)
	assert.Equal(t, n1, by)
	assert.Equal(t, []ID{again}, f.a.Get(n1).Covering())
	assert.NoError(t, f.a.Check())

	// Covered states are never expanded, and expanded states never covered.
	assert.Panics(t, func() { f.child(again, "n1", "n3") })
	assert.Panics(t, func() { f.a.Cover(n1, root) })

	f.a.Uncover(again)
	assert.False(t, f.a.Get(again).IsCovered())
	assert.Empty(t, f.a.Get(n1).Covering())
}

func TestRemoveSubtree(t *testing.T) {
	f := newFixture(t)
	root := f.a.AddRoot(f.comp.Initial(f.c.Entry))
	n1 := f.child(root, "n0", "n1")
	n2 := f.child(n1, "n1", "n2")
	n3 := f.child(n1, "n1", "n3")
	again := f.child(n2, "n2", "n1")
	f.a.Cover(again, n1)
	require.Equal(t, 5, f.a.Size())

	removed, uncovered := f.a.RemoveSubtree(n3)
	assert.Equal(t, []ID{n3}, removed)
	assert.Empty(t, uncovered)
	assert.Equal(t, []ID{n2}, f.a.Get(n1).Children())

	// Covered states inside the subtree are removed with it.
	removed, uncovered = f.a.RemoveSubtree(n2)
	assert.ElementsMatch(t, []ID{n2, again}, removed)
	assert.Empty(t, uncovered)

	other := f.child(n1, "n1", "n2")
	back := f.child(other, "n2", "n1")
	f.a.Cover(back, n1)
	_, uncovered = f.a.RemoveSubtree(n1)
	assert.Empty(t, uncovered)
	assert.Equal(t, 1, f.a.Size())
	assert.True(t, f.a.Get(n1).Destroyed())
	assert.NoError(t, f.a.Check())
}

func TestRemoveCoverer(t *testing.T) {
	f := newFixture(t)
	root := f.a.AddRoot(f.comp.Initial(f.c.Entry))
	n1 := f.child(root, "n0", "n1")
	n2 := f.child(n1, "n1", "n2")
	back := f.child(n2, "n2", "n1")
	n3 := f.child(back, "n1", "n3")

	// A sibling branch covered by a state in n3's subtree.
	errState := f.child(n3, "n3", "err")
	dup := f.child(n1, "n1", "n3")
	dupErr := f.child(dup, "n3", "err")
	f.a.Cover(dupErr, errState)

	_, uncovered := f.a.RemoveSubtree(n3)
	assert.Equal(t, []ID{dupErr}, uncovered)
	assert.False(t, f.a.Get(dupErr).IsCovered())
	assert.NoError(t, f.a.Check())
}

func TestMerge(t *testing.T) {
	f := newFixture(t)
	root := f.a.AddRoot(f.comp.Initial(f.c.Entry))
	n1 := f.child(root, "n0", "n1")
	n2 := f.child(n1, "n1", "n2")

	// Merging the loop successor of n2 into n1 would close a cycle.
	e := f.edge("n2", "n1")
	m := f.a.Merge(n1, n2, e, f.comp.Compose(location.State{Node: e.To}))
	assert.True(t, f.a.Get(n1).Destroyed())
	into, ok := f.a.Get(n1).MergedInto()
	assert.True(t, ok)
	assert.Equal(t, m, into)
	assert.Equal(t, []ID{root}, f.a.Get(m).Parents())
	assert.Equal(t, []ID{n2}, f.a.Get(m).Children())
	assert.Equal(t, []ID{m}, f.a.Get(n2).Parents())
	assert.NoError(t, f.a.Check())

	// A merge with an unrelated parent adds it as the most recent parent.
	root2 := f.a.AddRoot(f.comp.Initial(f.c.Entry))
	e = f.edge("n0", "n1")
	m2 := f.a.Merge(m, root2, e, f.comp.Compose(location.State{Node: e.To}))
	assert.Equal(t, []ID{root, root2}, f.a.Get(m2).Parents())
	states, _ := f.a.PathTo(n2)
	assert.Equal(t, []ID{root2, m2, n2}, states)
	assert.NoError(t, f.a.Check())
}

func TestCheckDetectsBrokenInvariants(t *testing.T) {
	f := newFixture(t)
	root := f.a.AddRoot(f.comp.Initial(f.c.Entry))
	n1 := f.child(root, "n0", "n1")
	n2 := f.child(n1, "n1", "n2")

	// Forge a derivation cycle and a covered state with children.
	f.a.states[n1].parents = append(f.a.states[n1].parents, n2)
	f.a.states[n1].edges = append(f.a.states[n1].edges, f.edge("n2", "n1"))
	f.a.states[n2].children = append(f.a.states[n2].children, n1)
	f.a.states[n1].coveredBy = root
	f.a.states[root].covering = []ID{n1}

	err := f.a.Check()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariant))
	assert.Contains(t, err.Error(), "own ancestor")
	assert.Contains(t, err.Error(), "covered state 1 has children")
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	root := f.a.AddRoot(f.comp.Initial(f.c.Entry))
	n1 := f.child(root, "n0", "n1")
	n2 := f.child(n1, "n1", "n2")
	again := f.child(n2, "n2", "n1")
	f.a.Cover(again, n1)

	var buf bytes.Buffer
	require.NoError(t, f.a.ToDot("arg").WriteDot(&buf))
	out := buf.String()
	assert.Contains(t, out, `"3" -> "1" [ label="covered"; style="dashed"; ]`)
	assert.Contains(t, out, `"0" -> "1" [ label="skip"; ]`)

	data, err := f.a.Snapshot().Encode()
	require.NoError(t, err)
	snap, err := DecodeSnapshot(data)
	require.NoError(t, err)
	require.Len(t, snap.States, 4)
	assert.Equal(t, []int{0}, snap.Roots)
	assert.Equal(t, int(n1), snap.States[again].CoveredBy)
	assert.Equal(t, int(NoID), snap.States[n1].CoveredBy)
}
