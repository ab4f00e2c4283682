package graph

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var edges = map[int][]int{
	0:  {1, 8},
	1:  {4, 5, 2},
	2:  {6, 3, 9},
	3:  {2, 7},
	4:  {0, 5},
	5:  {6},
	6:  {5},
	7:  {3, 6},
	8:  {},
	9:  {10, 11},
	10: {12, 13},
	11: {12, 13},
	12: {},
	13: {},
}
var _sampleGraph = Of(func(i int) []int {
	return edges[i]
})

func TestBFSVisitsReachable(t *testing.T) {
	got := _sampleGraph.Reachable(9)
	assert.Equal(t, []int{9, 10, 11, 12, 13}, got)

	stopped := _sampleGraph.BFS(0, func(n int) bool { return n == 7 })
	assert.True(t, stopped)

	stopped = _sampleGraph.BFS(9, func(n int) bool { return n == 7 })
	assert.False(t, stopped)
}

func TestDFSBackEdges(t *testing.T) {
	res := _sampleGraph.DFS(0)
	require.Len(t, res.Postorder, len(edges))

	targets := map[int]bool{}
	for _, e := range res.BackEdges {
		targets[e[1]] = true
	}

	// Every cycle of the sample graph is entered through one of these.
	for _, head := range []int{0, 2, 5} {
		assert.True(t, targets[head], "expected %d to be the target of a back edge", head)
	}

	rpo := res.ReversePostorder()
	assert.Equal(t, 0, rpo[0])
	assert.Equal(t, res.Postorder[0], rpo[len(rpo)-1])
}

func TestToDotGraph(t *testing.T) {
	g := Of(func(i int) []int { return edges[i] })
	dg := g.ToDotGraph([]int{9, 10, 11}, &VisualizationConfig[int]{Title: "sample"})

	var buf bytes.Buffer
	require.NoError(t, dg.WriteDot(&buf))

	out := buf.String()
	assert.Contains(t, out, `"9" -> "10"`)
	assert.Contains(t, out, `"9" -> "11"`)
	assert.False(t, strings.Contains(out, `"12"`), "nodes outside the subgraph must not be rendered")
}
