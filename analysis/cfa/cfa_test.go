package cfa

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopCFA(t *testing.T) *CFA {
	c, err := NewBuilder().
		Func("main").
		Assign("n0", "n1", "i = 0").
		Branch("n1", "n2", "n3", "i < 10").
		Assign("n2", "n1", "i = i + 1").
		Branch("n3", "err", "n4", "i != 10").
		Target("err").
		Build()
	require.NoError(t, err)
	return c
}

func TestBuilderStructure(t *testing.T) {
	c := loopCFA(t)

	assert.Len(t, c.Nodes, 6)
	assert.Len(t, c.Edges, 6)
	assert.Equal(t, "n0", c.Entry.Name)

	n1, ok := c.NodeByName("n1")
	require.True(t, ok)
	assert.Len(t, n1.Out(), 2)
	assert.Len(t, n1.In(), 2)

	targets := c.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, "err", targets[0].Name)

	for i, e := range c.Edges {
		assert.Equal(t, i, e.ID)
		assert.Same(t, e, c.Edge(i))
	}
	assert.Nil(t, c.Node(100))
}

func TestLoopHeads(t *testing.T) {
	c := loopCFA(t)

	heads := c.LoopHeads()
	require.Len(t, heads, 1)
	assert.Equal(t, "n1", heads[0].Name)

	n0, _ := c.NodeByName("n0")
	n2, _ := c.NodeByName("n2")
	assert.False(t, c.IsLoopHead(n0))
	assert.False(t, c.IsLoopHead(n2))
}

func TestReversePostorder(t *testing.T) {
	c := loopCFA(t)

	// Every forward edge goes from a lower to a higher index.
	for _, e := range c.Edges {
		if c.IsLoopHead(e.To) && e.From.Name == "n2" {
			continue
		}
		assert.Less(t, c.RPO(e.From), c.RPO(e.To), "%s", e)
	}
	assert.Equal(t, 0, c.RPO(c.Entry))
}

func TestCalls(t *testing.T) {
	c, err := NewBuilder().
		Func("main").
		Assign("m0", "m1", "x = 1").
		Call("m1", "m2", "y = inc(x)").
		Call("m2", "m3", "y = inc(y)").
		Branch("m3", "err", "m4", "y != 3").
		Target("err").
		Func("inc", "inc.a").
		Skip("f0", "f1").
		Exit("f1", "inc.a + 1").
		Build()
	require.NoError(t, err)

	var calls, returns int
	for _, e := range c.Edges {
		switch op := e.Op.(type) {
		case Call:
			calls++
			assert.Equal(t, "f0", e.To.Name)
			assert.Equal(t, []string{"inc.a"}, op.Params)
		case Return:
			returns++
			assert.Equal(t, "f1", e.From.Name)
			assert.Equal(t, "y", op.Var)
			assert.Equal(t, "inc.a + 1", op.Value.String())
		}
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, returns)

	// Calling inc twice closes a cycle through inc in the supergraph, which
	// is not a loop of either function.
	assert.Empty(t, c.LoopHeads())
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]*Builder{
		"unreachable target": NewBuilder().
			Func("main").
			Skip("n0", "n1").
			Target("err"),
		"undefined callee": NewBuilder().
			Func("main").
			Call("n0", "n1", "f()"),
		"arity mismatch": NewBuilder().
			Func("main").
			Call("n0", "n1", "f(1, 2)").
			Func("f", "f.a").
			Skip("f0", "f1").
			Exit("f1", ""),
		"missing exit": NewBuilder().
			Func("main").
			Call("n0", "n1", "f()").
			Func("f").
			Skip("f0", "f1"),
		"crossing edge": NewBuilder().
			Func("main").
			Skip("n0", "n1").
			Func("f").
			Skip("f0", "n1"),
		"bad assignment": NewBuilder().
			Func("main").
			Assign("n0", "n1", "1 = x"),
		"bad condition": NewBuilder().
			Func("main").
			Assume("n0", "n1", "x <"),
	}

	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := b.Build()
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	c, err := Load([]byte(`
functions:
  - name: main
    targets: [err]
    edges:
      - {from: n0, to: n1, havoc: x}
      - {from: n1, to: n2, call: "y = abs(x)"}
      - {from: n2, to: err, else: n3, branch: "y < 0"}
  - name: abs
    params: [abs.v]
    exit: a3
    result: abs.r
    edges:
      - {from: a0, to: a1, else: a2, branch: "abs.v < 0"}
      - {from: a1, to: a3, assign: "abs.r = -abs.v"}
      - {from: a2, to: a3, assign: "abs.r = abs.v"}
`))
	require.NoError(t, err)

	assert.Equal(t, "n0", c.Entry.Name)
	assert.Len(t, c.Functions, 2)
	assert.Equal(t, "a0", c.Functions["abs"].Entry.Name)

	n1, _ := c.NodeByName("n1")
	require.Len(t, n1.Out(), 1)
	call, ok := n1.Out()[0].Op.(Call)
	require.True(t, ok)
	assert.Equal(t, "n2", call.ReturnSite.Name)
	assert.Equal(t, "call abs(x)", call.String())
}

func TestLoadRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"no functions":   `functions: []`,
		"two operations": "functions:\n  - name: main\n    edges:\n      - {from: a, to: b, skip: true, havoc: x}\n",
		"unknown field":  "functions:\n  - name: main\n    edges:\n      - {from: a, to: b, jump: x}\n",
		"dangling else":  "functions:\n  - name: main\n    edges:\n      - {from: a, to: b, else: c, skip: true}\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(doc))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
