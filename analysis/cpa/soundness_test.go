package cpa_test

import (
	"testing"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
)

func callCFA() *cfa.CFA {
	return cfa.NewBuilder().
		Func("main").
		Havoc("m0", "m1", "x").
		Call("m1", "m2", "y = twice(x)").
		Branch("m2", "m3", "m4", "y > 4").
		Assign("m3", "m4", "y = y - 1").
		Branch("m4", "err", "m5", "y == 7").
		Target("err").
		Func("twice", "a").
		Assign("t0", "t1", "r = a + a").
		Branch("t1", "t2", "t3", "r < 0").
		Assign("t2", "t3", "r = 0").
		Exit("t3", "r").
		MustBuild()
}

// reachable collects component states by exploring c with the composite
// product of comps, up to the given number of states.
func reachable(t *testing.T, c *cfa.CFA, comps []cpa.CPA, limit int) [][]cpa.AbstractState {
	comp, err := cpa.NewComposite(comps, cpa.MergePolicySep, cpa.StopPolicyAll)
	if err != nil {
		t.Fatal(err)
	}

	byComponent := make([][]cpa.AbstractState, comp.Len())
	p := comp.InitialPrecision(c.Entry)
	queue := []*cpa.State{comp.Initial(c.Entry)}
	for seen := 0; len(queue) > 0 && seen < limit; seen++ {
		s := queue[0]
		queue = queue[1:]
		for i := 0; i < s.Len(); i++ {
			byComponent[i] = append(byComponent[i], s.Component(i))
		}
		for _, e := range s.Location().Out() {
			queue = append(queue, comp.Transfer(s, p, e)...)
		}
	}
	return byComponent
}

func TestStopSoundness(t *testing.T) {
	for _, c := range []*cfa.CFA{loopCFA(t), callCFA()} {
		comps := components(c)
		states := reachable(t, c, comps, 200)

		for i, comp := range comps {
			comp := comp
			if comp.Stop == nil {
				comp.Stop = cpa.StopSep(comp.Leq)
			}
			p := comp.InitialPrecision(c.Entry)
			for _, s := range states[i] {
				for j := range states[i] {
					reached := states[i][j : j+1]
					if !comp.Stop(s, reached, p) {
						continue
					}
					if !comp.Leq(s, reached[0]) {
						t.Errorf("%s: %s is covered by %s but not below it\n", comp.Name, s, reached[0])
					}
				}
			}
		}
	}
}

func TestStockOperators(t *testing.T) {
	c := loopCFA(t)
	n1, _ := c.NodeByName("n1")
	loc := components(c)[0]
	a := loc.Initial(n1)
	b := loc.Initial(c.Entry)

	if cpa.StopNever(a, []cpa.AbstractState{a}, cpa.NoPrecision{}) {
		t.Errorf("StopNever covered %s\n", a)
	}
	if !cpa.StopEqual(a, []cpa.AbstractState{b, a}, cpa.NoPrecision{}) {
		t.Errorf("StopEqual did not cover %s\n", a)
	}
	if got := cpa.MergeSep(a, b, cpa.NoPrecision{}); !got.Equal(b) {
		t.Errorf("MergeSep(%s, %s) = %s, expected %s\n", a, b, got, b)
	}
	s, p, action := cpa.AdjustIdentity(a, cpa.NoPrecision{}, nil)
	if !s.Equal(a) || !p.Equal(cpa.NoPrecision{}) || action != cpa.Continue {
		t.Errorf("AdjustIdentity changed %s\n", a)
	}
}
