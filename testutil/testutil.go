// Package testutil provides the small programs and loaders shared by the
// tests of the analysis packages.
package testutil

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/exp/slices"

	"github.com/stretchr/testify/require"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
)

// Scenario is a program with a known verdict.
type Scenario struct {
	Name   string
	CFA    *cfa.CFA
	Expect string
}

// SingleLocation is a program of one location and no target.
func SingleLocation() *cfa.CFA {
	b := cfa.NewBuilder().Func("main")
	b.Node("n0")
	return b.MustBuild()
}

// DirectTarget is a program whose entry steps directly into a target.
func DirectTarget() *cfa.CFA {
	return cfa.NewBuilder().
		Func("main").
		Skip("n0", "err").
		Target("err").
		MustBuild()
}

// GuardedLoop counts i up to bound. The target is guarded by i < 0, which
// never holds after the loop, but an analysis that forgets i cannot tell.
func GuardedLoop(bound int) *cfa.CFA {
	cond := "i < " + strconv.Itoa(bound)
	return cfa.NewBuilder().
		Func("main").
		Assign("n0", "n1", "i = 0").
		Branch("n1", "n2", "n3", cond).
		Assign("n2", "n1", "i = i + 1").
		Branch("n3", "err", "n4", "i < 0").
		Target("err").
		MustBuild()
}

// MagicInput reaches its target when the input x is 6.
func MagicInput() *cfa.CFA {
	return cfa.NewBuilder().
		Func("main").
		Havoc("n0", "n1", "x").
		Branch("n1", "n2", "n4", "x > 5").
		Assign("n2", "n3", "y = x * 2").
		Branch("n3", "err", "n4", "y == 12").
		Target("err").
		MustBuild()
}

// Twice calls a function doubling its argument and checks the result.
// With exact arithmetic the target is unreachable.
func Twice() *cfa.CFA {
	return cfa.NewBuilder().
		Func("main").
		Assign("n0", "n1", "x = 3").
		Call("n1", "n2", "y = twice(x)").
		Branch("n2", "err", "n3", "y != 6").
		Target("err").
		Func("twice", "twice.a").
		Assign("t0", "t1", "twice.r = twice.a + twice.a").
		Exit("t1", "twice.r").
		MustBuild()
}

// LoopAfterEntry has a loop at the location reached from the entry. Cut at
// loop heads, it splits into the entry block and the loop block.
func LoopAfterEntry() *cfa.CFA {
	return cfa.NewBuilder().
		Func("main").
		Assign("n0", "n1", "i = 0").
		Branch("n1", "n2", "n3", "i < 3").
		Assign("n2", "n1", "i = i + 1").
		Skip("n3", "n4").
		MustBuild()
}

// Overflow increments the largest integer. Arithmetic wraps, so the
// target guarded by x < 0 is reachable.
func Overflow() *cfa.CFA {
	return cfa.NewBuilder().
		Func("main").
		Assign("n0", "n1", "x = 9223372036854775807").
		Assign("n1", "n2", "x = x + 1").
		Branch("n2", "err", "n3", "x < 0").
		Target("err").
		MustBuild()
}

// Scenarios lists the programs above with their verdicts.
func Scenarios() []Scenario {
	return []Scenario{
		{"single location", SingleLocation(), "HOLDS"},
		{"direct target", DirectTarget(), "VIOLATED"},
		{"guarded loop", GuardedLoop(10), "HOLDS"},
		{"magic input", MagicInput(), "VIOLATED"},
		{"twice", Twice(), "HOLDS"},
		{"loop after entry", LoopAfterEntry(), "HOLDS"},
		{"overflow", Overflow(), "VIOLATED"},
	}
}

// Composite builds the product of components, failing the test on error.
func Composite(t testing.TB, merge cpa.MergePolicy, stop cpa.StopPolicy, components ...cpa.CPA) *cpa.Composite {
	t.Helper()
	comp, err := cpa.NewComposite(components, merge, stop)
	require.NoError(t, err)
	return comp
}

// Example is a CFA document under examples/cfa. Its expected verdict is
// declared by a leading "# @expect VERDICT" line.
type Example struct {
	Name   string
	Path   string
	Expect string
	CFA    *cfa.CFA
}

func examplesDir(pathToRoot string) string {
	return filepath.Join(pathToRoot, "examples", "cfa")
}

// ListExamples returns the names of the example documents, sorted.
func ListExamples(t testing.TB, pathToRoot string) []string {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(examplesDir(pathToRoot), "*.yaml"))
	require.NoError(t, err)

	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = strings.TrimSuffix(filepath.Base(p), ".yaml")
	}
	slices.Sort(names)
	return names
}

// LoadExample loads and builds an example document.
func LoadExample(t testing.TB, pathToRoot, name string) Example {
	t.Helper()
	path := filepath.Join(examplesDir(pathToRoot), name+".yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	c, err := cfa.Load(data)
	require.NoError(t, err, "loading %s", path)

	return Example{Name: name, Path: path, Expect: expectation(data), CFA: c}
}

func expectation(data []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "#") {
			break
		}
		if rest, ok := strings.CutPrefix(strings.TrimSpace(strings.TrimPrefix(line, "#")), "@expect"); ok {
			return strings.ToUpper(strings.TrimSpace(rest))
		}
	}
	return ""
}
