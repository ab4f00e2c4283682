// Package refine implements counterexample-guided abstraction refinement
// on top of the CPA algorithm.
package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cs-au-dk/argus/analysis/algorithm"
	"github.com/cs-au-dk/argus/analysis/arg"
	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/analysis/cpa/value"
	"github.com/cs-au-dk/argus/analysis/solver"
	"github.com/cs-au-dk/argus/utils/logging"
	"github.com/cs-au-dk/argus/utils/metrics"
)

// OnUnknown is the policy for paths the solver cannot decide.
type OnUnknown string

const (
	OnUnknownUnknown  OnUnknown = "unknown"
	OnUnknownViolated OnUnknown = "violated-pending"
)

func ParseOnUnknown(s string) (OnUnknown, error) {
	switch p := OnUnknown(s); p {
	case OnUnknownUnknown, OnUnknownViolated:
		return p, nil
	}
	return "", fmt.Errorf("unknown solver policy %q", s)
}

type Config struct {
	// MaxRounds bounds the number of refinements. Zero means unbounded.
	MaxRounds int
	// RoundTimeout bounds every exploration and refinement round.
	RoundTimeout time.Duration
	OnUnknown    OnUnknown

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

type Result struct {
	Verdict        Verdict
	Counterexample *Counterexample
	Diagnostic     string
	Rounds         int
}

// Refiner drives an algorithm context to a verdict, refining the value
// analysis precision whenever a target is reached along a spurious path.
type Refiner struct {
	cfg    Config
	log    *slog.Logger
	algo   *algorithm.Context
	solver solver.Solver

	valueIdx  int
	rounds    int
	seen      map[string]bool
	precision string
}

func New(algo *algorithm.Context, s solver.Solver, cfg Config) *Refiner {
	if cfg.OnUnknown == "" {
		cfg.OnUnknown = OnUnknownUnknown
	}
	r := &Refiner{
		cfg:      cfg,
		log:      logging.OrDiscard(cfg.Log),
		algo:     algo,
		solver:   s,
		valueIdx: algo.CPA().Index(value.Name),
		seen:     map[string]bool{},
	}
	if r.valueIdx >= 0 {
		r.precision = algo.CPA().InitialPrecision(algo.CFA().Entry).Component(r.valueIdx).String()
	}
	return r
}

func (r *Refiner) Rounds() int { return r.rounds }

func (r *Refiner) unknown(format string, args ...any) Result {
	diag := fmt.Sprintf(format, args...)
	if r.precision != "" {
		diag += "; last precision " + r.precision
	}
	return Result{Verdict: Unknown, Diagnostic: diag, Rounds: r.rounds}
}

// Run explores and refines until a verdict is reached.
func (r *Refiner) Run(ctx context.Context) Result {
	for {
		if res, done := r.round(ctx); done {
			r.log.Info("verdict", "verdict", res.Verdict, "rounds", res.Rounds, "states", r.algo.ARG.Size())
			return res
		}
	}
}

func (r *Refiner) round(ctx context.Context) (Result, bool) {
	rctx, cancel := ctx, context.CancelFunc(func() {})
	if r.cfg.RoundTimeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, r.cfg.RoundTimeout)
	}
	defer cancel()

	switch r.algo.Run(rctx) {
	case algorithm.Exhausted:
		if r.algo.Reached.Incomplete() {
			return r.unknown("exploration incomplete: some states exceeded a resource bound"), true
		}
		return Result{Verdict: Holds, Rounds: r.rounds}, true
	case algorithm.Interrupted:
		switch {
		case ctx.Err() != nil:
			return r.unknown("interrupted: %v", context.Cause(ctx)), true
		case rctx.Err() != nil:
			return r.unknown("refinement round timed out after %s", r.cfg.RoundTimeout), true
		}
		return r.unknown("state limit reached"), true
	}

	for _, t := range r.algo.Targets() {
		if r.algo.ARG.Get(t).Destroyed() {
			continue
		}
		if res, done := r.refine(ctx, rctx, t); done {
			return res, true
		}
	}
	return Result{}, false
}

// Increment computes the variables that must be tracked along an
// infeasible path so that the value analysis refutes it. Variables are
// attributed to the location reached after each edge.
func Increment(ctx context.Context, s solver.Solver, edges []*cfa.Edge) (value.Increment, error) {
	pc := solver.PathCondition{Edges: edges}
	inc := value.Increment{}
	for i := 1; i <= len(edges); i++ {
		itp, err := s.Interpolant(ctx, pc, i)
		if err != nil {
			return nil, err
		}
		if itp.False || len(itp.Vars) == 0 {
			continue
		}
		node := edges[i-1].To
		inc[node.ID] = append(inc[node.ID], itp.Vars...)
	}
	return inc, nil
}

func pathKey(edges []*cfa.Edge, p value.Precision) string {
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = strconv.Itoa(e.ID)
	}
	return strings.Join(ids, ",") + "|" + p.String()
}

// refine decides the path to target. Returns true if a verdict is reached.
func (r *Refiner) refine(ctx, rctx context.Context, target arg.ID) (Result, bool) {
	r.rounds++
	if r.cfg.MaxRounds > 0 && r.rounds > r.cfg.MaxRounds {
		r.rounds--
		return r.unknown("refinement bound of %d rounds reached", r.cfg.MaxRounds), true
	}

	states, edges := r.algo.ARG.PathTo(target)
	cx := &Counterexample{Edges: edges, States: states}
	res, model, err := r.solver.CheckFeasibility(rctx, solver.PathCondition{Edges: edges})
	switch {
	case err != nil || res == solver.Unknown:
		return r.undecided(ctx, rctx, cx, err), true
	case res == solver.Sat:
		r.cfg.Metrics.Refinement("feasible")
		cx.Model = model
		return Result{Verdict: Violated, Counterexample: cx, Rounds: r.rounds}, true
	}

	if r.valueIdx < 0 {
		return r.unknown("spurious counterexample, but no component can be refined"), true
	}

	inc, err := Increment(rctx, r.solver, edges)
	if err != nil {
		return r.unrefinable(ctx, rctx, err), true
	}

	entry, _ := r.algo.Reached.Get(target)
	current := entry.Precision.Component(r.valueIdx).(value.Precision)
	key := pathKey(edges, current)
	if r.seen[key] {
		return r.unknown("no progress: path %s was already refined under the same precision", key), true
	}
	r.seen[key] = true

	// The first state whose location gains a tracked variable.
	pivot := -1
	for i := 1; i < len(states) && pivot < 0; i++ {
		pe, ok := r.algo.Reached.Get(states[i-1])
		if !ok {
			continue
		}
		old := pe.Precision.Component(r.valueIdx).(value.Precision)
		node := r.algo.ARG.Get(states[i]).Location()
		for _, x := range inc[node.ID] {
			if !old.Tracks(node, x) {
				pivot = i
				break
			}
		}
	}
	if pivot < 0 {
		return r.unknown("no progress: the interpolants add no tracked variable"), true
	}

	parent := states[pivot-1]
	pe, _ := r.algo.Reached.Get(parent)
	refined := pe.Precision.Component(r.valueIdx).(value.Precision).Refine(inc)
	if refined.Scope() == value.ScopeGlobal {
		parent = states[0]
		pe, _ = r.algo.Reached.Get(parent)
		refined = pe.Precision.Component(r.valueIdx).(value.Precision).Refine(inc)
	}
	prec := pe.Precision.With(r.valueIdx, refined)

	var uncovered []arg.ID
	if refined.Scope() == value.ScopeGlobal {
		children := append([]arg.ID(nil), r.algo.ARG.Get(parent).Children()...)
		for _, child := range children {
			uncovered = append(uncovered, r.algo.Prune(child)...)
		}
	} else {
		uncovered = r.algo.Prune(states[pivot])
	}

	r.algo.Readd(parent, prec)
	for _, u := range uncovered {
		if !r.algo.ARG.Get(u).Destroyed() {
			r.algo.Readd(u, precisionOf(r.algo, r.valueIdx, u, inc, prec))
		}
	}

	r.precision = refined.String()
	r.cfg.Metrics.Refinement("spurious")
	r.log.Info("refined precision", "round", r.rounds, "pivot", pivot, "precision", r.precision, "states", r.algo.ARG.Size())
	return Result{}, false
}

// precisionOf is the precision id was explored under, refined with inc.
// Covered states are not in the reached set and use their last parent's.
func precisionOf(algo *algorithm.Context, idx int, id arg.ID, inc value.Increment, fallback cpa.CompositePrecision) cpa.CompositePrecision {
	e, ok := algo.Reached.Get(id)
	if !ok {
		if parents := algo.ARG.Get(id).Parents(); len(parents) > 0 {
			e, ok = algo.Reached.Get(parents[len(parents)-1])
		}
	}
	if !ok {
		return fallback
	}
	return e.Precision.With(idx, e.Precision.Component(idx).(value.Precision).Refine(inc))
}

// unrefinable reports a spurious path without interpolants. The path is
// infeasible, so it is never reported as a violation.
func (r *Refiner) unrefinable(ctx, rctx context.Context, err error) Result {
	r.cfg.Metrics.Refinement("unknown")
	switch {
	case ctx.Err() != nil:
		return r.unknown("interrupted: %v", context.Cause(ctx))
	case errors.Is(err, context.DeadlineExceeded) || rctx.Err() != nil:
		return r.unknown("refinement round timed out after %s", r.cfg.RoundTimeout)
	}
	r.log.Warn("no interpolants for spurious counterexample", "error", err)
	return r.unknown("spurious counterexample could not be refined: %v", err)
}

// undecided applies the configured policy to a path the solver could not
// decide.
func (r *Refiner) undecided(ctx, rctx context.Context, cx *Counterexample, err error) Result {
	r.cfg.Metrics.Refinement("unknown")
	switch {
	case ctx.Err() != nil:
		return r.unknown("interrupted: %v", context.Cause(ctx))
	case errors.Is(err, context.DeadlineExceeded) || rctx.Err() != nil:
		return r.unknown("refinement round timed out after %s", r.cfg.RoundTimeout)
	}

	r.log.Warn("solver could not decide counterexample", "error", err, "policy", r.cfg.OnUnknown)
	if r.cfg.OnUnknown == OnUnknownViolated {
		cx.Pending = true
		return Result{
			Verdict:        Violated,
			Counterexample: cx,
			Diagnostic:     "counterexample pending manual check: the solver could not decide it",
			Rounds:         r.rounds,
		}
	}
	if err != nil {
		return r.unknown("solver could not decide a counterexample: %v", err)
	}
	return r.unknown("solver could not decide a counterexample")
}
