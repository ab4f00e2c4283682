// Package verify checks that no target location of a CFA is reachable,
// assembling the analysis described by a configuration.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cs-au-dk/argus/analysis/algorithm"
	"github.com/cs-au-dk/argus/analysis/arg"
	"github.com/cs-au-dk/argus/analysis/block"
	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/analysis/cpa/callstack"
	"github.com/cs-au-dk/argus/analysis/cpa/interval"
	"github.com/cs-au-dk/argus/analysis/cpa/location"
	"github.com/cs-au-dk/argus/analysis/cpa/loopbound"
	"github.com/cs-au-dk/argus/analysis/cpa/value"
	"github.com/cs-au-dk/argus/analysis/distributed"
	"github.com/cs-au-dk/argus/analysis/refine"
	"github.com/cs-au-dk/argus/analysis/solver"
	"github.com/cs-au-dk/argus/config"
	"github.com/cs-au-dk/argus/utils/logging"
	"github.com/cs-au-dk/argus/utils/metrics"
)

type Options struct {
	// Solver decides counterexamples. Defaults to the symbolic oracle.
	Solver  solver.Solver
	Log     *slog.Logger
	Metrics *metrics.Metrics
}

type Stats struct {
	// States is the size of the final ARG. Steps counts expanded states.
	States, Steps int
	// Rounds counts refinements, or message rounds of a distributed run.
	Rounds int
	Epochs int
	// Messages and Stale count delivered and dropped block messages.
	Messages, Stale int
	Duration        time.Duration
}

type Result struct {
	RunID          uuid.UUID
	Verdict        refine.Verdict
	Counterexample *refine.Counterexample
	Diagnostic     string
	// ARG is the final reachability graph of a single-block run.
	ARG *arg.ARG
	// Partition is set for distributed runs.
	Partition *block.Partition
	Stats     Stats
}

func (r *Result) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Verdict: %s\n", r.Verdict.Pretty())
	if r.Diagnostic != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", r.Diagnostic)
	}
	if r.Counterexample != nil {
		sb.WriteString("Counterexample:\n")
		sb.WriteString(r.Counterexample.String())
	}
	s := r.Stats
	if r.Partition != nil {
		fmt.Fprintf(&sb, "Blocks: %d, rounds: %d, epochs: %d, messages: %d (%d stale)\n",
			len(r.Partition.Blocks), s.Rounds, s.Epochs, s.Messages, s.Stale)
	} else {
		fmt.Fprintf(&sb, "States: %d, steps: %d, refinements: %d\n", s.States, s.Steps, s.Rounds)
	}
	fmt.Fprintf(&sb, "Time: %s\n", s.Duration.Round(time.Millisecond))
	return sb.String()
}

// Components builds the configured component analyses for c.
func Components(c *cfa.CFA, cfg *config.Config) ([]cpa.CPA, error) {
	var comps []cpa.CPA
	for _, name := range cfg.Components {
		switch name {
		case config.Location:
			comps = append(comps, location.New(c))
		case config.Callstack:
			comps = append(comps, callstack.New(c, cfg.CallDepth))
		case config.Value:
			comps = append(comps, value.New(cfg.Scope, cfg.TrackAll))
		case config.Interval:
			comps = append(comps, interval.New(c))
		case config.LoopBound:
			comps = append(comps, loopbound.New(c, cfg.LoopBound))
		default:
			return nil, fmt.Errorf("%w: unknown component %q", config.ErrInvalid, name)
		}
	}
	return comps, nil
}

// Composite builds the composite analysis described by cfg.
func Composite(c *cfa.CFA, cfg *config.Config) (*cpa.Composite, error) {
	comps, err := Components(c, cfg)
	if err != nil {
		return nil, err
	}
	return cpa.NewComposite(comps, cfg.Merge, cfg.Stop)
}

// Verify analyses c. Errors report invalid inputs; every outcome of the
// analysis itself, including timeouts, is a verdict.
func Verify(ctx context.Context, c *cfa.CFA, cfg *config.Config, opts Options) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	comp, err := Composite(c, cfg)
	if err != nil {
		return nil, err
	}
	if opts.Solver == nil {
		opts.Solver = solver.NewSymbolic()
	}

	res := &Result{RunID: uuid.New()}
	log := logging.OrDiscard(opts.Log).With("run", res.RunID.String())
	log.Info("verifying", "functions", len(c.Functions), "locations", len(c.Nodes),
		"components", comp.Components(), "distributed", cfg.Distributed.Enabled)

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, cfg.Timeout.Std(),
			fmt.Errorf("timeout of %s exceeded", cfg.Timeout.Std()))
		defer cancel()
	}

	start := time.Now()
	defer opts.Metrics.Observe("verify", start)
	if cfg.Distributed.Enabled {
		err = distribute(ctx, c, comp, cfg, opts, log, res)
	} else {
		refineLocally(ctx, c, comp, cfg, opts, log, res)
	}
	res.Stats.Duration = time.Since(start)
	if err != nil {
		return nil, err
	}
	log.Info("done", "verdict", res.Verdict, "duration", res.Stats.Duration)
	return res, nil
}

func refineLocally(ctx context.Context, c *cfa.CFA, comp *cpa.Composite, cfg *config.Config, opts Options, log *slog.Logger, res *Result) {
	algo := algorithm.New(algorithm.Config{
		CFA:       c,
		CPA:       comp,
		Order:     cfg.Waitlist,
		MaxStates: cfg.MaxStates,
		Log:       log,
		Metrics:   opts.Metrics,
	})
	algo.SeedEntry()

	r := refine.New(algo, opts.Solver, refine.Config{
		MaxRounds:    cfg.Refinement.MaxRounds,
		RoundTimeout: cfg.Refinement.RoundTimeout.Std(),
		OnUnknown:    cfg.OnUnknown,
		Log:          log,
		Metrics:      opts.Metrics,
	})
	out := r.Run(ctx)

	res.Verdict, res.Counterexample, res.Diagnostic = out.Verdict, out.Counterexample, out.Diagnostic
	res.ARG = algo.ARG
	res.Stats.States = algo.ARG.Size()
	res.Stats.Steps = algo.Steps()
	res.Stats.Rounds = out.Rounds
}

func distribute(ctx context.Context, c *cfa.CFA, comp *cpa.Composite, cfg *config.Config, opts Options, log *slog.Logger, res *Result) error {
	p, err := block.Decompose(c, cfg.Distributed.Decomposition)
	if err != nil {
		return err
	}
	log.Debug("decomposed", "blocks", len(p.Blocks), "strategy", p.Strategy)

	d, err := distributed.New(distributed.Config{
		CFA:          c,
		CPA:          comp,
		Partition:    p,
		Solver:       opts.Solver,
		Order:        cfg.Waitlist,
		MaxStates:    cfg.MaxStates,
		MaxRounds:    cfg.Distributed.MaxRounds,
		MaxEpochs:    cfg.Distributed.MaxEpochs,
		RoundTimeout: cfg.Refinement.RoundTimeout.Std(),
		OnUnknown:    cfg.OnUnknown,
		Log:          log,
		Metrics:      opts.Metrics,
	})
	if err != nil {
		return err
	}
	out, err := d.Run(ctx)
	if err != nil {
		return err
	}

	res.Verdict, res.Counterexample, res.Diagnostic = out.Verdict, out.Counterexample, out.Diagnostic
	res.Partition = p
	res.Stats.Rounds = out.Rounds
	res.Stats.Epochs = out.Epochs
	res.Stats.Messages = out.Messages
	res.Stats.Stale = out.Stale
	for _, w := range d.Workers() {
		res.Stats.States += w.ARG().Size()
	}
	return nil
}
