package distributed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/cs-au-dk/argus/analysis/algorithm"
	"github.com/cs-au-dk/argus/analysis/block"
	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/analysis/cpa/value"
	"github.com/cs-au-dk/argus/analysis/reached"
	"github.com/cs-au-dk/argus/analysis/refine"
	"github.com/cs-au-dk/argus/analysis/solver"
	"github.com/cs-au-dk/argus/utils/logging"
	"github.com/cs-au-dk/argus/utils/metrics"
)

type Config struct {
	CFA       *cfa.CFA
	CPA       *cpa.Composite
	Partition *block.Partition
	Solver    solver.Solver
	Order     reached.Order
	// MaxStates bounds the ARG of every block.
	MaxStates int
	// MaxRounds bounds the message rounds. Zero means unbounded.
	MaxRounds int
	// MaxEpochs bounds the refinements. Zero means unbounded.
	MaxEpochs    int
	RoundTimeout time.Duration
	OnUnknown    refine.OnUnknown

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

type Result struct {
	Verdict        refine.Verdict
	Counterexample *refine.Counterexample
	Diagnostic     string
	// Rounds counts message rounds and Epochs the refinements.
	Rounds, Epochs int
	// Messages counts the delivered messages, Stale the ones dropped for
	// belonging to an earlier epoch.
	Messages, Stale int
}

// Driver runs one worker per block in synchronous rounds. In every round
// the pending messages are delivered and the receiving workers run
// concurrently. The analysis ends when a round delivers nothing.
type Driver struct {
	cfg     Config
	log     *slog.Logger
	net     *Network
	workers []*Worker
	// Blocks in topological order of the block graph.
	order []*block.Block

	valueIdx int
	prec     cpa.CompositePrecision
	epoch    int
	rounds   int
}

func New(cfg Config) (*Driver, error) {
	switch {
	case cfg.CFA == nil || cfg.CPA == nil || cfg.Solver == nil:
		return nil, errors.New("distributed analysis needs a CFA, a CPA and a solver")
	case cfg.Partition == nil:
		return nil, fmt.Errorf("%w: no partition", block.ErrPartition)
	case cfg.Partition.CFA != cfg.CFA:
		return nil, fmt.Errorf("%w: partition of another CFA", block.ErrPartition)
	}
	if cfg.OnUnknown == "" {
		cfg.OnUnknown = refine.OnUnknownUnknown
	}

	d := &Driver{
		cfg:      cfg,
		log:      logging.OrDiscard(cfg.Log),
		net:      NewNetwork(cfg.Metrics),
		valueIdx: cfg.CPA.Index(value.Name),
		prec:     cfg.CPA.InitialPrecision(cfg.CFA.Entry),
		order:    cfg.Partition.Order(),
	}
	algoCfg := algorithm.Config{
		CFA:       cfg.CFA,
		CPA:       cfg.CPA,
		Order:     cfg.Order,
		MaxStates: cfg.MaxStates,
		Log:       d.log,
		Metrics:   cfg.Metrics,
	}
	for _, b := range cfg.Partition.Blocks {
		d.workers = append(d.workers, newWorker(b, cfg.Partition, algoCfg, d.prec))
	}
	return d, nil
}

func (d *Driver) Workers() []*Worker { return d.workers }

func (d *Driver) Network() *Network { return d.net }

func (d *Driver) result(r Result) Result {
	r.Rounds, r.Epochs = d.rounds, d.epoch
	r.Messages = d.net.Delivered()
	for _, w := range d.workers {
		r.Stale += w.stale
	}
	return r
}

func (d *Driver) unknown(format string, args ...any) Result {
	diag := fmt.Sprintf(format, args...)
	if d.valueIdx >= 0 {
		diag += "; last precision " + d.prec.Component(d.valueIdx).String()
	}
	return d.result(Result{Verdict: refine.Unknown, Diagnostic: diag})
}

// seed sends the initial state to the block holding the program entry.
func (d *Driver) seed() error {
	entry := d.cfg.CFA.Entry
	data, err := d.cfg.CPA.Encode(d.cfg.CPA.Initial(entry))
	if err != nil {
		return err
	}
	d.net.Send(Message{
		Kind:    KindState,
		From:    Environment,
		To:      d.cfg.Partition.Root().ID,
		Entry:   entry.ID,
		Payload: data,
		Epoch:   d.epoch,
		Chains:  [][]int{{}},
	})
	return nil
}

// Run exchanges messages until quiescence or a verdict. Errors report
// malformed messages and codec failures, not verification outcomes.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	if err := d.seed(); err != nil {
		return Result{}, err
	}
	return d.exchange(ctx)
}

// exchange runs rounds over the pending messages.
func (d *Driver) exchange(ctx context.Context) (Result, error) {
	for {
		if ctx.Err() != nil {
			return d.unknown("interrupted: %v", context.Cause(ctx)), nil
		}
		inbox := d.net.Drain()
		if len(inbox) == 0 {
			return d.quiescent(), nil
		}
		if d.cfg.MaxRounds > 0 && d.rounds >= d.cfg.MaxRounds {
			return d.unknown("message round bound of %d reached", d.cfg.MaxRounds), nil
		}
		d.rounds++

		res, done, err := d.round(ctx, inbox)
		if err != nil || done {
			return res, err
		}
	}
}

func (d *Driver) quiescent() Result {
	var incomplete []string
	for _, w := range d.workers {
		if w.Incomplete() {
			incomplete = append(incomplete, "B"+strconv.Itoa(w.block.ID))
		}
	}
	if len(incomplete) > 0 {
		return d.unknown("exploration incomplete in blocks %s", strings.Join(incomplete, ", "))
	}
	d.log.Info("quiescent", "rounds", d.rounds, "epochs", d.epoch, "messages", d.net.Delivered())
	return d.result(Result{Verdict: refine.Holds})
}

func (d *Driver) round(ctx context.Context, inbox map[int][]Message) (Result, bool, error) {
	rctx, cancel := ctx, context.CancelFunc(func() {})
	if d.cfg.RoundTimeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, d.cfg.RoundTimeout)
	}
	defer cancel()

	for to, msgs := range inbox {
		if to < 0 || to >= len(d.workers) {
			return Result{}, true, fmt.Errorf("%w: no block %d", ErrMessage, to)
		}
		for _, m := range msgs {
			if !d.connected(m.From, to) {
				return Result{}, true, fmt.Errorf("%w: %s: B%d has no exit into B%d", ErrMessage, m, m.From, to)
			}
		}
	}

	outcomes := make([]outcome, len(d.workers))
	g, gctx := errgroup.WithContext(rctx)
	for _, b := range d.order {
		msgs, ok := inbox[b.ID]
		if !ok {
			continue
		}
		w := d.workers[b.ID]
		g.Go(func() (err error) {
			outcomes[w.block.ID], err = w.handle(gctx, msgs)
			return
		})
	}
	if err := g.Wait(); err != nil {
		switch {
		case ctx.Err() != nil:
			return d.unknown("interrupted: %v", context.Cause(ctx)), true, nil
		case rctx.Err() != nil:
			return d.unknown("round timed out after %s", d.cfg.RoundTimeout), true, nil
		}
		return Result{}, true, err
	}

	for _, b := range d.order {
		for _, m := range outcomes[b.ID].out {
			d.net.Send(m)
		}
	}
	d.log.Debug("round", "round", d.rounds, "receivers", len(inbox), "pending", d.net.Pending())

	// Upstream violations first.
	for _, b := range d.order {
		if v := outcomes[b.ID].violation; v != nil {
			return d.check(ctx, rctx, v)
		}
	}
	return Result{}, false, nil
}

// connected checks whether from may send states into block to.
func (d *Driver) connected(from, to int) bool {
	if from == Environment {
		return true
	}
	for _, p := range d.cfg.Partition.Predecessors(d.cfg.Partition.Blocks[to]) {
		if p.ID == from {
			return true
		}
	}
	return false
}

// check decides a violation reported by a block. It is confirmed if any
// of its paths is feasible. If all of them are spurious, the precision of
// every block is refined and a new epoch opens.
func (d *Driver) check(ctx, rctx context.Context, v *violation) (Result, bool, error) {
	var (
		spurious  [][]*cfa.Edge
		undecided *refine.Counterexample
		solverErr error
	)
	for _, path := range v.paths {
		cx := &refine.Counterexample{Edges: path}
		res, model, err := d.cfg.Solver.CheckFeasibility(rctx, solver.PathCondition{Edges: path})
		switch {
		case err != nil || res == solver.Unknown:
			if undecided == nil {
				undecided, solverErr = cx, err
			}
			if rctx.Err() != nil {
				return d.undecided(ctx, rctx, cx, err), true, nil
			}
		case res == solver.Sat:
			d.cfg.Metrics.Refinement("feasible")
			cx.Model = model
			d.log.Info("violation confirmed", "block", v.block, "length", len(path), "paths", len(v.paths))
			return d.result(Result{Verdict: refine.Violated, Counterexample: cx}), true, nil
		default:
			spurious = append(spurious, path)
		}
	}
	if undecided != nil {
		return d.undecided(ctx, rctx, undecided, solverErr), true, nil
	}

	if d.valueIdx < 0 {
		return d.unknown("spurious counterexample, but no component can be refined"), true, nil
	}
	if d.cfg.MaxEpochs > 0 && d.epoch >= d.cfg.MaxEpochs {
		return d.unknown("refinement bound of %d epochs reached", d.cfg.MaxEpochs), true, nil
	}

	inc := value.Increment{}
	for _, path := range spurious {
		part, err := refine.Increment(rctx, d.cfg.Solver, path)
		if err != nil {
			return d.unrefinable(ctx, rctx, err), true, nil
		}
		for id, vars := range part {
			inc[id] = append(inc[id], vars...)
		}
	}
	old := d.prec.Component(d.valueIdx).(value.Precision)
	refined := old.Refine(inc)
	if refined.Equal(old) {
		return d.unknown("no progress: the interpolants add no tracked variable"), true, nil
	}
	payload, err := msgpack.Marshal(inc)
	if err != nil {
		return Result{}, true, err
	}

	d.prec = d.prec.With(d.valueIdx, refined)
	d.epoch++
	for _, w := range d.workers {
		d.net.Send(Message{
			Kind:    KindRefine,
			From:    Environment,
			To:      w.block.ID,
			Payload: payload,
			Epoch:   d.epoch,
		})
	}
	if err := d.seed(); err != nil {
		return Result{}, true, err
	}
	d.cfg.Metrics.Refinement("spurious")
	d.log.Info("refined precision", "epoch", d.epoch, "block", v.block, "paths", len(spurious), "precision", refined)
	return Result{}, false, nil
}

// unrefinable reports spurious paths without interpolants. They are
// infeasible, so they are never reported as a violation.
func (d *Driver) unrefinable(ctx, rctx context.Context, err error) Result {
	d.cfg.Metrics.Refinement("unknown")
	switch {
	case ctx.Err() != nil:
		return d.unknown("interrupted: %v", context.Cause(ctx))
	case errors.Is(err, context.DeadlineExceeded) || rctx.Err() != nil:
		return d.unknown("round timed out after %s", d.cfg.RoundTimeout)
	}
	d.log.Warn("no interpolants for spurious counterexample", "error", err)
	return d.unknown("spurious counterexample could not be refined: %v", err)
}

func (d *Driver) undecided(ctx, rctx context.Context, cx *refine.Counterexample, err error) Result {
	d.cfg.Metrics.Refinement("unknown")
	switch {
	case ctx.Err() != nil:
		return d.unknown("interrupted: %v", context.Cause(ctx))
	case errors.Is(err, context.DeadlineExceeded) || rctx.Err() != nil:
		return d.unknown("round timed out after %s", d.cfg.RoundTimeout)
	}

	d.log.Warn("solver could not decide counterexample", "error", err, "policy", d.cfg.OnUnknown)
	if d.cfg.OnUnknown == refine.OnUnknownViolated {
		cx.Pending = true
		return d.result(Result{
			Verdict:        refine.Violated,
			Counterexample: cx,
			Diagnostic:     "counterexample pending manual check: the solver could not decide it",
		})
	}
	if err != nil {
		return d.unknown("solver could not decide a counterexample: %v", err)
	}
	return d.unknown("solver could not decide a counterexample")
}
