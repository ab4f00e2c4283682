package distributed

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/exp/slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cs-au-dk/argus/analysis/algorithm"
	"github.com/cs-au-dk/argus/analysis/arg"
	"github.com/cs-au-dk/argus/analysis/block"
	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/analysis/cpa/value"
	"github.com/cs-au-dk/argus/utils/logging"
	"github.com/cs-au-dk/argus/utils/metrics"
)

// Proceed decides whether a state arriving at an entry must be explored.
// It must not be if some accepted entry state already covers it.
func Proceed(comp *cpa.Composite, assumptions []*cpa.State, s *cpa.State) bool {
	for _, a := range assumptions {
		if comp.Leq(s, a) {
			return false
		}
	}
	return true
}

// Worker analyses one block. A worker is only ever used by one goroutine
// at a time.
type Worker struct {
	block     *block.Block
	partition *block.Partition
	cfg       algorithm.Config
	log       *slog.Logger
	metrics   *metrics.Metrics

	algo *algorithm.Context
	prec cpa.CompositePrecision

	epoch int
	// Accepted entry states by entry node ID.
	assumptions map[int][]*cpa.State
	// Edge chains from the program entry to every entry node, by ID.
	chains map[int][][]int
	// Exit states already sent.
	emitted    map[arg.ID]bool
	incomplete bool

	proceeded, ignored, stale int
}

func newWorker(b *block.Block, p *block.Partition, cfg algorithm.Config, prec cpa.CompositePrecision) *Worker {
	cfg.InBlock = b.Contains
	cfg.Log = logging.OrDiscard(cfg.Log).With("block", b.ID)
	w := &Worker{
		block:     b,
		partition: p,
		cfg:       cfg,
		log:       cfg.Log,
		metrics:   cfg.Metrics,
		prec:      prec,
	}
	w.reset()
	return w
}

func (w *Worker) reset() {
	w.algo = algorithm.New(w.cfg)
	w.assumptions = map[int][]*cpa.State{}
	w.chains = map[int][][]int{}
	w.emitted = map[arg.ID]bool{}
	w.incomplete = false
}

func (w *Worker) Block() *block.Block { return w.block }

func (w *Worker) Epoch() int { return w.epoch }

// ARG returns the abstract reachability graph of the current epoch.
func (w *Worker) ARG() *arg.ARG { return w.algo.ARG }

// Assumptions returns the accepted entry states at node.
func (w *Worker) Assumptions(node *cfa.Node) []*cpa.State { return w.assumptions[node.ID] }

// Incomplete reports whether some state of the block exceeded a bound.
func (w *Worker) Incomplete() bool { return w.incomplete }

// maxChains bounds the chains kept per entry node and sent per message.
const maxChains = 16

// violation is a target reached by a block, with the candidate paths from
// the program entry. A merged entry state stands for every chain that led
// to it.
type violation struct {
	block int
	paths [][]*cfa.Edge
}

type outcome struct {
	out       []Message
	violation *violation
}

// refine applies a precision increment and restarts the block in epoch.
func (w *Worker) refine(m Message) error {
	var inc value.Increment
	if err := msgpack.Unmarshal(m.Payload, &inc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMessage, m, err)
	}
	idx := w.cfg.CPA.Index(value.Name)
	if idx < 0 {
		return fmt.Errorf("%w: %s: no refinable component", ErrMessage, m)
	}
	w.prec = w.prec.With(idx, w.prec.Component(idx).(value.Precision).Refine(inc))
	w.epoch = m.Epoch
	w.reset()
	w.log.Debug("restarted", "epoch", w.epoch, "precision", w.prec)
	return nil
}

// accept seeds the block with the state of m unless an accepted entry
// state covers it. A state that merges with an accepted one replaces it,
// and the merge result is explored instead.
func (w *Worker) accept(m Message) error {
	s, err := w.cfg.CPA.Decode(m.Payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMessage, m, err)
	}
	if s.Location().ID != m.Entry || !w.block.IsEntry(s.Location()) {
		return fmt.Errorf("%w: %s: state at %s does not enter the block", ErrMessage, m, s.Location())
	}
	if len(m.Chains) == 0 {
		return fmt.Errorf("%w: %s: no path from the program entry", ErrMessage, m)
	}

	entry := s.Location().ID
	w.addChains(entry, m.Chains)
	accepted := w.assumptions[entry]
	if !Proceed(w.cfg.CPA, accepted, s) {
		w.ignored++
		w.log.Debug("ignored", "message", m)
		return nil
	}

	seed := s
	for i, a := range accepted {
		if merged := w.cfg.CPA.Merge(s, a, w.prec); merged != a {
			seed = merged
			accepted = append(accepted[:i:i], accepted[i+1:]...)
			break
		}
	}
	kept := accepted[:0:0]
	for _, a := range accepted {
		if !w.cfg.CPA.Leq(a, seed) {
			kept = append(kept, a)
		}
	}
	w.assumptions[entry] = append(kept, seed)

	root := w.algo.Seed(seed, w.prec)
	w.proceeded++
	w.log.Debug("proceeding", "message", m, "root", root, "merged", seed != s)
	return nil
}

// addChains records chains leading to entry, dropping duplicates and
// those beyond maxChains.
func (w *Worker) addChains(entry int, chains [][]int) {
	known := w.chains[entry]
	for _, c := range chains {
		if len(known) >= maxChains {
			break
		}
		if !slices.ContainsFunc(known, func(k []int) bool { return slices.Equal(k, c) }) {
			known = append(known, c)
		}
	}
	w.chains[entry] = known
}

// handle processes the messages of one round and explores the block.
func (w *Worker) handle(ctx context.Context, msgs []Message) (outcome, error) {
	for _, m := range msgs {
		if m.Kind == KindRefine && m.Epoch > w.epoch {
			if err := w.refine(m); err != nil {
				return outcome{}, err
			}
		}
	}
	for _, m := range msgs {
		if m.Kind != KindState {
			continue
		}
		if m.Epoch < w.epoch {
			w.stale++
			w.metrics.MessageStale()
			w.log.Info("dropped stale message", "message", m, "epoch", w.epoch)
			continue
		}
		if err := w.accept(m); err != nil {
			return outcome{}, err
		}
	}

	switch w.algo.Run(ctx) {
	case algorithm.TargetFound:
		v, err := w.violation()
		return outcome{violation: v}, err
	case algorithm.Interrupted:
		if err := ctx.Err(); err != nil {
			return outcome{}, err
		}
		w.incomplete = true
	case algorithm.Exhausted:
		w.incomplete = w.incomplete || w.algo.Reached.Incomplete()
	}
	out, err := w.exits()
	return outcome{out: out}, err
}

// extend prefixes the local path of an ARG state with the chains of the
// entry node its path starts at.
func (w *Worker) extend(states []arg.ID, edges []*cfa.Edge) ([][]int, error) {
	entry := w.algo.ARG.Get(states[0]).Location()
	prefixes := w.chains[entry.ID]
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("%w: no chain reaches entry %s of block %d", ErrChain, entry, w.block.ID)
	}
	res := make([][]int, len(prefixes))
	for i, prefix := range prefixes {
		res[i] = make([]int, 0, len(prefix)+len(edges))
		res[i] = append(res[i], prefix...)
		for _, e := range edges {
			res[i] = append(res[i], e.ID)
		}
	}
	return res, nil
}

func (w *Worker) violation() (*violation, error) {
	t := w.algo.Targets()[0]
	chains, err := w.extend(w.algo.ARG.PathTo(t))
	if err != nil {
		return nil, err
	}

	v := &violation{block: w.block.ID}
	for _, ids := range chains {
		path := make([]*cfa.Edge, len(ids))
		for i, id := range ids {
			path[i] = w.partition.CFA.Edge(id)
		}
		v.paths = append(v.paths, path)
	}
	return v, nil
}

// exits builds a message for every exit state not sent yet.
func (w *Worker) exits() (out []Message, err error) {
	for _, id := range w.algo.Exits() {
		if w.emitted[id] {
			continue
		}
		w.emitted[id] = true

		st := w.algo.ARG.Get(id)
		data, err := w.cfg.CPA.Encode(st.State)
		if err != nil {
			return nil, err
		}
		chains, err := w.extend(w.algo.ARG.PathTo(id))
		if err != nil {
			return nil, err
		}
		entry := st.Location()
		out = append(out, Message{
			Kind:    KindState,
			From:    w.block.ID,
			To:      w.partition.Of(entry).ID,
			Entry:   entry.ID,
			Payload: data,
			Epoch:   w.epoch,
			Chains:  chains,
		})
	}
	return out, nil
}
