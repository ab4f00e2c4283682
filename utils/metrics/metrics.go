// Package metrics collects run statistics of the analysis as prometheus
// collectors. A nil *Metrics is a valid, disabled collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	registry *prometheus.Registry

	states      prometheus.Counter
	covered     prometheus.Counter
	merged      prometheus.Counter
	breaks      prometheus.Counter
	refinements *prometheus.CounterVec
	messages    *prometheus.CounterVec
	stale       prometheus.Counter
	duration    *prometheus.HistogramVec
}

// New creates an enabled collector with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		states: factory.NewCounter(prometheus.CounterOpts{
			Name: "argus_states_explored_total",
			Help: "Abstract states added to the reached set.",
		}),
		covered: factory.NewCounter(prometheus.CounterOpts{
			Name: "argus_states_covered_total",
			Help: "Successor states discarded by the stop operator.",
		}),
		merged: factory.NewCounter(prometheus.CounterOpts{
			Name: "argus_states_merged_total",
			Help: "Reached states replaced by the merge operator.",
		}),
		breaks: factory.NewCounter(prometheus.CounterOpts{
			Name: "argus_precision_breaks_total",
			Help: "States discarded by precision adjustment.",
		}),
		refinements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_refinements_total",
			Help: "Refinement rounds by outcome.",
		}, []string{"outcome"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_block_messages_total",
			Help: "Messages exchanged between blocks by kind.",
		}, []string{"kind"}),
		stale: factory.NewCounter(prometheus.CounterOpts{
			Name: "argus_block_messages_stale_total",
			Help: "Messages dropped because their epoch was outdated.",
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "argus_run_duration_seconds",
			Help:    "Duration of analysis phases.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase"}),
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil
}

func (m *Metrics) StateExplored() {
	if m.Enabled() {
		m.states.Inc()
	}
}

func (m *Metrics) StateCovered() {
	if m.Enabled() {
		m.covered.Inc()
	}
}

func (m *Metrics) StateMerged() {
	if m.Enabled() {
		m.merged.Inc()
	}
}

func (m *Metrics) PrecisionBreak() {
	if m.Enabled() {
		m.breaks.Inc()
	}
}

// Refinement records a refinement round ending with outcome.
func (m *Metrics) Refinement(outcome string) {
	if m.Enabled() {
		m.refinements.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) MessageSent(kind string) {
	if m.Enabled() {
		m.messages.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) MessageStale() {
	if m.Enabled() {
		m.stale.Inc()
	}
}

// Observe records the duration of a phase started at `start`.
func (m *Metrics) Observe(phase string, start time.Time) {
	if m.Enabled() {
		m.duration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
}

// Registry exposes the underlying registry, e.g. for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if !m.Enabled() {
		return nil
	}
	return m.registry
}

// WriteFile stores the collected metrics in the text exposition format.
func (m *Metrics) WriteFile(path string) error {
	if !m.Enabled() {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
