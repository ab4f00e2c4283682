package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreDisabled(t *testing.T) {
	var m *Metrics
	assert.False(t, m.Enabled())

	// None of these may panic.
	m.StateExplored()
	m.StateCovered()
	m.Refinement("spurious")
	m.MessageSent("state")
	m.Observe("run", time.Now())
	assert.NoError(t, m.WriteFile(filepath.Join(t.TempDir(), "unused.prom")))
}

func TestCounters(t *testing.T) {
	m := New()
	m.StateExplored()
	m.StateExplored()
	m.MessageSent("state")
	m.MessageSent("refine")
	m.MessageSent("state")

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			key := fam.GetName()
			for _, lbl := range metric.GetLabel() {
				key += "/" + lbl.GetValue()
			}
			values[key] = metric.GetCounter().GetValue()
		}
	}

	assert.Equal(t, 2.0, values["argus_states_explored_total"])
	assert.Equal(t, 2.0, values["argus_block_messages_total/state"])
	assert.Equal(t, 1.0, values["argus_block_messages_total/refine"])
}

func TestWriteFile(t *testing.T) {
	m := New()
	m.StateCovered()

	path := filepath.Join(t.TempDir(), "argus.prom")
	require.NoError(t, m.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "argus_states_covered_total 1")
}
