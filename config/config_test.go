package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs-au-dk/argus/analysis/block"
	"github.com/cs-au-dk/argus/analysis/cpa/value"
	"github.com/cs-au-dk/argus/analysis/reached"
)

func TestDefaultConfigValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
components: [location, value, interval]
waitlist: dfs
precision_scope: location
timeout: 90s
refinement:
  max_rounds: 3
  round_timeout: 500ms
distributed:
  enabled: true
  decomposition: functions
`))
	require.NoError(t, err)

	assert.Equal(t, []string{Location, Value, Interval}, cfg.Components)
	assert.Equal(t, reached.DFS, cfg.Waitlist)
	assert.Equal(t, value.ScopeLocation, cfg.Scope)
	assert.Equal(t, 90*time.Second, cfg.Timeout.Std())
	assert.Equal(t, 3, cfg.Refinement.MaxRounds)
	assert.Equal(t, 500*time.Millisecond, cfg.Refinement.RoundTimeout.Std())
	assert.True(t, cfg.Distributed.Enabled)
	assert.Equal(t, block.Functions, cfg.Distributed.Decomposition)

	// Untouched options keep their defaults.
	assert.Equal(t, DefaultConfig().Distributed.MaxEpochs, cfg.Distributed.MaxEpochs)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name, doc string
	}{
		{"unknown key", "components: [location]\nfoo: 1\n"},
		{"bad duration", "timeout: soon\n"},
		{"location not first", "components: [value, location]\n"},
		{"unknown component", "components: [location, octagon]\n"},
		{"duplicate component", "components: [location, value, value]\n"},
		{"waitlist", "waitlist: random\n"},
		{"merge", "merge: join\n"},
		{"stop", "stop: some\n"},
		{"scope", "precision_scope: function\n"},
		{"solver policy", "on_solver_unknown: ignore\n"},
		{"decomposition", "distributed:\n  decomposition: everywhere\n"},
		{"negative bound", "max_states: -1\n"},
		{"loop bound", "components: [location, loopbound]\nloop_bound: 0\n"},
		{"log level", "log:\n  level: loud\n"},
	}

	for _, test := range tests {
		_, err := Parse([]byte(test.doc))
		if err == nil {
			t.Errorf("%s: parsed %q, expected an error\n", test.name, test.doc)
			continue
		}
		assert.ErrorIs(t, err, ErrInvalid, test.name)
	}
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Waitlist = "random"
	cfg.Merge = "join"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "random")
	assert.Contains(t, err.Error(), "join")
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "argus.yaml")
	cfg := DefaultConfig()
	cfg.Components = []string{Location, LoopBound}
	cfg.LoopBound = 4
	cfg.Refinement.RoundTimeout = Duration(2 * time.Second)
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
