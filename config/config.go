// Package config holds the options of a verification run. Options are read
// from a YAML file and may be overridden on the command line.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cs-au-dk/argus/analysis/block"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/analysis/cpa/value"
	"github.com/cs-au-dk/argus/analysis/reached"
	"github.com/cs-au-dk/argus/analysis/refine"
	"github.com/cs-au-dk/argus/utils/logging"
)

var ErrInvalid = errors.New("invalid configuration")

// Component names accepted in Components.
const (
	Location  = "location"
	Callstack = "callstack"
	Value     = "value"
	Interval  = "interval"
	LoopBound = "loopbound"
)

var ComponentNames = []string{Location, Callstack, Value, Interval, LoopBound}

// Duration is a time.Duration written as a Go duration string, e.g. "30s".
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Refinement struct {
	// MaxRounds bounds the refinement rounds. Zero means unbounded.
	MaxRounds    int      `yaml:"max_rounds"`
	RoundTimeout Duration `yaml:"round_timeout"`
}

type Distributed struct {
	Enabled       bool           `yaml:"enabled"`
	Decomposition block.Strategy `yaml:"decomposition"`
	MaxEpochs     int            `yaml:"max_epochs"`
	MaxRounds     int            `yaml:"max_rounds"`
}

type Log struct {
	Level  string         `yaml:"level"`
	Format logging.Format `yaml:"format"`
}

type Config struct {
	// Components lists the component analyses. The first one must be
	// location.
	Components  []string         `yaml:"components"`
	Waitlist    reached.Order    `yaml:"waitlist"`
	Merge       cpa.MergePolicy  `yaml:"merge"`
	Stop        cpa.StopPolicy   `yaml:"stop"`
	Scope       value.Scope      `yaml:"precision_scope"`
	TrackAll    bool             `yaml:"track_all"`
	OnUnknown   refine.OnUnknown `yaml:"on_solver_unknown"`
	Refinement  Refinement       `yaml:"refinement"`
	Distributed Distributed      `yaml:"distributed"`

	// LoopBound is the bound of the loopbound component.
	LoopBound int `yaml:"loop_bound"`
	// CallDepth bounds the call stack. Zero means unbounded.
	CallDepth int `yaml:"call_depth"`
	// MaxStates bounds the ARG. Zero means unbounded.
	MaxStates int      `yaml:"max_states"`
	Timeout   Duration `yaml:"timeout"`

	Log     Log  `yaml:"log"`
	NoColor bool `yaml:"no_color"`
	// Metrics is the file the run statistics are written to. Empty
	// disables metrics.
	Metrics string `yaml:"metrics"`
}

func DefaultConfig() *Config {
	return &Config{
		Components: []string{Location, Callstack, Value},
		Waitlist:   reached.BFS,
		Merge:      cpa.MergePolicySep,
		Stop:       cpa.StopPolicyAll,
		Scope:      value.ScopeGlobal,
		OnUnknown:  refine.OnUnknownUnknown,
		Refinement: Refinement{
			MaxRounds: 50,
		},
		Distributed: Distributed{
			Decomposition: block.LoopHeads,
			MaxEpochs:     20,
			MaxRounds:     1000,
		},
		LoopBound: 10,
		Timeout:   Duration(5 * time.Minute),
		Log: Log{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// Parse decodes data over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	data, err := c.YAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Has reports whether the named component is configured.
func (c *Config) Has(name string) bool {
	for _, n := range c.Components {
		if n == name {
			return true
		}
	}
	return false
}

// Validate reports every invalid option.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	check := func(err error) {
		if err != nil {
			fail("%v", err)
		}
	}

	if len(c.Components) == 0 {
		fail("no components")
	} else if c.Components[0] != Location {
		fail("the first component must be %s, got %s", Location, c.Components[0])
	}
	seen := map[string]bool{}
	for _, name := range c.Components {
		known := false
		for _, n := range ComponentNames {
			known = known || n == name
		}
		switch {
		case !known:
			fail("unknown component %q", name)
		case seen[name]:
			fail("component %s listed twice", name)
		}
		seen[name] = true
	}

	_, err := reached.ParseOrder(string(c.Waitlist))
	check(err)
	if c.Merge != cpa.MergePolicySep && c.Merge != cpa.MergePolicyAgree {
		fail("unknown merge policy %q", c.Merge)
	}
	if c.Stop != cpa.StopPolicyAll && c.Stop != cpa.StopPolicyAny {
		fail("unknown stop policy %q", c.Stop)
	}
	if c.Scope != value.ScopeGlobal && c.Scope != value.ScopeLocation {
		fail("unknown precision scope %q", c.Scope)
	}
	_, err = refine.ParseOnUnknown(string(c.OnUnknown))
	check(err)
	_, err = block.ParseStrategy(string(c.Distributed.Decomposition))
	check(err)
	_, err = logging.ParseLevel(c.Log.Level)
	check(err)
	if c.Log.Format != logging.FormatText && c.Log.Format != logging.FormatJSON {
		fail("unknown log format %q", c.Log.Format)
	}

	for _, bound := range []struct {
		name string
		v    int
	}{
		{"refinement.max_rounds", c.Refinement.MaxRounds},
		{"distributed.max_epochs", c.Distributed.MaxEpochs},
		{"distributed.max_rounds", c.Distributed.MaxRounds},
		{"call_depth", c.CallDepth},
		{"max_states", c.MaxStates},
	} {
		if bound.v < 0 {
			fail("%s must not be negative, got %d", bound.name, bound.v)
		}
	}
	if c.Timeout < 0 || c.Refinement.RoundTimeout < 0 {
		fail("timeouts must not be negative")
	}
	if c.Has(LoopBound) && c.LoopBound <= 0 {
		fail("the %s component needs a positive loop_bound", LoopBound)
	}
	return errors.Join(errs...)
}
