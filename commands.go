package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cs-au-dk/argus/analysis/block"
	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/analysis/cpa"
	"github.com/cs-au-dk/argus/analysis/cpa/value"
	"github.com/cs-au-dk/argus/analysis/reached"
	"github.com/cs-au-dk/argus/analysis/refine"
	"github.com/cs-au-dk/argus/analysis/verify"
	"github.com/cs-au-dk/argus/config"
	"github.com/cs-au-dk/argus/utils"
	"github.com/cs-au-dk/argus/utils/dot"
	"github.com/cs-au-dk/argus/utils/logging"
	"github.com/cs-au-dk/argus/utils/metrics"
)

// analysisFlags registers the flags overriding configuration options.
func analysisFlags(fs *pflag.FlagSet) {
	fs.StringSlice("components", nil, "Component analyses, location first")
	fs.String("waitlist", "", "Waitlist order (dfs, bfs, topological)")
	fs.String("merge", "", "Composite merge policy (sep, agree)")
	fs.String("stop", "", "Composite stop policy (all, any)")
	fs.String("scope", "", "Precision scope of refinements (global, location)")
	fs.Bool("track-all", false, "Track every variable from the start")
	fs.String("on-solver-unknown", "", "Verdict for undecided counterexamples (unknown, violated-pending)")
	fs.Int("max-rounds", 0, "Maximal number of refinement rounds")
	fs.Duration("round-timeout", 0, "Timeout of one refinement round")
	fs.Duration("timeout", 0, "Timeout of the whole analysis")
	fs.Int("max-states", 0, "Maximal number of abstract states")
	fs.Int("loop-bound", 0, "Unrolling bound of the loopbound component")
	fs.Bool("distributed", false, "Analyse blocks separately and exchange messages")
	fs.String("decomposition", "", "Block decomposition (single, loop-heads, merge-points, functions)")
	fs.Int("max-epochs", 0, "Maximal number of refinements of a distributed analysis")
	fs.String("metrics", "", "Write run statistics to this file")
}

// loadConfig reads the configuration file, if any, and applies the flags
// set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	fs := cmd.Flags()
	str := func(name string, set func(string)) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			set(v)
		}
	}
	num := func(name string, set func(int)) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			set(v)
		}
	}
	dur := func(name string, set func(time.Duration)) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			set(v)
		}
	}
	flag := func(name string, set func(bool)) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			set(v)
		}
	}

	str("log-level", func(s string) { cfg.Log.Level = s })
	str("log-format", func(s string) { cfg.Log.Format = logging.Format(s) })
	flag("no-color", func(b bool) { cfg.NoColor = b })
	if fs.Changed("components") {
		cfg.Components, _ = fs.GetStringSlice("components")
	}
	str("waitlist", func(s string) { cfg.Waitlist = reached.Order(s) })
	str("merge", func(s string) { cfg.Merge = cpa.MergePolicy(s) })
	str("stop", func(s string) { cfg.Stop = cpa.StopPolicy(s) })
	str("scope", func(s string) { cfg.Scope = value.Scope(s) })
	flag("track-all", func(b bool) { cfg.TrackAll = b })
	str("on-solver-unknown", func(s string) { cfg.OnUnknown = refine.OnUnknown(s) })
	num("max-rounds", func(n int) { cfg.Refinement.MaxRounds = n })
	dur("round-timeout", func(d time.Duration) { cfg.Refinement.RoundTimeout = config.Duration(d) })
	dur("timeout", func(d time.Duration) { cfg.Timeout = config.Duration(d) })
	num("max-states", func(n int) { cfg.MaxStates = n })
	num("loop-bound", func(n int) { cfg.LoopBound = n })
	flag("distributed", func(b bool) { cfg.Distributed.Enabled = b })
	str("decomposition", func(s string) { cfg.Distributed.Decomposition = block.Strategy(s) })
	num("max-epochs", func(n int) { cfg.Distributed.MaxEpochs = n })
	str("metrics", func(s string) { cfg.Metrics = s })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.NoColor {
		utils.SetColorize(false)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

func loadCFA(path string) (*cfa.CFA, error) {
	c, err := cfa.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// writeGraph writes g to stdout, or renders it to out in format.
func writeGraph(cmd *cobra.Command, g *dot.DotGraph, out, format string) error {
	if out == "" {
		return g.WriteDot(cmd.OutOrStdout())
	}
	path, err := g.Render(strings.TrimSuffix(out, "."+format), format)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "wrote", path)
	return nil
}

func runVerify(cmd *cobra.Command, path string) (*verify.Result, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	c, err := loadCFA(path)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics != "" {
		m = metrics.New()
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	res, err := verify.Verify(ctx, c, cfg, verify.Options{Log: log, Metrics: m})
	if err != nil {
		return nil, err
	}
	if err := m.WriteFile(cfg.Metrics); err != nil {
		return nil, fmt.Errorf("writing metrics: %w", err)
	}
	return res, nil
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <cfa.yaml>",
		Short: "Check that no target location is reachable",
		Long: `Explores the abstract state space of the CFA, refining the precision
of the value analysis whenever a target is reached along an infeasible path.

Exits with 0 for HOLDS, 1 for VIOLATED and 2 for UNKNOWN.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runVerify(cmd, args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), res)

			if out, _ := cmd.Flags().GetString("arg-dot"); out != "" && res.ARG != nil {
				format, _ := cmd.Flags().GetString("format")
				if err := writeGraph(cmd, res.ARG.ToDot(args[0]), out, format); err != nil {
					return err
				}
			}
			if res.Verdict != refine.Holds {
				return verdictError{res.Verdict}
			}
			return nil
		},
	}
	analysisFlags(cmd.Flags())
	cmd.Flags().String("arg-dot", "", "Render the final ARG to this file")
	cmd.Flags().String("format", "dot", "Format of rendered graphs (dot, svg, png)")
	return cmd
}

func argCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arg <cfa.yaml>",
		Short: "Print the abstract reachability graph of a verification run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Flags().Set("distributed", "false"); err != nil {
				return err
			}
			res, err := runVerify(cmd, args[0])
			if err != nil {
				return err
			}

			if out, _ := cmd.Flags().GetString("snapshot"); out != "" {
				data, err := res.ARG.Snapshot().Encode()
				if err != nil {
					return err
				}
				return os.WriteFile(out, data, 0o644)
			}
			out, _ := cmd.Flags().GetString("out")
			format, _ := cmd.Flags().GetString("format")
			return writeGraph(cmd, res.ARG.ToDot(fmt.Sprintf("%s: %s", args[0], res.Verdict)), out, format)
		},
	}
	analysisFlags(cmd.Flags())
	cmd.Flags().StringP("out", "o", "", "Render to this file instead of printing dot")
	cmd.Flags().String("format", "dot", "Format of the rendered graph (dot, svg, png)")
	cmd.Flags().String("snapshot", "", "Write a msgpack snapshot of the ARG to this file")
	return cmd
}

func blocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocks <cfa.yaml>",
		Short: "Show the block decomposition of a CFA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := loadCFA(args[0])
			if err != nil {
				return err
			}
			p, err := block.Decompose(c, cfg.Distributed.Decomposition)
			if err != nil {
				return err
			}

			if out, _ := cmd.Flags().GetString("out"); out != "" {
				format, _ := cmd.Flags().GetString("format")
				return writeGraph(cmd, p.ToDot(args[0]), out, format)
			}
			fmt.Fprint(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().String("decomposition", "", "Block decomposition (single, loop-heads, merge-points, functions)")
	cmd.Flags().StringP("out", "o", "", "Render the partitioned CFA to this file")
	cmd.Flags().String("format", "dot", "Format of the rendered graph (dot, svg, png)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if out, _ := cmd.Flags().GetString("write"); out != "" {
				return cfg.Save(out)
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	analysisFlags(cmd.Flags())
	cmd.Flags().String("write", "", "Save the configuration to this file")
	return cmd
}
