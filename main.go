// Command argus verifies that the target locations of a control-flow
// automaton are unreachable.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cs-au-dk/argus/analysis/refine"
)

// Exit codes of the verify command. Other failures exit with exitError.
const (
	exitHolds    = 0
	exitViolated = 1
	exitUnknown  = 2
	exitError    = 3
)

// verdictError carries a verdict other than HOLDS to the exit code.
type verdictError struct{ verdict refine.Verdict }

func (e verdictError) Error() string { return e.verdict.String() }

func exitCode(err error) int {
	var ve verdictError
	switch {
	case err == nil:
		return exitHolds
	case errors.As(err, &ve):
		if ve.verdict == refine.Violated {
			return exitViolated
		}
		return exitUnknown
	}
	return exitError
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "argus",
		Short:         "Configurable program analysis with abstraction refinement",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "Log format (text, json)")
	root.PersistentFlags().Bool("no-color", false, "Disable colorized output")

	root.AddCommand(verifyCmd(), blocksCmd(), argCmd(), configCmd())
	return root
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		var ve verdictError
		if !errors.As(err, &ve) {
			fmt.Fprintln(os.Stderr, "argus:", err)
		}
	}
	os.Exit(exitCode(err))
}
