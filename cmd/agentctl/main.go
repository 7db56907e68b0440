// Command agentctl is the command-line surface over the agent runtime:
// agentctl eval scores a suite of cases against a live model, and
// agentctl optimize searches an agent's parameter space against one.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// errExitFailure is a sentinel a subcommand's RunE returns to signal "exit
// 1, but don't print anything extra" — the suite already wrote its own
// report, only the process exit code still needs to reflect the failure.
var errExitFailure = errors.New("agentctl: one or more suites failed")

func main() {
	// API keys are commonly kept in a local .env during development; a
	// missing file is fine, the environment still wins.
	_ = godotenv.Load()

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errExitFailure) {
			fmt.Fprintln(os.Stderr, "agentctl:", err)
		}
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree; separated from main so tests
// can exercise it without invoking os.Exit.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentctl",
		Short:        "Run and tune agentrun agents against eval suites",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildEvalCmd(), buildOptimizeCmd())
	return root
}
