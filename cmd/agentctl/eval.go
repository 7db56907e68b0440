package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nguyenthanhtuan/agentrun/eval"
	"github.com/spf13/cobra"
)

func buildEvalCmd() *cobra.Command {
	var (
		suitePath string
		dir       string
		tags      string
		exclude   string
		model     string
		parallel  int
		timeout   time.Duration
		retry     int
		format    string
		output    string
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run one or more eval suites against a live model",
		RunE: func(cmd *cobra.Command, args []string) error {
			suites, err := loadSuites(suitePath, dir)
			if err != nil {
				return err
			}

			reg := buildProviderRegistry()
			overrides := map[string]interface{}{}
			if model != "" {
				overrides["model"] = model
			}
			runFn := buildCaseRunFunc(reg, overrides)
			evalRegistry := eval.NewRegistry()

			ctx := context.Background()
			results := make([]*eval.SuiteResult, 0, len(suites))
			for _, s := range suites {
				applySuiteDefaults(s)

				judgeSpec := model
				if judgeSpec == "" {
					judgeSpec = s.DefaultModel
				}
				registerLLMJudge(evalRegistry, reg, judgeSpec)

				opts := eval.RunOptions{
					Parallelism:    parallel,
					RetryFailed:    retry,
					DefaultTimeout: timeout,
					IncludeTags:    splitCSV(tags),
					ExcludeTags:    splitCSV(exclude),
				}
				if s.Parallelism > 0 && !cmd.Flags().Changed("parallel") {
					opts.Parallelism = s.Parallelism
				}

				res, err := eval.Run(ctx, s, evalRegistry, runFn, opts)
				if err != nil {
					return fmt.Errorf("agentctl: suite %q: %w", s.Name, err)
				}
				results = append(results, res)
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := writeReport(w, results, format, verbose); err != nil {
				return err
			}

			if !allPassed(results) {
				return errExitFailure
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&suitePath, "suite", "", "Path to a single suite YAML file")
	cmd.Flags().StringVar(&dir, "dir", "test/eval/suites", "Directory of suite YAML files to run when --suite is omitted")
	cmd.Flags().StringVar(&tags, "tags", "", "Comma-separated tags to include")
	cmd.Flags().StringVar(&exclude, "exclude", "", "Comma-separated tags to exclude")
	cmd.Flags().StringVar(&model, "model", "", "Override every case's configured model (provider:model)")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "Maximum concurrent cases")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Per-case timeout")
	cmd.Flags().IntVar(&retry, "retry", 0, "Retries for a failed case before recording it failed")
	cmd.Flags().StringVar(&format, "format", "console", "Report format: console, json, or markdown")
	cmd.Flags().StringVar(&output, "output", "", "Write the report to this file instead of stdout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every case result, not just suite summaries")

	return cmd
}

// applySuiteDefaults folds a suite's default_model and
// default_instructions into each case's agent_config, so the per-case run
// only ever reads one place.
func applySuiteDefaults(s *eval.Suite) {
	for i := range s.TestCases {
		tc := &s.TestCases[i]
		if tc.AgentConfig == nil {
			tc.AgentConfig = map[string]interface{}{}
		}
		if _, ok := tc.AgentConfig["model"]; !ok && s.DefaultModel != "" {
			tc.AgentConfig["model"] = s.DefaultModel
		}
		if _, ok := tc.AgentConfig["system"]; !ok && s.DefaultInstructions != "" {
			tc.AgentConfig["system"] = s.DefaultInstructions
		}
	}
}

func loadSuites(suitePath, dir string) ([]*eval.Suite, error) {
	if suitePath != "" {
		s, err := eval.LoadSuite(suitePath)
		if err != nil {
			return nil, err
		}
		return []*eval.Suite{s}, nil
	}
	return eval.LoadSuitesFromDir(dir)
}
