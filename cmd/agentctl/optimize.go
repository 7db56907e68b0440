package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nguyenthanhtuan/agentrun/eval"
	"github.com/nguyenthanhtuan/agentrun/optimize"
	"github.com/spf13/cobra"
)

func buildOptimizeCmd() *cobra.Command {
	var (
		suitePath  string
		strategy   string
		trials     int
		metric     string
		minimize   bool
		timeout    time.Duration
		earlyStop  float64
		paramsSpec []string
		output     string
		verbose    bool
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search an agent's parameter space against an eval suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			suite, err := eval.LoadSuite(suitePath)
			if err != nil {
				return err
			}
			applySuiteDefaults(suite)

			space, err := parseSearchSpace(paramsSpec)
			if err != nil {
				return err
			}

			reg := buildProviderRegistry()
			evalRegistry := eval.NewRegistry()
			registerLLMJudge(evalRegistry, reg, suite.DefaultModel)

			trialRunner := func(ctx context.Context, cfg optimize.Config) (map[string]float64, error) {
				runFn := buildCaseRunFunc(reg, cfg)
				res, err := eval.Run(ctx, suite, evalRegistry, runFn, eval.RunOptions{})
				if err != nil {
					return nil, err
				}
				return map[string]float64{
					string(optimize.MetricScore):       res.MeanScore,
					string(optimize.MetricPassRate):     res.PassRate,
					string(optimize.MetricLatencyP50):   float64(res.LatencyP50.Milliseconds()),
					string(optimize.MetricLatencyP95):   float64(res.LatencyP95.Milliseconds()),
					string(optimize.MetricLatencyP99):   float64(res.LatencyP99.Milliseconds()),
					string(optimize.MetricTotalTokens):  float64(res.TotalTokens),
					string(optimize.MetricCost):         res.Cost,
				}, nil
			}

			opts := optimize.Options{
				Strategy:  normalizeStrategy(strategy),
				NTrials:   trials,
				Metric:    optimize.Metric(metric),
				Minimize:  minimize,
				Timeout:   timeout,
				EarlyStop: earlyStop,
			}

			result, err := optimize.Run(cmd.Context(), space, opts, trialRunner)
			if err != nil {
				return err
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
			return writeOptimizeReport(w, result, verbose, quiet)
		},
	}

	cmd.Flags().StringVar(&suitePath, "suite", "", "Eval suite YAML whose cases score each trial")
	cmd.Flags().StringVar(&strategy, "strategy", "bayesian", "Search strategy: grid_search, random, or bayesian")
	cmd.Flags().IntVar(&trials, "trials", 20, "Number of trials to run")
	cmd.Flags().StringVar(&metric, "metric", string(optimize.MetricScore), "Metric to optimize")
	cmd.Flags().BoolVar(&minimize, "minimize", false, "Minimize the metric instead of maximizing it")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall search timeout (0 = no limit)")
	cmd.Flags().Float64Var(&earlyStop, "early-stop", 0, "Stop as soon as a trial's oriented score reaches this threshold (0 = disabled)")
	cmd.Flags().StringArrayVar(&paramsSpec, "params", nil, "Parameter definition, repeatable: name:float:min:max[:step], name:int:min:max[:step], name:bool, or name:categorical:v1|v2|v3")
	cmd.Flags().StringVar(&output, "output", "", "Write the result report to this file instead of stdout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every trial, not just the best")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print nothing but the best configuration as JSON")
	cobra.CheckErr(cmd.MarkFlagRequired("suite"))

	return cmd
}

// normalizeStrategy accepts both the canonical strategy names and the
// short "grid" spelling.
func normalizeStrategy(s string) optimize.Strategy {
	if s == "grid" {
		return optimize.StrategyGrid
	}
	return optimize.Strategy(s)
}

// parseSearchSpace turns repeated --params flags of the form
// "name:float:min:max[:step]" or "name:categorical:v1|v2|v3" into a
// optimize.SearchSpace.
func parseSearchSpace(specs []string) (optimize.SearchSpace, error) {
	space := optimize.SearchSpace{Parameters: make([]optimize.Parameter, 0, len(specs))}
	for _, spec := range specs {
		fields := strings.Split(spec, ":")
		if len(fields) < 2 {
			return optimize.SearchSpace{}, fmt.Errorf("agentctl: invalid --params %q, want name:type:...", spec)
		}
		name, kind := fields[0], fields[1]

		switch kind {
		case "float", "int":
			if len(fields) < 4 {
				return optimize.SearchSpace{}, fmt.Errorf("agentctl: --params %q needs min:max", spec)
			}
			min, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return optimize.SearchSpace{}, fmt.Errorf("agentctl: --params %q: %w", spec, err)
			}
			max, err := strconv.ParseFloat(fields[3], 64)
			if err != nil {
				return optimize.SearchSpace{}, fmt.Errorf("agentctl: --params %q: %w", spec, err)
			}
			p := optimize.Parameter{Name: name, Min: min, Max: max}
			if kind == "float" {
				p.Type = optimize.ParamFloat
			} else {
				p.Type = optimize.ParamInt
			}
			if len(fields) > 4 {
				step, err := strconv.ParseFloat(fields[4], 64)
				if err != nil {
					return optimize.SearchSpace{}, fmt.Errorf("agentctl: --params %q: %w", spec, err)
				}
				p.Step = step
			}
			space.Parameters = append(space.Parameters, p)
		case "bool":
			space.Parameters = append(space.Parameters, optimize.Parameter{Name: name, Type: optimize.ParamBool})
		case "categorical":
			if len(fields) < 3 {
				return optimize.SearchSpace{}, fmt.Errorf("agentctl: --params %q needs a |-separated value list", spec)
			}
			values := strings.Split(fields[2], "|")
			vals := make([]interface{}, len(values))
			for i, v := range values {
				vals[i] = v
			}
			space.Parameters = append(space.Parameters, optimize.Parameter{Name: name, Type: optimize.ParamCategorical, Values: vals})
		default:
			return optimize.SearchSpace{}, fmt.Errorf("agentctl: --params %q has unknown type %q", spec, kind)
		}
	}
	return space, nil
}

func writeOptimizeReport(w io.Writer, result *optimize.Result, verbose, quiet bool) error {
	if result.Best == nil {
		fmt.Fprintln(w, "no trials completed")
		return nil
	}
	if quiet {
		enc := json.NewEncoder(w)
		return enc.Encode(result.Best.Config)
	}

	fmt.Fprintf(w, "best score %.4f over %d trials (mean %.4f, stddev %.4f), config %v\n",
		result.Best.Score, len(result.Trials), result.MeanScore, result.StdDevScore, result.Best.Config)
	if !verbose {
		return nil
	}
	for i, t := range result.Trials {
		status := "ok"
		if t.Err != nil {
			status = "error: " + t.Err.Error()
		}
		fmt.Fprintf(w, "  trial %d: score=%.4f config=%v (%s)\n", i, t.Score, t.Config, status)
	}
	return nil
}
