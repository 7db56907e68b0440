package eval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nguyenthanhtuan/agentrun/agent/agenterr"
	"github.com/nguyenthanhtuan/agentrun/message"
)

// CaseRunFunc executes one TestCase's agent run and returns the Outcome
// an Evaluator can score. deps carries whatever Suite.Setup produced.
type CaseRunFunc func(ctx context.Context, tc TestCase, deps map[string]interface{}) (Outcome, message.Usage, error)

// RunOptions configures one Run call. A zero value runs sequentially
// (Parallelism 1) with the suite's own retry_failed count and no
// per-case timeout beyond the suite's own default.
type RunOptions struct {
	Parallelism    int
	RetryFailed    int
	DefaultTimeout time.Duration
	IncludeTags    []string
	ExcludeTags    []string
	// PriceTable maps a model spec (as passed in TestCase.AgentConfig
	// ["model"]) to a per-token price, for the optional cost aggregate.
	PriceTable map[string]Price
}

// Price is a per-token cost, used only if RunOptions.PriceTable is set.
type Price struct {
	PromptPerToken     float64
	CompletionPerToken float64
}

// CaseResult is the outcome of one scored case.
type CaseResult struct {
	CaseID   string
	Passed   bool
	Score    float64
	Reason   string
	Details  map[string]interface{}
	Output   string
	Err      error
	Timeout  bool
	Duration time.Duration
	Usage    message.Usage
	Model    string
}

// SuiteResult aggregates the case results of a full Run: pass rate, mean
// score, latency percentiles, and token/cost totals.
type SuiteResult struct {
	SuiteName   string
	CaseResults []CaseResult
	PassCount   int
	TotalCount  int
	PassRate    float64
	MeanScore   float64
	LatencyP50  time.Duration
	LatencyP95  time.Duration
	LatencyP99  time.Duration
	TotalTokens int
	Cost        float64
}

// Run executes suite's cases (after tag filtering) through runFn and
// registry: validate, filter, setup, bounded-concurrency execution with
// retry/timeout, aggregation, teardown.
func Run(ctx context.Context, suite *Suite, registry *Registry, runFn CaseRunFunc, opts RunOptions) (*SuiteResult, error) {
	if err := suite.Validate(); err != nil {
		return nil, err
	}

	cases := suite.FilterByTags(opts.IncludeTags, opts.ExcludeTags)
	if len(cases) == 0 {
		return &SuiteResult{SuiteName: suite.Name}, nil
	}

	var deps map[string]interface{}
	if suite.Setup != nil {
		var err error
		deps, err = suite.Setup()
		if err != nil {
			return nil, fmt.Errorf("eval: suite %q setup failed: %w", suite.Name, err)
		}
	}

	retryFailed := opts.RetryFailed
	if retryFailed == 0 {
		retryFailed = suite.RetryFailed
	}
	defaultTimeout := opts.DefaultTimeout
	if defaultTimeout == 0 {
		defaultTimeout = suite.DefaultTimeout
	}

	results := runCasesConcurrently(ctx, cases, registry, runFn, deps, retryFailed, defaultTimeout, opts.Parallelism)

	if suite.Teardown != nil {
		if err := suite.Teardown(deps); err != nil {
			return nil, fmt.Errorf("eval: suite %q teardown failed: %w", suite.Name, err)
		}
	}

	return aggregate(suite.Name, results, opts.PriceTable), nil
}

func runCasesConcurrently(ctx context.Context, cases []TestCase, registry *Registry, runFn CaseRunFunc,
	deps map[string]interface{}, retryFailed int, defaultTimeout time.Duration, parallelism int) []CaseResult {

	maxWorkers := parallelism
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if len(cases) < maxWorkers {
		maxWorkers = len(cases)
	}

	type indexed struct {
		index  int
		result CaseResult
	}
	out := make(chan indexed, len(cases))
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for i, tc := range cases {
		wg.Add(1)
		sem <- struct{}{}
		go func(index int, tc TestCase) {
			defer wg.Done()
			defer func() { <-sem }()
			out <- indexed{index: index, result: runOneCaseWithRetry(ctx, tc, registry, runFn, deps, retryFailed, defaultTimeout)}
		}(i, tc)
	}

	wg.Wait()
	close(out)

	byIndex := make(map[int]CaseResult, len(cases))
	for r := range out {
		byIndex[r.index] = r.result
	}
	results := make([]CaseResult, len(cases))
	for i := range cases {
		results[i] = byIndex[i]
	}
	return results
}

func runOneCaseWithRetry(ctx context.Context, tc TestCase, registry *Registry, runFn CaseRunFunc,
	deps map[string]interface{}, retryFailed int, defaultTimeout time.Duration) CaseResult {

	timeout := tc.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var last CaseResult
	attempts := retryFailed + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
		last = runOneCase(ctx, tc, registry, runFn, deps, timeout)
		if last.Err == nil {
			return last
		}
	}
	return last
}

func runOneCase(ctx context.Context, tc TestCase, registry *Registry, runFn CaseRunFunc,
	deps map[string]interface{}, timeout time.Duration) CaseResult {

	start := time.Now()
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	outcome, usage, err := runFn(runCtx, tc, deps)
	duration := time.Since(start)

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return CaseResult{
				CaseID:   tc.ID,
				Err:      agenterr.New(agenterr.KindTimeout, fmt.Sprintf("case %q timed out after %v", tc.ID, timeout)),
				Timeout:  true,
				Duration: duration,
				Usage:    usage,
			}
		}
		return CaseResult{CaseID: tc.ID, Err: err, Duration: duration, Usage: usage}
	}

	evaluator, ok := registry.Get(tc.EvalType)
	if !ok {
		return CaseResult{CaseID: tc.ID, Err: fmt.Errorf("eval: no evaluator registered for eval_type %q", tc.EvalType), Duration: duration, Usage: usage}
	}
	verdict, err := evaluator.Evaluate(runCtx, outcome, tc)
	if err != nil {
		return CaseResult{CaseID: tc.ID, Err: err, Duration: duration, Usage: usage}
	}

	model, _ := tc.AgentConfig["model"].(string)
	return CaseResult{
		CaseID:   tc.ID,
		Passed:   verdict.Passed,
		Score:    verdict.Score,
		Reason:   verdict.Reason,
		Details:  verdict.Details,
		Output:   outcome.Output,
		Duration: duration,
		Usage:    usage,
		Model:    model,
	}
}

func aggregate(suiteName string, results []CaseResult, prices map[string]Price) *SuiteResult {
	r := &SuiteResult{SuiteName: suiteName, CaseResults: results, TotalCount: len(results)}

	durations := make([]time.Duration, 0, len(results))
	var scoreSum float64
	for _, c := range results {
		if c.Passed {
			r.PassCount++
		}
		scoreSum += c.Score
		durations = append(durations, c.Duration)
		r.TotalTokens += c.Usage.TotalTokens
		if price, ok := prices[c.Model]; ok {
			r.Cost += float64(c.Usage.PromptTokens)*price.PromptPerToken + float64(c.Usage.CompletionTokens)*price.CompletionPerToken
		}
	}

	if len(results) > 0 {
		r.PassRate = float64(r.PassCount) / float64(len(results))
		r.MeanScore = scoreSum / float64(len(results))
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	r.LatencyP50 = percentile(durations, 0.50)
	r.LatencyP95 = percentile(durations, 0.95)
	r.LatencyP99 = percentile(durations, 0.99)

	return r
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// ABResult is the outcome of running the same suite under two
// configurations and comparing their aggregate scores.
type ABResult struct {
	A, B      *SuiteResult
	ScoreDiff float64
	Winner    string // "a" | "b" | "tie"
}

// CompareAB runs suite under runFnA and runFnB and declares a winner if
// the aggregate-score difference exceeds 0.05.
func CompareAB(ctx context.Context, suite *Suite, registry *Registry, runFnA, runFnB CaseRunFunc, opts RunOptions) (*ABResult, error) {
	a, err := Run(ctx, suite, registry, runFnA, opts)
	if err != nil {
		return nil, fmt.Errorf("eval: variant A failed: %w", err)
	}
	b, err := Run(ctx, suite, registry, runFnB, opts)
	if err != nil {
		return nil, fmt.Errorf("eval: variant B failed: %w", err)
	}

	diff := a.MeanScore - b.MeanScore
	winner := "tie"
	switch {
	case diff > 0.05:
		winner = "a"
	case diff < -0.05:
		winner = "b"
	}
	return &ABResult{A: a, B: b, ScoreDiff: diff, Winner: winner}, nil
}
