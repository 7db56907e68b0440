package optimize

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/nguyenthanhtuan/agentrun/cache"
	"gonum.org/v1/gonum/stat"
)

// Strategy selects which search algorithm Run uses to generate trial
// configurations.
type Strategy string

const (
	StrategyGrid     Strategy = "grid_search"
	StrategyRandom   Strategy = "random"
	StrategyBayesian Strategy = "bayesian"
)

// Metric names the SuiteResult-derived value a trial is scored on.
type Metric string

const (
	MetricScore       Metric = "score"
	MetricPassRate    Metric = "pass_rate"
	MetricLatencyP50  Metric = "latency_p50"
	MetricLatencyP95  Metric = "latency_p95"
	MetricLatencyP99  Metric = "latency_p99"
	MetricTotalTokens Metric = "total_tokens"
	MetricCost        Metric = "cost"
)

// TrialRunner applies cfg to whatever suite the caller is optimizing
// (typically by overriding TestCase.AgentConfig before an eval.Run) and
// returns the resulting metrics map, keyed by the Metric constants
// above. A non-nil error marks the trial as failed; Run records it with
// score 0 and continues.
type TrialRunner func(ctx context.Context, cfg Config) (map[string]float64, error)

// Options configures one Run call.
type Options struct {
	Strategy Strategy
	NTrials  int
	// NInitial bounds the Bayesian strategy's Latin-Hypercube warm-up
	// phase; defaults to min(10, NTrials).
	NInitial int
	Metric   Metric
	Minimize bool

	// EarlyStop, when non-zero, stops the run as soon as a trial's score
	// (oriented so higher is always better) reaches this threshold.
	EarlyStop float64
	Timeout   time.Duration

	// Shuffle randomizes grid-search trial order before MaxTrials caps it.
	Shuffle   bool
	MaxTrials int

	// LatinHypercube makes the random strategy draw its NTrials samples
	// via Latin-Hypercube Sampling (one sample per equal-probability
	// stratum per parameter) instead of independent uniform draws.
	LatinHypercube bool

	// Gamma is the Bayesian strategy's good/bad quantile split (default 0.25).
	Gamma float64
	// ProbGood is the Bayesian strategy's probability of sampling near the
	// good group rather than away from the bad group (default 0.7).
	ProbGood float64

	Parallelism int
	Rand        *rand.Rand
	// Cache, when set, memoizes trial results by Config so a search
	// strategy that revisits a configuration (random collisions, a grid
	// cell re-queued after an early stop) skips re-running it.
	Cache cache.Cache
}

// Trial is one evaluated point in the SearchSpace.
type Trial struct {
	Config   Config
	Metrics  map[string]float64
	Score    float64 // oriented so higher is always better, regardless of Minimize
	Err      error
	Duration time.Duration
}

// Result is a completed Run: every Trial plus the best one found and
// summary statistics over all trial scores.
type Result struct {
	Best        *Trial
	Trials      []Trial
	Duration    time.Duration
	MeanScore   float64
	StdDevScore float64
}

// Run searches space for the configuration maximizing (or, if
// opts.Minimize, minimizing) opts.Metric, using opts.Strategy to
// generate candidate configurations and runTrial to score each one.
func Run(ctx context.Context, space SearchSpace, opts Options, runTrial TrialRunner) (*Result, error) {
	if err := space.validate(); err != nil {
		return nil, err
	}
	if opts.NTrials <= 0 {
		return nil, fmt.Errorf("optimize: n_trials must be positive")
	}
	if opts.Metric == "" {
		opts.Metric = MetricScore
	}
	if opts.Gamma <= 0 {
		opts.Gamma = 0.25
	}
	if opts.ProbGood <= 0 {
		opts.ProbGood = 0.7
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	var trials []Trial

	switch opts.Strategy {
	case StrategyGrid:
		trials = runGrid(runCtx, space, opts, runTrial)
	case StrategyRandom:
		trials = runRandom(runCtx, space, opts, runTrial)
	case StrategyBayesian, "":
		trials = runBayesian(runCtx, space, opts, runTrial)
	default:
		return nil, fmt.Errorf("optimize: unknown strategy %q", opts.Strategy)
	}

	return summarize(trials, time.Since(start)), nil
}

// evalTrial applies opts.Cache (if set) around runTrial and converts its
// metrics into an orientation-normalized score.
func evalTrial(ctx context.Context, cfg Config, opts Options, runTrial TrialRunner) Trial {
	start := time.Now()

	var cacheKey string
	if opts.Cache != nil {
		cacheKey = cache.Key(struct {
			Cfg    Config
			Metric Metric
		}{cfg, opts.Metric})
		if raw, ok, err := opts.Cache.Get(ctx, cacheKey); err == nil && ok {
			if metrics, score, ok := decodeCachedTrial(raw); ok {
				return Trial{Config: cfg, Metrics: metrics, Score: score, Duration: time.Since(start)}
			}
		}
	}

	metrics, err := runTrial(ctx, cfg)
	t := Trial{Config: cfg, Metrics: metrics, Duration: time.Since(start)}
	if err != nil {
		t.Err = err
		t.Score = 0
		return t
	}
	t.Score = orientScore(metrics[string(opts.Metric)], opts.Minimize)

	if opts.Cache != nil {
		opts.Cache.Set(ctx, cacheKey, encodeCachedTrial(metrics, t.Score), 0)
	}
	return t
}

// orientScore flips a raw metric so that, regardless of whether the
// search is minimizing or maximizing it, a higher Trial.Score is always
// better. Minimized metrics are negated; Run's EarlyStop threshold and
// best-trial selection then only ever need to compare "higher wins".
func orientScore(raw float64, minimize bool) float64 {
	if minimize {
		return -raw
	}
	return raw
}

func summarize(trials []Trial, duration time.Duration) *Result {
	r := &Result{Trials: trials, Duration: duration}
	if len(trials) == 0 {
		return r
	}

	scores := make([]float64, len(trials))
	var best *Trial
	for i := range trials {
		scores[i] = trials[i].Score
		if best == nil || trials[i].Score > best.Score {
			best = &trials[i]
		}
	}
	r.Best = best
	r.MeanScore = stat.Mean(scores, nil)
	r.StdDevScore = stat.StdDev(scores, nil)
	return r
}

// runTrialsConcurrently evaluates every cfg in cfgs against runTrial
// through a semaphore-bounded worker pool, honoring ctx cancellation and
// opts.EarlyStop by not launching further work once triggered.
func runTrialsConcurrently(ctx context.Context, cfgs []Config, opts Options, runTrial TrialRunner) []Trial {
	maxWorkers := opts.Parallelism
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if len(cfgs) < maxWorkers {
		maxWorkers = len(cfgs)
	}

	type indexed struct {
		index int
		trial Trial
	}
	out := make(chan indexed, len(cfgs))
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup
	var stopped sync.Once
	stop := make(chan struct{})

	for i, cfg := range cfgs {
		if ctx.Err() != nil || stopRequested(stop) {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(index int, cfg Config) {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			default:
			}

			t := evalTrial(ctx, cfg, opts, runTrial)
			out <- indexed{index: index, trial: t}

			if opts.EarlyStop != 0 && t.Score >= opts.EarlyStop {
				stopped.Do(func() { close(stop) })
			}
		}(i, cfg)
	}

	wg.Wait()
	close(out)

	byIndex := make(map[int]Trial, len(cfgs))
	for r := range out {
		byIndex[r.index] = r.trial
	}
	trials := make([]Trial, 0, len(byIndex))
	for i := range cfgs {
		if t, ok := byIndex[i]; ok {
			trials = append(trials, t)
		}
	}
	return trials
}

func stopRequested(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
