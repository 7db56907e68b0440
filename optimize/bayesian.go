package optimize

import (
	"context"
	"sort"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// runBayesian implements a TPE-inspired search: a Latin-Hypercube warm-up
// phase seeds the good/bad split, then each subsequent trial samples
// near the good group (probability opts.ProbGood) or away from the bad
// group, refining the split as results arrive.
func runBayesian(ctx context.Context, space SearchSpace, opts Options, runTrial TrialRunner) []Trial {
	nInitial := opts.NInitial
	if nInitial <= 0 {
		nInitial = opts.NTrials
		if nInitial > 10 {
			nInitial = 10
		}
	}
	if nInitial > opts.NTrials {
		nInitial = opts.NTrials
	}

	initialCfgs := latinHypercubeSamples(space.Parameters, nInitial, opts.Rand)
	trials := runTrialsConcurrently(ctx, initialCfgs, opts, runTrial)

	for len(trials) < opts.NTrials {
		select {
		case <-ctx.Done():
			return trials
		default:
		}
		if opts.EarlyStop != 0 && bestScore(trials) >= opts.EarlyStop {
			return trials
		}

		good, bad := splitGoodBad(trials, opts.Gamma)
		cfg := sampleNearGoodOrAwayFromBad(space.Parameters, good, bad, opts)
		trials = append(trials, evalTrial(ctx, cfg, opts, runTrial))
	}
	return trials
}

func bestScore(trials []Trial) float64 {
	best := 0.0
	for i, t := range trials {
		if i == 0 || t.Score > best {
			best = t.Score
		}
	}
	return best
}

// splitGoodBad orders trials by Score descending (higher always better,
// per evalTrial's orientation) and splits the top gamma fraction into
// good, the rest into bad. At least one trial lands in each group.
func splitGoodBad(trials []Trial, gamma float64) (good, bad []Trial) {
	sorted := make([]Trial, len(trials))
	copy(sorted, trials)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	nGood := int(float64(len(sorted)) * gamma)
	if nGood < 1 {
		nGood = 1
	}
	if nGood >= len(sorted) {
		nGood = len(sorted) - 1
	}
	if nGood < 1 {
		nGood = 1
	}
	return sorted[:nGood], sorted[nGood:]
}

func sampleNearGoodOrAwayFromBad(params []Parameter, good, bad []Trial, opts Options) Config {
	cfg := make(Config, len(params))
	nearGood := opts.Rand.Float64() < opts.ProbGood

	for _, p := range params {
		if nearGood && len(good) > 0 {
			if anchor, ok := good[opts.Rand.Intn(len(good))].Config[p.Name]; ok {
				cfg[p.Name] = jitterNear(p, anchor, opts)
				continue
			}
		}
		cfg[p.Name] = sampleAwayFrom(p, bad, opts)
	}
	return pruneConditions(cfg, params)
}

// jitterNear perturbs a good trial's value for p: a Gaussian nudge of
// stddev 20% of the parameter's range for numeric parameters (clipped
// back into [Min,Max]), or the value itself for categoricals and bools
// (the "most frequent in good" case collapses to picking the anchor
// trial's own value, since callers already drew it uniformly from the
// good set).
func jitterNear(p Parameter, anchor interface{}, opts Options) interface{} {
	switch p.Type {
	case ParamFloat:
		v, _ := anchor.(float64)
		sigma := 0.2 * (p.Max - p.Min)
		if sigma <= 0 {
			return v
		}
		return clip(gaussian(v, sigma, opts), p.Min, p.Max)
	case ParamInt:
		v, ok := anchor.(int)
		if !ok {
			if f, ok := anchor.(float64); ok {
				v = int(f)
			}
		}
		sigma := 0.2 * (p.Max - p.Min)
		if sigma <= 0 {
			return v
		}
		return int(clip(gaussian(float64(v), sigma, opts), p.Min, p.Max))
	default: // ParamCategorical, ParamBool
		return anchor
	}
}

// gaussian draws one N(mu, sigma) sample. distuv's source speaks
// x/exp/rand, so each draw gets a throwaway source seeded from the
// search's own generator, keeping runs reproducible under a fixed seed.
func gaussian(mu, sigma float64, opts Options) float64 {
	n := distuv.Normal{Mu: mu, Sigma: sigma, Src: exprand.NewSource(opts.Rand.Uint64())}
	return n.Rand()
}

func clip(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// sampleAwayFrom draws a fresh uniform sample for p, rejecting values
// that coincide with a bad trial's value when a retry budget allows it.
func sampleAwayFrom(p Parameter, bad []Trial, opts Options) interface{} {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := sampleParameter(p, opts.Rand)
		if !matchesAny(candidate, bad, p.Name) {
			return candidate
		}
	}
	return sampleParameter(p, opts.Rand)
}

func matchesAny(candidate interface{}, trials []Trial, paramName string) bool {
	for _, t := range trials {
		if t.Config[paramName] == candidate {
			return true
		}
	}
	return false
}
