package optimize

import (
	"context"
	"math"
	"math/rand"
)

// runRandom draws opts.NTrials independent configurations (or, if
// opts.LatinHypercube is set, one Latin-Hypercube-stratified sample per
// trial) and evaluates them.
func runRandom(ctx context.Context, space SearchSpace, opts Options, runTrial TrialRunner) []Trial {
	var cfgs []Config
	if opts.LatinHypercube {
		cfgs = latinHypercubeSamples(space.Parameters, opts.NTrials, opts.Rand)
	} else {
		cfgs = make([]Config, opts.NTrials)
		for i := range cfgs {
			cfgs[i] = sampleUniform(space.Parameters, opts.Rand)
		}
	}
	return runTrialsConcurrently(ctx, cfgs, opts, runTrial)
}

// sampleUniform draws one independent value per Parameter: a uniform
// float/int in [Min,Max] when Values isn't set, else a uniform pick
// from Values. Conditional parameters are dropped when their condition
// isn't met by the rest of the draw.
func sampleUniform(params []Parameter, rng *rand.Rand) Config {
	cfg := make(Config, len(params))
	for _, p := range params {
		cfg[p.Name] = sampleParameter(p, rng)
	}
	return pruneConditions(cfg, params)
}

func sampleParameter(p Parameter, rng *rand.Rand) interface{} {
	if len(p.Values) > 0 {
		return p.Values[rng.Intn(len(p.Values))]
	}
	switch p.Type {
	case ParamBool:
		return rng.Intn(2) == 1
	case ParamInt:
		span := int(p.Max-p.Min) + 1
		if span <= 0 {
			return int(p.Min)
		}
		return int(p.Min) + rng.Intn(span)
	default: // ParamFloat
		if p.LogScale {
			lo, hi := math.Log(p.Min), math.Log(p.Max)
			return math.Exp(lo + rng.Float64()*(hi-lo))
		}
		return p.Min + rng.Float64()*(p.Max-p.Min)
	}
}

// latinHypercubeSamples draws n samples such that each Parameter's
// range is partitioned into n equal-probability strata with exactly one
// sample per stratum, and each parameter's stratum assignment across
// trials is independently shuffled (the standard LHS construction). A
// Parameter with a Values list is not stratified: each sample picks one of
// its Values uniformly at random.
func latinHypercubeSamples(params []Parameter, n int, rng *rand.Rand) []Config {
	if n <= 0 {
		return nil
	}

	perParam := make(map[string][]interface{}, len(params))
	for _, p := range params {
		perParam[p.Name] = latinHypercubeColumn(p, n, rng)
	}

	cfgs := make([]Config, n)
	for i := 0; i < n; i++ {
		cfg := make(Config, len(params))
		for _, p := range params {
			cfg[p.Name] = perParam[p.Name][i]
		}
		cfgs[i] = pruneConditions(cfg, params)
	}
	return cfgs
}

func latinHypercubeColumn(p Parameter, n int, rng *rand.Rand) []interface{} {
	if len(p.Values) > 0 {
		col := make([]interface{}, n)
		for i := range col {
			col[i] = p.Values[rng.Intn(len(p.Values))]
		}
		return col
	}

	col := make([]interface{}, n)
	strataWidth := 1.0 / float64(n)
	for i := 0; i < n; i++ {
		u := (float64(i) + rng.Float64()) * strataWidth
		switch p.Type {
		case ParamBool:
			col[i] = u >= 0.5
		case ParamInt:
			span := p.Max - p.Min + 1
			col[i] = int(math.Floor(p.Min + u*span))
		default:
			if p.LogScale {
				lo, hi := math.Log(p.Min), math.Log(p.Max)
				col[i] = math.Exp(lo + u*(hi-lo))
			} else {
				col[i] = p.Min + u*(p.Max-p.Min)
			}
		}
	}
	rng.Shuffle(n, func(i, j int) { col[i], col[j] = col[j], col[i] })
	return col
}
