package optimize

import "context"

// runGrid enumerates the Cartesian product of every Parameter's
// discreteValues, optionally shuffles it, caps it to opts.MaxTrials (or
// opts.NTrials if MaxTrials is unset), and evaluates the result.
func runGrid(ctx context.Context, space SearchSpace, opts Options, runTrial TrialRunner) []Trial {
	cfgs := cartesianProduct(space.Parameters)

	if opts.Shuffle {
		opts.Rand.Shuffle(len(cfgs), func(i, j int) { cfgs[i], cfgs[j] = cfgs[j], cfgs[i] })
	}

	limit := opts.MaxTrials
	if limit <= 0 {
		limit = opts.NTrials
	}
	if limit > 0 && len(cfgs) > limit {
		cfgs = cfgs[:limit]
	}

	return runTrialsConcurrently(ctx, cfgs, opts, runTrial)
}

// cartesianProduct builds every Config that assigns one value per
// Parameter, in the order Parameters are declared. A conditional
// parameter contributes its values only to the branches where its
// condition holds, so the product never enumerates dead combinations.
func cartesianProduct(params []Parameter) []Config {
	if len(params) == 0 {
		return nil
	}

	cfgs := []Config{{}}
	for _, p := range params {
		values := p.discreteValues()
		next := make([]Config, 0, len(cfgs)*len(values))
		for _, cfg := range cfgs {
			if !p.conditionMet(cfg) {
				next = append(next, cfg)
				continue
			}
			for _, v := range values {
				extended := make(Config, len(cfg)+1)
				for k, existing := range cfg {
					extended[k] = existing
				}
				extended[p.Name] = v
				next = append(next, extended)
			}
		}
		cfgs = next
	}
	return cfgs
}
