// Package optimize implements the parameter-search harness: grid,
// random(+Latin-Hypercube), and a TPE-inspired Bayesian strategy, each
// driving a caller-supplied TrialRunner over a SearchSpace. Trial scores
// aggregate through gonum's stat package; the Bayesian sampler's Gaussian
// jitter draws from gonum's distuv.
package optimize

import (
	"fmt"
	"math"
)

// ParamType is the kind of value a Parameter ranges over.
type ParamType string

const (
	ParamFloat       ParamType = "float"
	ParamInt         ParamType = "int"
	ParamCategorical ParamType = "categorical"
	ParamBool        ParamType = "bool"
)

// Condition gates a Parameter on another parameter's sampled value: the
// parameter is only assigned when the named parameter equals the given
// value in the same configuration.
type Condition struct {
	Param  string
	Equals interface{}
}

// Parameter is one dimension of a SearchSpace.
type Parameter struct {
	Name string
	Type ParamType

	// Min/Max bound a float or int parameter with no explicit Values.
	Min, Max float64
	// Step overrides the default grid-search step (10 steps for floats,
	// 1 for ints) when set.
	Step float64

	// LogScale samples a float parameter uniformly in log space, for
	// ranges spanning orders of magnitude (learning rates, timeouts).
	// Requires Min > 0.
	LogScale bool

	// Values, when set, is the explicit discrete set a parameter ranges
	// over (required for ParamCategorical; optional override for
	// ParamFloat/ParamInt).
	Values []interface{}

	// Condition, when set, includes this parameter in a configuration
	// only when the referenced parameter sampled the given value.
	Condition *Condition
}

// SearchSpace is the set of Parameters an optimizer trial configuration
// is drawn from.
type SearchSpace struct {
	Parameters []Parameter
}

// Config is one concrete assignment of every Parameter in a SearchSpace.
type Config map[string]interface{}

func (p Parameter) validate() error {
	if p.Name == "" {
		return fmt.Errorf("optimize: parameter missing name")
	}
	if p.Type == ParamCategorical && len(p.Values) == 0 {
		return fmt.Errorf("optimize: categorical parameter %q needs values", p.Name)
	}
	if p.Type == ParamFloat || p.Type == ParamInt {
		if len(p.Values) == 0 && p.Min >= p.Max {
			return fmt.Errorf("optimize: parameter %q needs min < max or an explicit values list", p.Name)
		}
		if p.LogScale && p.Min <= 0 {
			return fmt.Errorf("optimize: log-scale parameter %q needs min > 0", p.Name)
		}
	}
	return nil
}

func (s SearchSpace) validate() error {
	if len(s.Parameters) == 0 {
		return fmt.Errorf("optimize: search space has no parameters")
	}
	byName := make(map[string]bool, len(s.Parameters))
	for _, p := range s.Parameters {
		if err := p.validate(); err != nil {
			return err
		}
		byName[p.Name] = true
	}
	declared := make(map[string]bool, len(s.Parameters))
	for _, p := range s.Parameters {
		if p.Condition != nil {
			if !byName[p.Condition.Param] {
				return fmt.Errorf("optimize: parameter %q conditions on unknown parameter %q", p.Name, p.Condition.Param)
			}
			if !declared[p.Condition.Param] {
				return fmt.Errorf("optimize: parameter %q must be declared after %q, which it conditions on", p.Name, p.Condition.Param)
			}
		}
		declared[p.Name] = true
	}
	return nil
}

// Size returns the number of distinct configurations the space spans when
// every parameter is discrete, and finite=false when any float parameter
// ranges over a continuum.
func (s SearchSpace) Size() (size int, finite bool) {
	size = 1
	for _, p := range s.Parameters {
		switch {
		case len(p.Values) > 0:
			size *= len(p.Values)
		case p.Type == ParamBool:
			size *= 2
		case p.Type == ParamInt:
			step := p.Step
			if step <= 0 {
				step = 1
			}
			size *= int(math.Floor((p.Max-p.Min)/step)) + 1
		case p.Type == ParamFloat && p.Step > 0:
			size *= int(math.Floor((p.Max-p.Min)/p.Step)) + 1
		default:
			return 0, false
		}
	}
	return size, true
}

// discreteValues returns the explicit grid a Parameter enumerates: its
// Values if set, else a Min..Max range stepped per Step (or the
// type-specific default step count).
func (p Parameter) discreteValues() []interface{} {
	if len(p.Values) > 0 {
		return p.Values
	}
	switch p.Type {
	case ParamBool:
		return []interface{}{false, true}
	case ParamInt:
		step := p.Step
		if step <= 0 {
			step = 1
		}
		var out []interface{}
		for v := p.Min; v <= p.Max; v += step {
			out = append(out, int(v))
		}
		return out
	default: // ParamFloat
		step := p.Step
		if step <= 0 {
			const defaultSteps = 10
			step = (p.Max - p.Min) / defaultSteps
		}
		var out []interface{}
		if step <= 0 {
			return []interface{}{p.Min}
		}
		for v := p.Min; v <= p.Max+1e-9; v += step {
			out = append(out, v)
		}
		return out
	}
}

// conditionMet reports whether p belongs in cfg given the values sampled
// so far. An unconditioned parameter always belongs.
func (p Parameter) conditionMet(cfg Config) bool {
	if p.Condition == nil {
		return true
	}
	v, ok := cfg[p.Condition.Param]
	return ok && v == p.Condition.Equals
}

// pruneConditions removes assignments whose condition is not met by the
// rest of cfg, so conditional parameters never leak into configurations
// where they don't apply.
func pruneConditions(cfg Config, params []Parameter) Config {
	for _, p := range params {
		if !p.conditionMet(cfg) {
			delete(cfg, p.Name)
		}
	}
	return cfg
}
