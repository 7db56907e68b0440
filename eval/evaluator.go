package eval

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/nguyenthanhtuan/agentrun/structured"
	"github.com/nguyenthanhtuan/agentrun/tool"
)

// Outcome is what a case run produced, passed to an Evaluator alongside
// the TestCase that requested it.
type Outcome struct {
	Output    string
	ToolCalls []tool.Call
}

// Result is the verdict every evaluator kind produces.
type Result struct {
	Passed  bool
	Score   float64
	Reason  string
	Details map[string]interface{}
}

// Evaluator scores one case Outcome against its TestCase.
type Evaluator interface {
	Evaluate(ctx context.Context, outcome Outcome, tc TestCase) (Result, error)
}

// EvaluatorFunc adapts a plain function to Evaluator; this is what a
// "custom" evaluator is — a caller-supplied function with the same
// signature as every built-in.
type EvaluatorFunc func(ctx context.Context, outcome Outcome, tc TestCase) (Result, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, outcome Outcome, tc TestCase) (Result, error) {
	return f(ctx, outcome, tc)
}

// Registry resolves a TestCase's eval_type string to an Evaluator.
type Registry struct {
	evaluators map[string]Evaluator
}

// NewRegistry returns a Registry with the stateless built-ins
// (exact_match, fuzzy_match, contains, tool_usage, schema, composite)
// pre-registered.
// llm_judge and custom depend on caller-supplied functions (a judge agent,
// a bespoke scoring routine) and must be registered explicitly via
// Register.
func NewRegistry() *Registry {
	r := &Registry{evaluators: make(map[string]Evaluator)}
	r.Register("exact_match", EvaluatorFunc(exactMatch))
	r.Register("fuzzy_match", EvaluatorFunc(fuzzyMatch))
	r.Register("contains", EvaluatorFunc(contains))
	r.Register("tool_usage", EvaluatorFunc(toolUsage))
	r.Register("schema", EvaluatorFunc(schemaEval))
	r.Register("composite", EvaluatorFunc(func(ctx context.Context, outcome Outcome, tc TestCase) (Result, error) {
		return compositeEval(ctx, outcome, tc, r)
	}))
	return r
}

// Register adds or replaces the Evaluator for name.
func (r *Registry) Register(name string, e Evaluator) { r.evaluators[name] = e }

// Get resolves name to an Evaluator.
func (r *Registry) Get(name string) (Evaluator, bool) {
	e, ok := r.evaluators[name]
	return e, ok
}

func expectedString(tc TestCase) string {
	if s, ok := tc.Expected.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", tc.Expected)
}

func exactMatch(_ context.Context, outcome Outcome, tc TestCase) (Result, error) {
	if outcome.Output == expectedString(tc) {
		return Result{Passed: true, Score: 1}, nil
	}
	return Result{Passed: false, Score: 0, Reason: "output did not match expected value exactly"}, nil
}

func fuzzyMatch(_ context.Context, outcome Outcome, tc TestCase) (Result, error) {
	threshold := 0.8
	if v, ok := tc.EvalConfig["threshold"].(float64); ok {
		threshold = v
	}
	sim := jaroWinkler(outcome.Output, expectedString(tc))
	return Result{
		Passed:  sim >= threshold,
		Score:   sim,
		Reason:  fmt.Sprintf("jaro-winkler similarity %.3f (threshold %.3f)", sim, threshold),
		Details: map[string]interface{}{"similarity": sim, "threshold": threshold},
	}, nil
}

func contains(_ context.Context, outcome Outcome, tc TestCase) (Result, error) {
	mode, _ := tc.EvalConfig["mode"].(string)
	if mode == "" {
		mode = "all"
	}
	substrings := stringSliceConfig(tc.EvalConfig, "substrings")
	patterns := stringSliceConfig(tc.EvalConfig, "patterns")

	total := len(substrings) + len(patterns)
	if total == 0 {
		return Result{Passed: true, Score: 1, Reason: "no substrings or patterns configured"}, nil
	}

	matched := 0
	for _, s := range substrings {
		if strings.Contains(outcome.Output, s) {
			matched++
		}
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return Result{}, fmt.Errorf("eval: invalid contains pattern %q: %w", p, err)
		}
		if re.MatchString(outcome.Output) {
			matched++
		}
	}

	score := float64(matched) / float64(total)
	passed := matched == total
	if mode == "any" {
		passed = matched > 0
	}
	return Result{Passed: passed, Score: score, Reason: fmt.Sprintf("%d/%d matched", matched, total)}, nil
}

func stringSliceConfig(cfg map[string]interface{}, key string) []string {
	raw, ok := cfg[key].([]interface{})
	if !ok {
		if s, ok := cfg[key].([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toolUsage(_ context.Context, outcome Outcome, tc TestCase) (Result, error) {
	called := make(map[string]int, len(outcome.ToolCalls))
	for _, c := range outcome.ToolCalls {
		called[c.Name]++
	}

	var missing, forbidden []string
	for _, name := range stringSliceConfig(tc.EvalConfig, "tools_called") {
		if called[name] == 0 {
			missing = append(missing, name)
		}
	}
	for _, name := range stringSliceConfig(tc.EvalConfig, "tools_not_called") {
		if called[name] > 0 {
			forbidden = append(forbidden, name)
		}
	}

	var countMismatches []string
	if callCount, ok := tc.EvalConfig["call_count"].(map[string]interface{}); ok {
		for name, want := range callCount {
			wantN, ok := toInt(want)
			if ok && called[name] != wantN {
				countMismatches = append(countMismatches, fmt.Sprintf("%s: want %d got %d", name, wantN, called[name]))
			}
		}
	}

	var argMismatches []string
	if argsContain, ok := tc.EvalConfig["args_contain"].(map[string]interface{}); ok {
		for name, expectedArgs := range argsContain {
			expectedMap, ok := expectedArgs.(map[string]interface{})
			if !ok {
				continue
			}
			if !anyCallArgsSuperset(outcome.ToolCalls, name, expectedMap) {
				argMismatches = append(argMismatches, name)
			}
		}
	}

	callCountLen := 0
	if cc, ok := tc.EvalConfig["call_count"].(map[string]interface{}); ok {
		callCountLen = len(cc)
	}
	argsContainLen := 0
	if ac, ok := tc.EvalConfig["args_contain"].(map[string]interface{}); ok {
		argsContainLen = len(ac)
	}
	total := len(stringSliceConfig(tc.EvalConfig, "tools_called")) +
		len(stringSliceConfig(tc.EvalConfig, "tools_not_called")) +
		callCountLen + argsContainLen
	failures := len(missing) + len(forbidden) + len(countMismatches) + len(argMismatches)
	passed := failures == 0

	score := 1.0
	if total > 0 {
		score = 1 - float64(failures)/float64(total)
		if score < 0 {
			score = 0
		}
	}

	reason := "all tool-usage expectations met"
	if !passed {
		reason = fmt.Sprintf("missing=%v forbidden=%v count_mismatches=%v arg_mismatches=%v", missing, forbidden, countMismatches, argMismatches)
	}
	return Result{Passed: passed, Score: score, Reason: reason}, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func anyCallArgsSuperset(calls []tool.Call, name string, expected map[string]interface{}) bool {
	for _, c := range calls {
		if c.Name != name {
			continue
		}
		if isSuperset(c.Arguments, expected) {
			return true
		}
	}
	return false
}

func isSuperset(actual, expected map[string]interface{}) bool {
	for k, v := range expected {
		av, ok := actual[k]
		if !ok || !reflect.DeepEqual(av, v) {
			return false
		}
	}
	return true
}

func schemaEval(_ context.Context, outcome Outcome, tc TestCase) (Result, error) {
	raw, ok := tc.EvalConfig["schema"].(map[string]interface{})
	if !ok {
		return Result{}, fmt.Errorf("eval: schema evaluator requires eval_config.schema")
	}
	schema := structured.Schema{Name: tc.ID, Raw: raw}
	_, fieldErrs, err := structured.Validate(schema, outcome.Output)
	if err != nil {
		return Result{Passed: false, Score: 0, Reason: err.Error()}, nil
	}
	if len(fieldErrs) > 0 {
		return Result{Passed: false, Score: 0, Reason: structured.RetryMessage(fieldErrs)}, nil
	}
	return Result{Passed: true, Score: 1}, nil
}

// compositeEval combines named sub-checks (each itself any registered
// eval_type) into a single verdict via a boolean expression over their
// pass/fail outcomes. eval_config.checks maps a name to
// {eval_type, eval_config?, expected?}; eval_config.expression is a
// govaluate boolean expression referencing those names (e.g.
// "contains_greeting && !mentions_error"). When expression is omitted,
// eval_config.mode selects "all_of" (default, &&-joins every check) or
// "any_of" (||-joins them).
func compositeEval(ctx context.Context, outcome Outcome, tc TestCase, registry *Registry) (Result, error) {
	checksCfg, ok := tc.EvalConfig["checks"].(map[string]interface{})
	if !ok || len(checksCfg) == 0 {
		return Result{}, fmt.Errorf("eval: composite evaluator requires eval_config.checks")
	}

	params := make(map[string]interface{}, len(checksCfg))
	details := make(map[string]interface{}, len(checksCfg))
	names := make([]string, 0, len(checksCfg))
	for name, raw := range checksCfg {
		names = append(names, name)
		checkSpec, ok := raw.(map[string]interface{})
		if !ok {
			return Result{}, fmt.Errorf("eval: composite check %q must be a map", name)
		}
		evalType, _ := checkSpec["eval_type"].(string)
		evaluator, ok := registry.Get(evalType)
		if !ok {
			return Result{}, fmt.Errorf("eval: composite check %q references unknown eval_type %q", name, evalType)
		}
		subConfig, _ := checkSpec["eval_config"].(map[string]interface{})
		subCase := TestCase{ID: tc.ID + "/" + name, Expected: checkSpec["expected"], EvalType: evalType, EvalConfig: subConfig}
		res, err := evaluator.Evaluate(ctx, outcome, subCase)
		if err != nil {
			return Result{}, fmt.Errorf("eval: composite check %q failed: %w", name, err)
		}
		params[name] = res.Passed
		details[name] = res
	}

	expr, _ := tc.EvalConfig["expression"].(string)
	if expr == "" {
		joiner := " && "
		if mode, _ := tc.EvalConfig["mode"].(string); mode == "any_of" {
			joiner = " || "
		}
		expr = strings.Join(names, joiner)
	}

	evaluable, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return Result{}, fmt.Errorf("eval: invalid composite expression %q: %w", expr, err)
	}
	verdict, err := evaluable.Evaluate(params)
	if err != nil {
		return Result{}, fmt.Errorf("eval: composite expression evaluation failed: %w", err)
	}
	passed, ok := verdict.(bool)
	if !ok {
		return Result{}, fmt.Errorf("eval: composite expression %q did not evaluate to a boolean", expr)
	}

	passCount := 0
	for _, v := range params {
		if v.(bool) {
			passCount++
		}
	}
	score := 0.0
	if len(params) > 0 {
		score = float64(passCount) / float64(len(params))
	}

	return Result{
		Passed:  passed,
		Score:   score,
		Reason:  fmt.Sprintf("composite expression %q evaluated to %v", expr, passed),
		Details: details,
	}, nil
}

// JudgeFunc calls a separate judge-agent with a criteria prompt and
// returns its numeric score, for the llm_judge evaluator kind.
type JudgeFunc func(ctx context.Context, output, criteria string) (score float64, reason string, err error)

// LLMJudge builds the llm_judge evaluator around judge. tc.EvalConfig
// must carry "criteria" (string) and may carry "min_score" (default 0.7).
func LLMJudge(judge JudgeFunc) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, outcome Outcome, tc TestCase) (Result, error) {
		criteria, _ := tc.EvalConfig["criteria"].(string)
		minScore := 0.7
		if v, ok := tc.EvalConfig["min_score"].(float64); ok {
			minScore = v
		}
		score, reason, err := judge(ctx, outcome.Output, criteria)
		if err != nil {
			return Result{}, err
		}
		return Result{Passed: score >= minScore, Score: score, Reason: reason}, nil
	})
}
