package eval

import (
	"context"
	"testing"
	"time"

	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuiteValidateRejectsEmptyName(t *testing.T) {
	s := &Suite{TestCases: []TestCase{{ID: "1", Input: "hi", EvalType: "exact_match"}}}
	require.Error(t, s.Validate())
}

func TestSuiteValidateRejectsNoCases(t *testing.T) {
	s := &Suite{Name: "s"}
	require.Error(t, s.Validate())
}

func TestSuiteValidateRejectsDuplicateIDs(t *testing.T) {
	s := &Suite{Name: "s", TestCases: []TestCase{
		{ID: "1", Input: "hi", EvalType: "exact_match"},
		{ID: "1", Input: "bye", EvalType: "exact_match"},
	}}
	require.Error(t, s.Validate())
}

func TestFilterByTagsIncludeExclude(t *testing.T) {
	s := &Suite{TestCases: []TestCase{
		{ID: "1", Tags: []string{"smoke"}},
		{ID: "2", Tags: []string{"slow"}},
		{ID: "3", Tags: []string{"smoke", "slow"}},
	}}
	got := s.FilterByTags([]string{"smoke"}, []string{"slow"})
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
}

func TestExactMatch(t *testing.T) {
	tc := TestCase{Expected: "hello"}
	r, err := exactMatch(context.Background(), Outcome{Output: "hello"}, tc)
	require.NoError(t, err)
	assert.True(t, r.Passed)
	assert.Equal(t, 1.0, r.Score)

	r, err = exactMatch(context.Background(), Outcome{Output: "goodbye"}, tc)
	require.NoError(t, err)
	assert.False(t, r.Passed)
}

func TestFuzzyMatch(t *testing.T) {
	tc := TestCase{Expected: "hello world"}
	r, err := fuzzyMatch(context.Background(), Outcome{Output: "hello world"}, tc)
	require.NoError(t, err)
	assert.True(t, r.Passed)
	assert.InDelta(t, 1.0, r.Score, 1e-9)
}

func TestContainsAllMode(t *testing.T) {
	tc := TestCase{EvalConfig: map[string]interface{}{
		"substrings": []interface{}{"foo", "bar"},
	}}
	r, err := contains(context.Background(), Outcome{Output: "foo and bar"}, tc)
	require.NoError(t, err)
	assert.True(t, r.Passed)

	r, err = contains(context.Background(), Outcome{Output: "only foo"}, tc)
	require.NoError(t, err)
	assert.False(t, r.Passed)
	assert.Equal(t, 0.5, r.Score)
}

func TestContainsAnyMode(t *testing.T) {
	tc := TestCase{EvalConfig: map[string]interface{}{
		"mode":       "any",
		"substrings": []interface{}{"foo", "bar"},
	}}
	r, err := contains(context.Background(), Outcome{Output: "only foo"}, tc)
	require.NoError(t, err)
	assert.True(t, r.Passed)
}

func TestToolUsagePassesWhenCalledAndArgsMatch(t *testing.T) {
	tc := TestCase{EvalConfig: map[string]interface{}{
		"tools_called":     []interface{}{"search"},
		"tools_not_called": []interface{}{"delete"},
		"args_contain": map[string]interface{}{
			"search": map[string]interface{}{"query": "go"},
		},
	}}
	outcome := Outcome{ToolCalls: []tool.Call{
		{Name: "search", Arguments: map[string]interface{}{"query": "go", "limit": 10}},
	}}
	r, err := toolUsage(context.Background(), outcome, tc)
	require.NoError(t, err)
	assert.True(t, r.Passed)
}

func TestToolUsageFailsOnForbiddenCall(t *testing.T) {
	tc := TestCase{EvalConfig: map[string]interface{}{
		"tools_not_called": []interface{}{"delete"},
	}}
	outcome := Outcome{ToolCalls: []tool.Call{{Name: "delete"}}}
	r, err := toolUsage(context.Background(), outcome, tc)
	require.NoError(t, err)
	assert.False(t, r.Passed)
}

func TestSchemaEval(t *testing.T) {
	tc := TestCase{EvalConfig: map[string]interface{}{
		"schema": map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"answer"},
		},
	}}
	r, err := schemaEval(context.Background(), Outcome{Output: `{"answer":"42"}`}, tc)
	require.NoError(t, err)
	assert.True(t, r.Passed)

	r, err = schemaEval(context.Background(), Outcome{Output: `{}`}, tc)
	require.NoError(t, err)
	assert.False(t, r.Passed)
}

func TestLLMJudge(t *testing.T) {
	judge := LLMJudge(func(ctx context.Context, output, criteria string) (float64, string, error) {
		return 0.9, "looks correct", nil
	})
	tc := TestCase{EvalConfig: map[string]interface{}{"criteria": "is it correct?", "min_score": 0.8}}
	r, err := judge.Evaluate(context.Background(), Outcome{Output: "42"}, tc)
	require.NoError(t, err)
	assert.True(t, r.Passed)
	assert.Equal(t, 0.9, r.Score)
}

func TestCustomEvaluatorViaRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("custom", EvaluatorFunc(func(ctx context.Context, o Outcome, tc TestCase) (Result, error) {
		return Result{Passed: len(o.Output) > 0, Score: 1}, nil
	}))
	e, ok := reg.Get("custom")
	require.True(t, ok)
	r, err := e.Evaluate(context.Background(), Outcome{Output: "x"}, TestCase{})
	require.NoError(t, err)
	assert.True(t, r.Passed)
}

func TestRunAggregatesPassRateAndLatency(t *testing.T) {
	suite := &Suite{
		Name: "s",
		TestCases: []TestCase{
			{ID: "1", Input: "hi", EvalType: "exact_match", Expected: "ok"},
			{ID: "2", Input: "hi", EvalType: "exact_match", Expected: "ok"},
			{ID: "3", Input: "hi", EvalType: "exact_match", Expected: "ok"},
		},
	}
	registry := NewRegistry()
	runFn := func(ctx context.Context, tc TestCase, deps map[string]interface{}) (Outcome, message.Usage, error) {
		if tc.ID == "3" {
			return Outcome{Output: "wrong"}, message.Usage{TotalTokens: 10}, nil
		}
		return Outcome{Output: "ok"}, message.Usage{TotalTokens: 10}, nil
	}

	result, err := Run(context.Background(), suite, registry, runFn, RunOptions{Parallelism: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, 2, result.PassCount)
	assert.InDelta(t, 2.0/3.0, result.PassRate, 1e-9)
	assert.Equal(t, 30, result.TotalTokens)
}

func TestRunRetriesFailedCases(t *testing.T) {
	suite := &Suite{
		Name:      "s",
		TestCases: []TestCase{{ID: "1", Input: "hi", EvalType: "exact_match", Expected: "ok"}},
	}
	registry := NewRegistry()
	attempts := 0
	runFn := func(ctx context.Context, tc TestCase, deps map[string]interface{}) (Outcome, message.Usage, error) {
		attempts++
		if attempts < 2 {
			return Outcome{}, message.Usage{}, assertError{}
		}
		return Outcome{Output: "ok"}, message.Usage{}, nil
	}

	result, err := Run(context.Background(), suite, registry, runFn, RunOptions{RetryFailed: 2})
	require.NoError(t, err)
	require.Len(t, result.CaseResults, 1)
	assert.True(t, result.CaseResults[0].Passed)
	assert.Equal(t, 2, attempts)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestRunRespectsCaseTimeout(t *testing.T) {
	suite := &Suite{
		Name:      "s",
		TestCases: []TestCase{{ID: "1", Input: "hi", EvalType: "exact_match", Expected: "ok", Timeout: 10 * time.Millisecond}},
	}
	registry := NewRegistry()
	runFn := func(ctx context.Context, tc TestCase, deps map[string]interface{}) (Outcome, message.Usage, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return Outcome{Output: "ok"}, message.Usage{}, nil
		case <-ctx.Done():
			return Outcome{}, message.Usage{}, ctx.Err()
		}
	}

	result, err := Run(context.Background(), suite, registry, runFn, RunOptions{})
	require.NoError(t, err)
	require.Len(t, result.CaseResults, 1)
	assert.True(t, result.CaseResults[0].Timeout)
}

func TestCompareABDeclaresWinner(t *testing.T) {
	suite := &Suite{
		Name:      "s",
		TestCases: []TestCase{{ID: "1", Input: "hi", EvalType: "exact_match", Expected: "ok"}},
	}
	registry := NewRegistry()
	runA := func(ctx context.Context, tc TestCase, deps map[string]interface{}) (Outcome, message.Usage, error) {
		return Outcome{Output: "ok"}, message.Usage{}, nil
	}
	runB := func(ctx context.Context, tc TestCase, deps map[string]interface{}) (Outcome, message.Usage, error) {
		return Outcome{Output: "nope"}, message.Usage{}, nil
	}

	ab, err := CompareAB(context.Background(), suite, registry, runA, runB, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "a", ab.Winner)
}

func TestCompositeEvalAllOfDefaultMode(t *testing.T) {
	reg := NewRegistry()
	tc := TestCase{EvalConfig: map[string]interface{}{
		"checks": map[string]interface{}{
			"has_foo": map[string]interface{}{
				"eval_type":   "contains",
				"eval_config": map[string]interface{}{"substrings": []interface{}{"foo"}},
			},
			"has_bar": map[string]interface{}{
				"eval_type":   "contains",
				"eval_config": map[string]interface{}{"substrings": []interface{}{"bar"}},
			},
		},
	}}
	e, ok := reg.Get("composite")
	require.True(t, ok)

	r, err := e.Evaluate(context.Background(), Outcome{Output: "foo and bar"}, tc)
	require.NoError(t, err)
	assert.True(t, r.Passed)

	r, err = e.Evaluate(context.Background(), Outcome{Output: "only foo"}, tc)
	require.NoError(t, err)
	assert.False(t, r.Passed)
	assert.Equal(t, 0.5, r.Score)
}

func TestCompositeEvalAnyOfMode(t *testing.T) {
	reg := NewRegistry()
	tc := TestCase{EvalConfig: map[string]interface{}{
		"mode": "any_of",
		"checks": map[string]interface{}{
			"has_foo": map[string]interface{}{
				"eval_type":   "contains",
				"eval_config": map[string]interface{}{"substrings": []interface{}{"foo"}},
			},
			"has_bar": map[string]interface{}{
				"eval_type":   "contains",
				"eval_config": map[string]interface{}{"substrings": []interface{}{"bar"}},
			},
		},
	}}
	e, ok := reg.Get("composite")
	require.True(t, ok)

	r, err := e.Evaluate(context.Background(), Outcome{Output: "only foo"}, tc)
	require.NoError(t, err)
	assert.True(t, r.Passed)
}

func TestCompositeEvalExplicitExpression(t *testing.T) {
	reg := NewRegistry()
	tc := TestCase{EvalConfig: map[string]interface{}{
		"expression": "has_foo && !has_bar",
		"checks": map[string]interface{}{
			"has_foo": map[string]interface{}{
				"eval_type":   "contains",
				"eval_config": map[string]interface{}{"substrings": []interface{}{"foo"}},
			},
			"has_bar": map[string]interface{}{
				"eval_type":   "contains",
				"eval_config": map[string]interface{}{"substrings": []interface{}{"bar"}},
			},
		},
	}}
	e, ok := reg.Get("composite")
	require.True(t, ok)

	r, err := e.Evaluate(context.Background(), Outcome{Output: "only foo"}, tc)
	require.NoError(t, err)
	assert.True(t, r.Passed)
}

func TestJaroWinklerIdenticalStringsScoreOne(t *testing.T) {
	assert.InDelta(t, 1.0, jaroWinkler("agentrun", "agentrun"), 1e-9)
}

func TestJaroWinklerCompletelyDifferentScoresLow(t *testing.T) {
	assert.Less(t, jaroWinkler("abc", "xyz"), 0.5)
}
