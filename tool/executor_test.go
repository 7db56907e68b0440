package tool

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyenthanhtuan/agentrun/agent/agenterr"
)

func echoTool(name string) *Tool {
	return New(name, "echoes back").WithFunc(func(ctx context.Context, _ *RunContext, args map[string]interface{}) (string, ContextPatch, error) {
		return fmt.Sprintf("%v", args["x"]), ContextPatch{}, nil
	})
}

func TestExecuteAllSingleCall(t *testing.T) {
	exec := NewExecutor([]*Tool{echoTool("echo")})
	results, _, err := exec.ExecuteAll(context.Background(), &RunContext{}, []Call{
		{ID: "1", Name: "echo", Arguments: map[string]interface{}{"x": "hi"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hi", results[0].Content)
}

func TestExecuteAllParallelPreservesOrder(t *testing.T) {
	exec := NewExecutor([]*Tool{echoTool("echo")})
	calls := []Call{
		{ID: "1", Name: "echo", Arguments: map[string]interface{}{"x": "a"}},
		{ID: "2", Name: "echo", Arguments: map[string]interface{}{"x": "b"}},
		{ID: "3", Name: "echo", Arguments: map[string]interface{}{"x": "c"}},
	}
	results, _, err := exec.ExecuteAll(context.Background(), &RunContext{}, calls)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{results[0].Content, results[1].Content, results[2].Content})
}

func TestExecuteUnknownTool(t *testing.T) {
	exec := NewExecutor(nil)
	_, _, err := exec.ExecuteAll(context.Background(), &RunContext{}, []Call{{ID: "1", Name: "missing"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tool not found: missing")
}

func TestExecutePanicRecovered(t *testing.T) {
	panicky := New("boom", "panics").WithFunc(func(ctx context.Context, _ *RunContext, args map[string]interface{}) (string, ContextPatch, error) {
		panic("kaboom")
	})
	exec := NewExecutor([]*Tool{panicky})
	_, _, err := exec.ExecuteAll(context.Background(), &RunContext{}, []Call{{ID: "1", Name: "boom"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	var calls int32
	flaky := New("flaky", "fails twice then succeeds")
	flaky.Retries = 2
	flaky.Func = func(ctx context.Context, _ *RunContext, args map[string]interface{}) (string, ContextPatch, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return "", ContextPatch{}, fmt.Errorf("transient")
		}
		return "ok", ContextPatch{}, nil
	}

	exec := NewExecutor([]*Tool{flaky})
	results, _, err := exec.ExecuteAll(context.Background(), &RunContext{}, []Call{{ID: "1", Name: "flaky"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Content)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecuteTimeout(t *testing.T) {
	slow := New("slow", "never returns").WithFunc(func(ctx context.Context, _ *RunContext, args map[string]interface{}) (string, ContextPatch, error) {
		<-ctx.Done()
		return "", ContextPatch{}, ctx.Err()
	})
	slow.Timeout = 20 * time.Millisecond

	exec := NewExecutor([]*Tool{slow})
	_, _, err := exec.ExecuteAll(context.Background(), &RunContext{}, []Call{{ID: "1", Name: "slow"}})
	require.Error(t, err)
	assert.True(t, agenterr.IsKind(err, agenterr.KindTimeout))
}

func TestExecuteContextPatchPropagates(t *testing.T) {
	setter := New("setter", "sets a dep").WithFunc(func(ctx context.Context, rc *RunContext, args map[string]interface{}) (string, ContextPatch, error) {
		return "done", ContextPatch{Set: map[string]interface{}{"k": "v"}}, nil
	})
	exec := NewExecutor([]*Tool{setter})
	_, patches, err := exec.ExecuteAll(context.Background(), &RunContext{Deps: map[string]interface{}{}}, []Call{{ID: "1", Name: "setter"}})
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, "v", patches[0].Set["k"])
}

func TestExecuteReceivesDeps(t *testing.T) {
	reader := New("reader", "reads a dep").WithFunc(func(ctx context.Context, rc *RunContext, args map[string]interface{}) (string, ContextPatch, error) {
		v, _ := rc.Deps["user_id"].(string)
		return v, ContextPatch{}, nil
	})
	exec := NewExecutor([]*Tool{reader})
	results, _, err := exec.ExecuteAll(context.Background(), &RunContext{Deps: map[string]interface{}{"user_id": "abc"}}, []Call{{ID: "1", Name: "reader"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "abc", results[0].Content)
}
