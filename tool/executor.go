package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nguyenthanhtuan/agentrun/agent/agenterr"
	"github.com/nguyenthanhtuan/agentrun/telemetry"
)

// defaultTimeout is applied to a Call when its Tool has no Timeout set.
const defaultTimeout = 30 * time.Second

// retryBaseDelay and retryFactor drive Executor's exponential backoff
// between retry attempts for a Tool with Retries > 0.
const (
	retryBaseDelay = 100 * time.Millisecond
	retryFactor    = 2
	retryCap       = 5 * time.Second
)

// Executor runs Calls against a registered set of Tools, in parallel when
// there is more than one pending call, bounded by a semaphore worker pool.
type Executor struct {
	Tools      map[string]*Tool
	MaxWorkers int
	Logger     telemetry.Logger
	Telemetry  *telemetry.Bus
}

// NewExecutor builds an Executor over the given tools, keyed by name.
func NewExecutor(tools []*Tool) *Executor {
	byName := make(map[string]*Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	return &Executor{Tools: byName, MaxWorkers: 10, Logger: telemetry.NoopLogger{}, Telemetry: telemetry.Default}
}

// ExecuteAll runs every call, in parallel when there's more than one,
// preserving the original call order in the returned results. If any call
// fails it returns nil results, nil patches and the error of the first
// failing call in call order. rc carries the caller's deps
// through to every call's Func.
func (e *Executor) ExecuteAll(ctx context.Context, rc *RunContext, calls []Call) ([]Result, []ContextPatch, error) {
	if len(calls) == 0 {
		return nil, nil, nil
	}
	if len(calls) == 1 {
		return e.executeSequential(ctx, rc, calls)
	}
	return e.executeParallel(ctx, rc, calls)
}

type callOutcome struct {
	index    int
	result   Result
	patch    ContextPatch
	err      error
	duration time.Duration
}

func (e *Executor) executeParallel(ctx context.Context, rc *RunContext, calls []Call) ([]Result, []ContextPatch, error) {
	maxWorkers := e.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if len(calls) < maxWorkers {
		maxWorkers = len(calls)
	}

	outcomes := make(chan callOutcome, len(calls))
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(index int, c Call) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			result, patch, err := e.executeOne(ctx, rc, c)
			outcomes <- callOutcome{index: index, result: result, patch: patch, err: err, duration: time.Since(start)}
		}(i, call)
	}

	wg.Wait()
	close(outcomes)

	byIndex := make(map[int]callOutcome, len(calls))
	successCount, failureCount := 0, 0
	for o := range outcomes {
		byIndex[o.index] = o
		if o.err != nil {
			failureCount++
		} else {
			successCount++
		}
	}

	e.Logger.Info(ctx, "parallel tool execution completed",
		telemetry.F("total_tools", len(calls)),
		telemetry.F("success_count", successCount),
		telemetry.F("failure_count", failureCount),
		telemetry.F("max_workers", maxWorkers))

	results := make([]Result, 0, len(calls))
	var patches []ContextPatch
	for i := 0; i < len(calls); i++ {
		o := byIndex[i]
		if o.err != nil {
			return nil, nil, fmt.Errorf("tool execution failed (%s): %w", calls[i].Name, o.err)
		}
		results = append(results, o.result)
		patches = append(patches, o.patch)
	}
	return results, patches, nil
}

func (e *Executor) executeSequential(ctx context.Context, rc *RunContext, calls []Call) ([]Result, []ContextPatch, error) {
	results := make([]Result, 0, len(calls))
	var patches []ContextPatch

	for _, call := range calls {
		start := time.Now()
		result, patch, err := e.executeOne(ctx, rc, call)
		duration := time.Since(start)

		if err != nil {
			e.Logger.Error(ctx, "tool execution failed",
				telemetry.F("tool_name", call.Name),
				telemetry.F("error", err.Error()),
				telemetry.F("duration_ms", duration.Milliseconds()))
			return nil, nil, fmt.Errorf("tool execution failed (%s): %w", call.Name, err)
		}

		e.Logger.Debug(ctx, "tool execution succeeded",
			telemetry.F("tool_name", call.Name),
			telemetry.F("duration_ms", duration.Milliseconds()))

		results = append(results, result)
		patches = append(patches, patch)
	}
	return results, patches, nil
}

// executeOne runs a single call with its tool's timeout and retry
// policy, recovering from a panicking handler.
func (e *Executor) executeOne(ctx context.Context, rc *RunContext, call Call) (Result, ContextPatch, error) {
	name := sanitizeName(call.Name)
	t, ok := e.Tools[name]
	if !ok {
		return Result{}, ContextPatch{}, agenterr.New(agenterr.KindTool, fmt.Sprintf("Tool not found: %s", name))
	}

	attempts := t.Retries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{}, ContextPatch{}, ctx.Err()
			}
		}

		start := time.Now()
		e.publish(ctx, telemetry.Span{Name: telemetry.SpanToolExecuteStart, Timestamp: start,
			Fields: []telemetry.Field{telemetry.F("tool", name), telemetry.F("attempt", attempt)}})

		result, patch, err := e.runOnce(ctx, rc, t, call)

		e.publish(ctx, telemetry.Span{Name: telemetry.SpanToolExecuteEnd, Timestamp: time.Now(), Duration: time.Since(start),
			Fields: []telemetry.Field{telemetry.F("tool", name), telemetry.F("attempt", attempt)}, Err: err})

		if err == nil {
			return result, patch, nil
		}
		lastErr = err
	}

	// A timeout keeps its own kind through the final wrap so callers can
	// tell "tool_timeout" apart from an ordinary tool failure.
	kind := agenterr.KindTool
	if agenterr.IsKind(lastErr, agenterr.KindTimeout) {
		kind = agenterr.KindTimeout
	}
	return Result{}, ContextPatch{}, agenterr.Wrap(kind,
		fmt.Sprintf("tool %q failed after %d attempt(s)", name, attempts), lastErr)
}

func (e *Executor) runOnce(ctx context.Context, rc *RunContext, t *Tool, call Call) (Result, ContextPatch, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type output struct {
		content string
		patch   ContextPatch
		err     error
	}
	done := make(chan output, 1)

	go func() {
		var out output
		defer func() {
			if r := recover(); r != nil {
				out = output{err: fmt.Errorf("tool panicked: %v", r)}
			}
			done <- out
		}()
		out.content, out.patch, out.err = t.Func(execCtx, rc, call.Arguments)
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return Result{}, ContextPatch{}, out.err
		}
		return Result{CallID: call.ID, Content: out.content}, out.patch, nil
	case <-execCtx.Done():
		return Result{}, ContextPatch{}, agenterr.New(agenterr.KindTimeout,
			fmt.Sprintf("tool execution timed out after %v", timeout))
	}
}

func (e *Executor) publish(ctx context.Context, span telemetry.Span) {
	if e.Telemetry != nil {
		e.Telemetry.Publish(ctx, span)
	}
}

func backoffDelay(attempt int) time.Duration {
	d := retryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= retryFactor
		if d > retryCap {
			return retryCap
		}
	}
	return d
}
