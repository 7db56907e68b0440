package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishFanOut(t *testing.T) {
	bus := New()

	var got []Span
	bus.Subscribe(HandlerFunc(func(ctx context.Context, s Span) {
		got = append(got, s)
	}))
	bus.Subscribe(HandlerFunc(func(ctx context.Context, s Span) {
		got = append(got, s)
	}))

	bus.Publish(context.Background(), Span{Name: SpanAgentRunStart, Timestamp: time.Now()})

	require.Len(t, got, 2)
	assert.Equal(t, SpanAgentRunStart, got[0].Name)
}

func TestBusUnsubscribeByName(t *testing.T) {
	bus := New()

	var calls int
	bus.SubscribeNamed("counting", HandlerFunc(func(ctx context.Context, s Span) {
		calls++
	}))

	bus.Publish(context.Background(), Span{Name: SpanModelRequestStart})
	bus.Unsubscribe("counting")
	bus.Publish(context.Background(), Span{Name: SpanModelRequestStart})

	assert.Equal(t, 1, calls)
}

func TestBusSubscribeReturnsDetachableName(t *testing.T) {
	bus := New()

	var calls int
	name := bus.Subscribe(HandlerFunc(func(ctx context.Context, s Span) {
		calls++
	}))
	require.NotEmpty(t, name)

	bus.Publish(context.Background(), Span{Name: SpanAgentRunEnd})
	bus.Unsubscribe(name)
	bus.Publish(context.Background(), Span{Name: SpanAgentRunEnd})

	assert.Equal(t, 1, calls)
}

func TestLoggingHandlerErrorPath(t *testing.T) {
	logger := &recordingLogger{}
	h := NewLoggingHandler(logger)

	h.Handle(context.Background(), Span{
		Name:     SpanToolExecuteEnd,
		Duration: 10 * time.Millisecond,
		Err:      errors.New("boom"),
	})

	require.Len(t, logger.errors, 1)
	assert.Contains(t, logger.errors[0], "tool.execute.end")
}

type recordingLogger struct {
	errors []string
}

func (r *recordingLogger) Debug(context.Context, string, ...Field) {}
func (r *recordingLogger) Info(context.Context, string, ...Field)  {}
func (r *recordingLogger) Warn(context.Context, string, ...Field)  {}
func (r *recordingLogger) Error(ctx context.Context, msg string, fields ...Field) {
	r.errors = append(r.errors, msg)
}
