package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SpanName is one of the runtime's fixed event names:
// [agent,run,start|end], [model,request,start|end], [tool,execute,start|end].
type SpanName string

const (
	SpanAgentRunStart    SpanName = "agent.run.start"
	SpanAgentRunEnd      SpanName = "agent.run.end"
	SpanModelRequestStart SpanName = "model.request.start"
	SpanModelRequestEnd   SpanName = "model.request.end"
	SpanToolExecuteStart  SpanName = "tool.execute.start"
	SpanToolExecuteEnd    SpanName = "tool.execute.end"
)

// Span is one emitted telemetry event.
type Span struct {
	Name      SpanName
	Timestamp time.Time
	Duration  time.Duration // set only on *End spans
	Fields    []Field
	Err       error // set only on a failed *End span
}

// Handler receives every Span published to a Bus. Handlers must not block
// for long; the Bus invokes handlers synchronously on the publishing
// goroutine so a run's own timing isn't distorted by a slow handler doing
// its own buffering internally.
type Handler interface {
	Handle(ctx context.Context, span Span)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, span Span)

func (f HandlerFunc) Handle(ctx context.Context, span Span) { f(ctx, span) }

// Bus fans a Span out to every subscribed Handler. Handlers register
// under a name so they can be detached again at teardown.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	anon     int
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string]Handler)}
}

// Subscribe registers h under an auto-generated name and returns that
// name so the caller can Unsubscribe later.
func (b *Bus) Subscribe(h Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.anon++
	name := fmt.Sprintf("handler-%d", b.anon)
	b.handlers[name] = h
	return name
}

// SubscribeNamed registers h under name, replacing any handler already
// registered under it.
func (b *Bus) SubscribeNamed(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = h
}

// Unsubscribe detaches the handler registered under name, if any.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, name)
}

// Publish fans span out to all subscribed handlers.
func (b *Bus) Publish(ctx context.Context, span Span) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h.Handle(ctx, span)
	}
}

// Default is the process-wide Bus used when a component isn't given one
// explicitly.
var Default = New()

// LoggingHandler publishes every span as a structured log line through l.
type LoggingHandler struct {
	Logger Logger
}

// NewLoggingHandler returns a Handler that logs through l.
func NewLoggingHandler(l Logger) *LoggingHandler {
	return &LoggingHandler{Logger: l}
}

func (h *LoggingHandler) Handle(ctx context.Context, span Span) {
	fields := append([]Field{F("span", string(span.Name))}, span.Fields...)
	if span.Duration > 0 {
		fields = append(fields, F("duration_ms", span.Duration.Milliseconds()))
	}
	if span.Err != nil {
		fields = append(fields, F("error", span.Err.Error()))
		h.Logger.Error(ctx, string(span.Name), fields...)
		return
	}
	h.Logger.Debug(ctx, string(span.Name), fields...)
}
