package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PromHandler records span counts and durations as Prometheus metrics. It
// registers its collectors against reg, which callers typically pass as
// prometheus.DefaultRegisterer.
type PromHandler struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewPromHandler builds and registers a PromHandler's collectors.
func NewPromHandler(reg prometheus.Registerer) (*PromHandler, error) {
	h := &PromHandler{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentrun",
			Name:      "span_duration_seconds",
			Help:      "Duration of agentrun spans by name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"span"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrun",
			Name:      "span_errors_total",
			Help:      "Count of agentrun spans that ended in an error.",
		}, []string{"span"}),
	}
	if err := reg.Register(h.duration); err != nil {
		return nil, err
	}
	if err := reg.Register(h.errors); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *PromHandler) Handle(ctx context.Context, span Span) {
	if span.Duration == 0 {
		return
	}
	h.duration.WithLabelValues(string(span.Name)).Observe(span.Duration.Seconds())
	if span.Err != nil {
		h.errors.WithLabelValues(string(span.Name)).Inc()
	}
}
