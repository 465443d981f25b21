package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rpattn/querykit/internal/query"
)

// Metrics holds the collectors recorded for executed requests.
type Metrics struct {
	// Executions counts terminal calls by entity, mode and status.
	Executions *prometheus.CounterVec
	// Duration is the latency of terminal calls in seconds.
	Duration *prometheus.HistogramVec
}

// NewMetrics registers the query collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querykit_executions_total",
				Help: "Total number of executed queries",
			},
			[]string{"entity", "mode", "status"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querykit_execution_duration_seconds",
				Help:    "Query execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"entity", "mode"},
		),
	}
}

// InstrumentedExecutor records metrics for every request it forwards.
type InstrumentedExecutor struct {
	next    query.Executor
	metrics *Metrics
}

// Instrument wraps next so each terminal call is recorded in m.
func Instrument(next query.Executor, m *Metrics) *InstrumentedExecutor {
	return &InstrumentedExecutor{next: next, metrics: m}
}

func (i *InstrumentedExecutor) ExecuteCount(ctx context.Context, req query.Request) (int64, error) {
	start := time.Now()
	n, err := i.next.ExecuteCount(ctx, req)
	i.observe(req, start, err)
	return n, err
}

func (i *InstrumentedExecutor) ExecuteFetch(ctx context.Context, req query.Request) (query.Rows, error) {
	start := time.Now()
	rows, err := i.next.ExecuteFetch(ctx, req)
	i.observe(req, start, err)
	return rows, err
}

func (i *InstrumentedExecutor) ExecuteAggregate(ctx context.Context, req query.Request, aggregates []query.Annotation) (map[string]any, error) {
	agg, ok := i.next.(query.AggregateExecutor)
	if !ok {
		return nil, query.ErrAggregateUnsupported
	}
	start := time.Now()
	result, err := agg.ExecuteAggregate(ctx, req, aggregates)
	i.observe(req, start, err)
	return result, err
}

func (i *InstrumentedExecutor) observe(req query.Request, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	i.metrics.Executions.WithLabelValues(req.Spec.Entity, string(req.Mode), status).Inc()
	i.metrics.Duration.WithLabelValues(req.Spec.Entity, string(req.Mode)).Observe(time.Since(start).Seconds())
}
