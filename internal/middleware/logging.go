package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/querykit/internal/query"
)

// LoggingExecutor logs every executed request with its duration and outcome.
type LoggingExecutor struct {
	next   query.Executor
	logger *zap.Logger
}

// Logging wraps next so each terminal call is logged to logger.
func Logging(next query.Executor, logger *zap.Logger) *LoggingExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingExecutor{next: next, logger: logger}
}

func (l *LoggingExecutor) ExecuteCount(ctx context.Context, req query.Request) (int64, error) {
	start := time.Now()
	n, err := l.next.ExecuteCount(ctx, req)
	l.log(req, start, err, zap.Int64("count", n))
	return n, err
}

func (l *LoggingExecutor) ExecuteFetch(ctx context.Context, req query.Request) (query.Rows, error) {
	start := time.Now()
	rows, err := l.next.ExecuteFetch(ctx, req)
	l.log(req, start, err)
	return rows, err
}

func (l *LoggingExecutor) ExecuteAggregate(ctx context.Context, req query.Request, aggregates []query.Annotation) (map[string]any, error) {
	agg, ok := l.next.(query.AggregateExecutor)
	if !ok {
		return nil, query.ErrAggregateUnsupported
	}
	start := time.Now()
	result, err := agg.ExecuteAggregate(ctx, req, aggregates)
	l.log(req, start, err, zap.Int("aggregates", len(aggregates)))
	return result, err
}

func (l *LoggingExecutor) log(req query.Request, start time.Time, err error, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("request_id", req.ID.String()),
		zap.String("entity", req.Spec.Entity),
		zap.String("mode", string(req.Mode)),
		zap.Duration("duration", time.Since(start)),
	}, extra...)
	if req.Spec.Database != "" {
		fields = append(fields, zap.String("database", req.Spec.Database))
	}
	if err != nil {
		l.logger.Warn("query failed", append(fields, zap.Error(err))...)
		return
	}
	l.logger.Debug("query executed", fields...)
}
