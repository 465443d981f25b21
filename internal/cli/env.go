package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rpattn/querykit/internal/config"
	"github.com/rpattn/querykit/internal/db"
	"github.com/rpattn/querykit/internal/middleware"
	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/repository"
	"github.com/rpattn/querykit/internal/review"
	"github.com/rpattn/querykit/internal/schema"
	"github.com/rpattn/querykit/internal/sqlgen"
)

// env is everything a command needs to run queries.
type env struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *schema.Registry
	conn     db.Querier
	records  *repository.RecordExecutor
	exec     query.Executor
	reviews  *review.Manager
	metrics  *prometheus.Registry
}

// NewLogger builds a production zap logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Driver != "" {
		cfg.Database.Driver = opts.Driver
	}
	if opts.DBPath != "" {
		cfg.Database.Path = opts.DBPath
		if opts.Driver == "" {
			cfg.Database.Driver = "sqlite"
		}
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, nil
}

func loadRegistry(cfg config.Config) (*schema.Registry, error) {
	if cfg.SchemaPath == "" {
		return review.Registry()
	}
	return schema.LoadFile(cfg.SchemaPath)
}

func openEnv(ctx context.Context, opts *RootOptions) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.Source != "" {
		logger.Debug("loaded config", zap.String("path", cfg.Source))
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	dialect, err := sqlgen.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	metrics := prometheus.NewRegistry()
	records := repository.NewRecordExecutor(conn, registry, dialect)
	exec := middleware.Logging(middleware.Instrument(records, middleware.NewMetrics(metrics)), logger)

	reviews, err := review.NewManager(registry, exec)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &env{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		conn:     conn,
		records:  records,
		exec:     exec,
		reviews:  reviews,
		metrics:  metrics,
	}, nil
}

// withTimeout applies the configured query timeout to ctx.
func (e *env) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.QueryTimeout)
}

func (e *env) Close() {
	e.logMetrics()
	e.conn.Close()
	_ = e.logger.Sync()
}

// logMetrics writes the executed query counters at debug level.
func (e *env) logMetrics() {
	families, err := e.metrics.Gather()
	if err != nil {
		e.logger.Debug("gather metrics", zap.Error(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			fields := []zap.Field{zap.String("metric", mf.GetName()), zap.Float64("value", m.GetCounter().GetValue())}
			for _, label := range m.GetLabel() {
				fields = append(fields, zap.String(label.GetName(), label.GetValue()))
			}
			e.logger.Debug("query metrics", fields...)
		}
	}
}
