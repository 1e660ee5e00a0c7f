package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedcurate/internal/config"
	"github.com/fyrsmithlabs/feedcurate/internal/handoff"
	"github.com/fyrsmithlabs/feedcurate/internal/logging"
	"github.com/fyrsmithlabs/feedcurate/internal/metrics"
	"github.com/fyrsmithlabs/feedcurate/internal/telemetry"
)

// app holds the process-wide dependencies of one command.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	tel     *telemetry.Telemetry
	metrics *metrics.Metrics
	server  *metrics.Server
	out     io.Writer
	now     func() time.Time
}

// newApp loads configuration, applies flag overrides and starts logging,
// telemetry and the metrics endpoint.
func newApp(cmd *cobra.Command, override func(*config.Config)) (*app, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyGlobalFlags(cfg)
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	telCfg := telemetry.NewDefaultConfig()
	telCfg.ServiceVersion = version
	if err := cfg.Section("telemetry", telCfg); err != nil {
		return nil, err
	}
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := newLogger(cfg, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", h.Reasons))
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		tel:     tel,
		metrics: metrics.Default(),
		out:     cmd.OutOrStdout(),
		now:     time.Now,
	}

	if cfg.Metrics.Enabled {
		srv, err := metrics.NewServer(cfg.Metrics.Addr, prometheus.DefaultGatherer, logger, tel.Meter("feedcurate/metrics"))
		if err == nil {
			err = srv.Start(ctx)
		}
		if err != nil {
			_ = a.close(context.Background())
			return nil, err
		}
		a.server = srv
	}
	return a, nil
}

func newLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if err := cfg.Section("logging", logCfg); err != nil {
		return nil, err
	}
	if logLevel != "" {
		level, err := logging.LevelFromString(logLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
		}
		logCfg.Level = level
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// applyGlobalFlags copies the persistent flags that were set over cfg.
func applyGlobalFlags(cfg *config.Config) {
	if resultsDir != "" {
		cfg.Output.ResultsDir = resultsDir
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = metricsAddr
	}
	if natsURL != "" {
		cfg.NATS.Enabled = true
		cfg.NATS.URL = natsURL
	}
}

// publisher returns a NATS publisher when hand-off is enabled, or nil.
func (a *app) publisher(ctx context.Context) (*handoff.Publisher, error) {
	if !a.cfg.NATS.Enabled {
		return nil, nil
	}
	logger := a.logger.Component("handoff")
	fields := []zap.Field{
		zap.String("url", a.cfg.NATS.URL),
		zap.String("subject_prefix", a.cfg.NATS.SubjectPrefix),
	}
	if a.cfg.NATS.Token.IsSet() {
		fields = append(fields, logging.Secret("token", a.cfg.NATS.Token))
	}
	logger.Info(ctx, "connecting to NATS", fields...)

	return handoff.Connect(handoff.Config{
		URL:           a.cfg.NATS.URL,
		SubjectPrefix: a.cfg.NATS.SubjectPrefix,
		Token:         a.cfg.NATS.Token.Value(),
		Timeout:       a.cfg.NATS.Timeout.Duration(),
		Retry:         a.cfg.Retry,
	},
		handoff.WithLogger(logger),
		handoff.WithTracer(a.tel.Tracer("feedcurate/handoff")),
		handoff.WithRetryObserver(a.metrics.RetryObserver("nats_publish")),
	)
}

// close stops the metrics server and flushes telemetry and logs.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Metrics.ShutdownTimeout.Duration())
		errs = append(errs, a.server.Shutdown(shutdownCtx))
		cancel()
	}
	errs = append(errs, a.tel.Shutdown(ctx))
	errs = append(errs, a.logger.Close())
	return errors.Join(errs...)
}
