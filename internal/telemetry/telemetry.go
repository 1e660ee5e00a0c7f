package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Telemetry owns the trace and meter providers for one command run: the
// ingest, selection and hand-off spans, and the meter behind the metrics
// endpoint.
//
// A collector that cannot be reached never fails a run. The provider that
// failed is left out, the reason is kept for Health, and callers fall
// back to the global no-op implementation.
type Telemetry struct {
	cfg    *Config
	traces *trace.TracerProvider
	meters *sdkmetric.MeterProvider

	mu       sync.Mutex
	degraded []string
	closed   bool
}

// New validates cfg and starts the configured exporters. With telemetry
// disabled it returns an instance that hands out no-op tracers and meters.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	t := &Telemetry{cfg: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res, o); err != nil {
		t.degrade("tracer provider failed: %v", err)
	} else {
		t.traces = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, cfg, res, o); err != nil {
		t.degrade("meter provider failed: %v", err)
	} else if mp != nil {
		t.meters = mp
		otel.SetMeterProvider(mp)
	}

	// Hand-off messages carry the trace context to the analysis stage.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Tracer returns a tracer for scope, falling back to the global provider.
func (t *Telemetry) Tracer(scope string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.traces == nil {
		return otel.Tracer(scope, opts...)
	}
	return t.traces.Tracer(scope, opts...)
}

// Meter returns a meter for scope, falling back to the global provider.
func (t *Telemetry) Meter(scope string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meters == nil {
		return otel.Meter(scope, opts...)
	}
	return t.meters.Meter(scope, opts...)
}

// LoggerProvider returns the provider the zap bridge writes to: the global
// OTEL log provider when telemetry is enabled, nil otherwise so that the
// logger leaves the bridge out.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.cfg == nil || !t.cfg.Enabled {
		return nil
	}
	return global.GetLoggerProvider()
}

// Shutdown flushes pending spans and metrics and stops the providers. The
// configured shutdown timeout applies when ctx has no deadline. Calls after
// the first return nil.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && t.cfg != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Shutdown.Timeout.Duration())
		defer cancel()
	}

	var errs []error
	if t.traces != nil {
		if err := t.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.meters != nil {
		if err := t.meters.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HealthStatus reports whether exporters are running.
type HealthStatus struct {
	Enabled  bool
	Degraded bool
	// Reasons says which provider failed and why.
	Reasons []string
}

// Health returns the exporter state, for the startup warning.
func (t *Telemetry) Health() HealthStatus {
	if t == nil || t.cfg == nil {
		return HealthStatus{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return HealthStatus{
		Enabled:  t.cfg.Enabled && !t.closed,
		Degraded: len(t.degraded) > 0,
		Reasons:  append([]string(nil), t.degraded...),
	}
}

func (t *Telemetry) degrade(format string, args ...any) {
	t.mu.Lock()
	t.degraded = append(t.degraded, fmt.Sprintf(format, args...))
	t.mu.Unlock()
}
