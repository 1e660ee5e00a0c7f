// Package handoff publishes curated records to NATS for the downstream
// analysis stage.
//
// Each run is published as one JSON envelope on the subject
//
//	<prefix>.<session_id>
//
// so consumers can subscribe to <prefix>.> for every run or to a single
// session.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedcurate/internal/logging"
	"github.com/fyrsmithlabs/feedcurate/internal/record"
	"github.com/fyrsmithlabs/feedcurate/internal/retry"
)

const instrumentationName = "github.com/fyrsmithlabs/feedcurate/internal/handoff"

// Header names set on every message.
const (
	HeaderSession = "Feedcurate-Session"
	HeaderStage   = "Feedcurate-Stage"
)

// DefaultTimeout bounds connection and flush.
const DefaultTimeout = 5 * time.Second

var (
	// ErrPayloadTooLarge is returned when the envelope exceeds the server's
	// max payload. It is never retried.
	ErrPayloadTooLarge = errors.New("envelope exceeds server max payload")

	// ErrInvalidSubject is returned for prefixes or session IDs that are
	// not valid NATS subject tokens.
	ErrInvalidSubject = errors.New("invalid subject")
)

// Stage names the pipeline step that produced the records.
type Stage string

const (
	StageIngested Stage = "ingested"
	StageCurated  Stage = "curated"
)

// Envelope is the published message body.
type Envelope struct {
	SessionID   string           `json:"session_id"`
	Keyword     string           `json:"keyword"`
	Stage       Stage            `json:"stage"`
	Count       int              `json:"count"`
	Records     []*record.Record `json:"records"`
	PublishedAt time.Time        `json:"published_at"`
}

// Config configures Connect.
type Config struct {
	URL           string
	SubjectPrefix string
	Token         string
	Timeout       time.Duration
	Retry         retry.Config
}

// Publisher sends envelopes over a NATS connection.
type Publisher struct {
	nc      *nats.Conn
	owned   bool
	prefix  string
	timeout time.Duration
	retry   retry.Config
	onRetry retry.Observer
	logger  *logging.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTracer sets the tracer for publish spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Publisher) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithRetry sets the retry policy for publish and flush.
func WithRetry(cfg retry.Config) Option {
	return func(p *Publisher) { p.retry = cfg }
}

// WithRetryObserver receives a notification per publish retry, in addition
// to the log line.
func WithRetryObserver(obs retry.Observer) Option {
	return func(p *Publisher) { p.onRetry = obs }
}

// WithTimeout bounds each flush.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// Connect dials NATS and returns a Publisher that owns the connection.
func Connect(cfg Config, opts ...Option) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	natsOpts := []nats.Option{
		nats.Name("feedcurate"),
		nats.Timeout(timeout),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	}
	if cfg.Token != "" {
		natsOpts = append(natsOpts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	opts = append([]Option{WithTimeout(timeout), WithRetry(cfg.Retry)}, opts...)
	p, err := NewPublisher(nc, cfg.SubjectPrefix, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// NewPublisher wraps an existing connection. Close leaves nc open.
func NewPublisher(nc *nats.Conn, prefix string, opts ...Option) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if err := validSubject(prefix, true); err != nil {
		return nil, err
	}
	p := &Publisher{
		nc:      nc,
		prefix:  prefix,
		timeout: DefaultTimeout,
		retry:   retry.DefaultConfig(),
		logger:  logging.NewNop(),
		tracer:  otel.Tracer(instrumentationName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Subject returns the subject for sessionID.
func (p *Publisher) Subject(sessionID string) string {
	return p.prefix + "." + sessionID
}

// Publish sends records as one envelope and waits for the server to
// acknowledge the flush.
func (p *Publisher) Publish(ctx context.Context, sessionID, keyword string, stage Stage, records []*record.Record) (err error) {
	if err := validSubject(sessionID, false); err != nil {
		return err
	}
	subject := p.Subject(sessionID)

	ctx, span := p.tracer.Start(ctx, "publish.records", trace.WithSpanKind(trace.SpanKindProducer))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("nats.subject", subject),
		attribute.String("handoff.stage", string(stage)),
		attribute.Int("records", len(records)),
	)

	if records == nil {
		records = []*record.Record{}
	}
	data, err := json.Marshal(Envelope{
		SessionID:   sessionID,
		Keyword:     keyword,
		Stage:       stage,
		Count:       len(records),
		Records:     records,
		PublishedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	span.SetAttributes(attribute.Int("payload.bytes", len(data)))

	msg := nats.NewMsg(subject)
	msg.Header.Set(HeaderSession, sessionID)
	msg.Header.Set(HeaderStage, string(stage))
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	msg.Data = data

	err = retry.Do(ctx, p.retry, func(ctx context.Context) error {
		return p.send(ctx, msg)
	}, retry.WithObserver(retry.Observers(
		retry.LogObserver(p.logger.Underlying(), "nats_publish"),
		p.onRetry,
	)))
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.logger.Info(ctx, "records handed off",
		zap.String("subject", subject),
		zap.String("stage", string(stage)),
		zap.Int("records", len(records)),
		zap.Int("bytes", len(data)),
	)
	return nil
}

func (p *Publisher) send(ctx context.Context, msg *nats.Msg) error {
	if limit := p.nc.MaxPayload(); limit > 0 && int64(len(msg.Data)) > limit {
		return retry.Permanent(fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(msg.Data), limit))
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		if errors.Is(err, nats.ErrMaxPayload) {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrPayloadTooLarge, err))
		}
		return err
	}
	flushCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.nc.FlushWithContext(flushCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		// Only the per-attempt flush expired; the caller is still waiting.
		return fmt.Errorf("flush after %s: %w", p.timeout, nats.ErrTimeout)
	}
	return err
}

// Close drains an owned connection.
func (p *Publisher) Close() error {
	if p == nil || !p.owned {
		return nil
	}
	return p.nc.Drain()
}

func validSubject(s string, allowDots bool) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSubject)
	}
	if strings.ContainsAny(s, " \t\r\n*>") {
		return fmt.Errorf("%w: %q", ErrInvalidSubject, s)
	}
	if !allowDots && strings.Contains(s, ".") {
		return fmt.Errorf("%w: %q contains '.'", ErrInvalidSubject, s)
	}
	for _, tok := range strings.Split(s, ".") {
		if tok == "" {
			return fmt.Errorf("%w: %q has an empty token", ErrInvalidSubject, s)
		}
	}
	return nil
}
