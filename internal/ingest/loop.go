// Package ingest drives the acquire/advance cycle against a feed source and
// accumulates deduplicated records until a target count or an attempt
// budget is reached.
//
// The loop is single-threaded: page order drives the source's pagination
// cursor, so pages are consumed strictly in arrival order. Every outcome,
// including zero records, is returned with a full rejection tally; Run only
// returns an error for invalid parameters.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedcurate/internal/dedup"
	"github.com/fyrsmithlabs/feedcurate/internal/logging"
	"github.com/fyrsmithlabs/feedcurate/internal/normalize"
	"github.com/fyrsmithlabs/feedcurate/internal/record"
)

const instrumentationName = "github.com/fyrsmithlabs/feedcurate/internal/ingest"

// DefaultWaitTimeout bounds each wait for the next page.
const DefaultWaitTimeout = 5 * time.Second

// ErrInvalidParams is returned by Run for unusable parameters.
var ErrInvalidParams = errors.New("invalid ingest parameters")

// Params bounds one run.
type Params struct {
	// TargetCount is the number of records after which the run stops.
	TargetCount int
	// MaxAttempts bounds the number of pages and empty waits consumed.
	MaxAttempts int
	// MinLikes rejects records below this liked_count. Zero disables it.
	MinLikes int64
	// WaitTimeout bounds each wait for a page. Zero selects DefaultWaitTimeout.
	WaitTimeout time.Duration
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.TargetCount < 1 {
		return fmt.Errorf("%w: target count must be positive, got %d", ErrInvalidParams, p.TargetCount)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be positive, got %d", ErrInvalidParams, p.MaxAttempts)
	}
	if p.MinLikes < 0 {
		return fmt.Errorf("%w: min likes must not be negative, got %d", ErrInvalidParams, p.MinLikes)
	}
	if p.WaitTimeout < 0 {
		return fmt.Errorf("%w: wait timeout must not be negative", ErrInvalidParams)
	}
	return nil
}

// Result is the outcome of one run.
type Result struct {
	// Records are sorted by liked_count descending, first-seen order on ties.
	Records  []*record.Record
	Tally    record.Tally
	State    State
	Attempts int
	Pages    int
	Elapsed  time.Duration
}

// Explain describes why a run produced no records; it is empty otherwise.
func (r *Result) Explain() string {
	if len(r.Records) > 0 {
		return ""
	}
	if r.Pages == 0 {
		return fmt.Sprintf("feed source yielded no pages in %d attempts", r.Attempts)
	}
	return r.Tally.Explain()
}

// Loop runs ingestion passes. A Loop keeps no per-run state and may be
// reused for successive runs.
type Loop struct {
	normalizer *normalize.Normalizer
	observer   Observer
	logger     *logging.Logger
	recorder   PageRecorder
	recordN    int
	tracer     trace.Tracer
}

// Option configures a Loop.
type Option func(*Loop)

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		if o != nil {
			l.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPageRecorder hands the first n pages of each run to rec.
func WithPageRecorder(rec PageRecorder, n int) Option {
	return func(l *Loop) {
		l.recorder = rec
		l.recordN = n
	}
}

// WithTracer sets the tracer used for the run span.
func WithTracer(t trace.Tracer) Option {
	return func(l *Loop) {
		if t != nil {
			l.tracer = t
		}
	}
}

// NewLoop creates a Loop.
func NewLoop(n *normalize.Normalizer, opts ...Option) *Loop {
	if n == nil {
		n = normalize.New()
	}
	l := &Loop{
		normalizer: n,
		observer:   NopObserver{},
		logger:     logging.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run consumes pages from src until p.TargetCount records are accepted,
// p.MaxAttempts attempts are spent, or ctx ends.
func (l *Loop) Run(ctx context.Context, src FeedSource, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.WaitTimeout == 0 {
		p.WaitTimeout = DefaultWaitTimeout
	}

	ctx, span := l.tracer.Start(ctx, "ingest.run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("ingest.target_count", p.TargetCount),
		attribute.Int("ingest.max_attempts", p.MaxAttempts),
		attribute.Int64("ingest.min_likes", p.MinLikes),
	)

	r := &run{
		loop:  l,
		src:   src,
		p:     p,
		seen:  dedup.New(),
		tally: record.Tally{},
		state: AwaitingPage,
	}
	start := time.Now()
	r.execute(ctx)

	sort.SliceStable(r.records, func(i, j int) bool {
		return r.records[i].LikedCount > r.records[j].LikedCount
	})

	res := &Result{
		Records:  r.records,
		Tally:    r.tally,
		State:    r.state,
		Attempts: r.attempts,
		Pages:    r.pages,
		Elapsed:  time.Since(start),
	}

	span.SetAttributes(
		attribute.String("ingest.state", res.State.String()),
		attribute.Int("ingest.records", len(res.Records)),
		attribute.Int("ingest.attempts", res.Attempts),
		attribute.Int("ingest.pages", res.Pages),
		attribute.Int("ingest.rejected", res.Tally.Total()),
	)
	l.summarize(ctx, res)
	return res, nil
}

func (l *Loop) summarize(ctx context.Context, res *Result) {
	fields := []zap.Field{
		zap.Stringer("state", res.State),
		zap.Int("records", len(res.Records)),
		zap.Int("attempts", res.Attempts),
		zap.Int("pages", res.Pages),
		zap.Duration("elapsed", res.Elapsed),
		zap.Any("rejections", res.Tally),
	}
	if len(res.Records) == 0 {
		l.logger.Warn(ctx, "ingest finished without records",
			append(fields, zap.String("cause", res.Explain()))...)
		return
	}

	var sum float64
	var top int64
	for _, rec := range res.Records {
		sum += float64(rec.LikedCount)
		top = max(top, rec.LikedCount)
	}
	l.logger.Info(ctx, "ingest finished",
		append(fields,
			zap.Int64("likes.avg", int64(sum/float64(len(res.Records)))),
			zap.Int64("likes.max", top),
		)...)
}

// run is the state of a single pass.
type run struct {
	loop     *Loop
	src      FeedSource
	p        Params
	seen     *dedup.Set
	tally    record.Tally
	records  []*record.Record
	attempts int
	pages    int
	state    State
}

func (r *run) transition(ctx context.Context, to State) {
	if r.state == to {
		return
	}
	from := r.state
	r.state = to
	r.loop.observer.OnStateChange(ctx, from, to)
}

func (r *run) execute(ctx context.Context) {
	for {
		switch {
		case ctx.Err() != nil:
			r.transition(ctx, Canceled)
			return
		case len(r.records) >= r.p.TargetCount:
			r.transition(ctx, TargetReached)
			return
		case r.attempts >= r.p.MaxAttempts:
			r.transition(ctx, Exhausted)
			return
		}

		r.transition(ctx, AwaitingPage)
		payload, ok := r.src.WaitForNextPage(ctx, r.p.WaitTimeout)
		r.attempts++
		if !ok {
			r.advance(ctx)
			continue
		}

		r.pages++
		r.recordPage(ctx, payload)

		r.transition(ctx, ProcessingItems)
		stats := r.processPage(ctx, payload)
		r.loop.observer.OnPageProcessed(ctx, stats)

		if len(r.records) >= r.p.TargetCount {
			continue
		}
		r.advance(ctx)
	}
}

func (r *run) advance(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	r.transition(ctx, Advancing)
	if err := r.src.Advance(ctx); err != nil {
		r.loop.logger.Warn(ctx, "feed source advance failed",
			zap.Int("attempt", r.attempts),
			zap.Error(err),
		)
	}
}

func (r *run) recordPage(ctx context.Context, payload RawPayload) {
	if r.loop.recorder == nil || r.pages > r.loop.recordN {
		return
	}
	if err := r.loop.recorder.RecordPage(ctx, r.pages, payload); err != nil {
		r.loop.logger.Warn(ctx, "failed to record raw page",
			zap.Int("page", r.pages),
			zap.Error(err),
		)
	}
}

func (r *run) processPage(ctx context.Context, payload RawPayload) PageStats {
	stats := PageStats{Seq: r.pages, Attempt: r.attempts}

	items, ok := r.decode(payload)
	if !ok {
		stats.Malformed = true
		r.reject(ctx, record.MalformedPayload, "")
		stats.Rejected++
		stats.Total = len(r.records)
		return stats
	}
	stats.Items = len(items)

	for _, item := range items {
		if len(r.records) >= r.p.TargetCount {
			break
		}
		if rec, ok := r.admit(ctx, item); ok {
			r.records = append(r.records, rec)
			stats.Accepted++
		} else {
			stats.Rejected++
		}
	}
	stats.Total = len(r.records)
	return stats
}

// decode parses a page body and returns its item list.
func (r *run) decode(payload RawPayload) ([]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var body any
	if err := dec.Decode(&body); err != nil {
		return nil, false
	}
	return r.loop.normalizer.Items(body)
}

// admit runs one item through normalization, deduplication and the likes
// floor.
func (r *run) admit(ctx context.Context, item any) (*record.Record, bool) {
	out := r.loop.normalizer.Normalize(item)
	for _, w := range out.Warnings {
		r.tally.Add(w.Reason)
		r.loop.logger.Warn(ctx, "count field could not be parsed",
			zap.String("field", w.Field),
			zap.String("value", w.Value),
		)
	}
	if !out.Accepted() {
		r.reject(ctx, out.Reason, "")
		return nil, false
	}

	rec := out.Record
	if !r.seen.CheckAndMark(rec.ID) {
		r.reject(ctx, record.DuplicateIdentifier, rec.ID)
		return nil, false
	}
	if r.p.MinLikes > 0 && rec.LikedCount < r.p.MinLikes {
		r.reject(ctx, record.LowEngagement, rec.ID)
		return nil, false
	}
	return rec, true
}

func (r *run) reject(ctx context.Context, reason record.Reason, id string) {
	r.tally.Add(reason)
	r.loop.observer.OnItemRejected(ctx, reason, id)
}
