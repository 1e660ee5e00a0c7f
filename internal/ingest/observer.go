package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedcurate/internal/logging"
	"github.com/fyrsmithlabs/feedcurate/internal/record"
)

// PageStats summarises one received page.
type PageStats struct {
	// Seq is the 1-based sequence number of the page within the run.
	Seq int
	// Attempt is the attempt counter after the page was consumed.
	Attempt int
	// Malformed is set when the page had no usable item list.
	Malformed bool
	Items     int
	Accepted  int
	Rejected  int
	// Total is the number of records accumulated so far.
	Total int
}

// Observer receives progress notifications from the loop. Implementations
// must not block; they run on the loop's goroutine.
type Observer interface {
	OnItemRejected(ctx context.Context, reason record.Reason, id string)
	OnPageProcessed(ctx context.Context, stats PageStats)
	OnStateChange(ctx context.Context, from, to State)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) OnItemRejected(context.Context, record.Reason, string) {}
func (NopObserver) OnPageProcessed(context.Context, PageStats)            {}
func (NopObserver) OnStateChange(context.Context, State, State)           {}

// Multi fans notifications out to several observers in order.
type Multi []Observer

func (m Multi) OnItemRejected(ctx context.Context, reason record.Reason, id string) {
	for _, o := range m {
		o.OnItemRejected(ctx, reason, id)
	}
}

func (m Multi) OnPageProcessed(ctx context.Context, stats PageStats) {
	for _, o := range m {
		o.OnPageProcessed(ctx, stats)
	}
}

func (m Multi) OnStateChange(ctx context.Context, from, to State) {
	for _, o := range m {
		o.OnStateChange(ctx, from, to)
	}
}

// LogObserver writes notifications to a logger. Rejections go to debug,
// pages to info and transitions to trace.
type LogObserver struct {
	logger *logging.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *logging.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnItemRejected(ctx context.Context, reason record.Reason, id string) {
	o.logger.Debug(ctx, "item rejected",
		zap.Stringer("reason", reason),
		zap.String("note.id", id),
	)
}

func (o *LogObserver) OnPageProcessed(ctx context.Context, stats PageStats) {
	o.logger.Info(ctx, "page processed",
		zap.Int("page", stats.Seq),
		zap.Int("attempt", stats.Attempt),
		zap.Bool("malformed", stats.Malformed),
		zap.Int("items", stats.Items),
		zap.Int("accepted", stats.Accepted),
		zap.Int("rejected", stats.Rejected),
		zap.Int("total", stats.Total),
	)
}

func (o *LogObserver) OnStateChange(ctx context.Context, from, to State) {
	o.logger.Trace(ctx, "ingest state change",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}
