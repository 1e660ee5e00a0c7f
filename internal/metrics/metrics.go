// Package metrics exposes Prometheus collectors for the curation pipeline
// and an HTTP server that serves them.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
	"github.com/fyrsmithlabs/feedcurate/internal/record"
	"github.com/fyrsmithlabs/feedcurate/internal/retry"
)

const namespace = "feedcurate"

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	PagesTotal       *prometheus.CounterVec
	ItemsAccepted    prometheus.Counter
	ItemsRejected    *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec

	RunsTotal    *prometheus.CounterVec
	RunAttempts  prometheus.Histogram
	RunDuration  prometheus.Histogram
	RetriesTotal *prometheus.CounterVec

	SelectionSize    prometheus.Histogram
	RecordsHandedOff *prometheus.CounterVec
}

// Default returns the collectors registered with the global registry.
//
// sync.Once guards registration so repeated calls never panic with
// "duplicate metrics collector registration".
func Default() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = New(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

// New registers a fresh set of collectors with reg.
//
// Metrics:
//   - feedcurate_ingest_pages_total{outcome} - pages received, ok or malformed
//   - feedcurate_ingest_items_accepted_total - records admitted
//   - feedcurate_ingest_items_rejected_total{reason} - items rejected, by reason
//   - feedcurate_ingest_state_transitions_total{to} - loop state changes
//   - feedcurate_ingest_runs_total{state} - finished runs by terminal state
//   - feedcurate_ingest_run_attempts - attempts consumed per run
//   - feedcurate_ingest_run_duration_seconds - wall time per run
//   - feedcurate_retries_total{operation} - retries of fallible operations
//   - feedcurate_curate_selection_size - premium set size
//   - feedcurate_handoff_records_total{stage} - records published downstream
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "pages_total",
				Help:      "Total number of response pages received",
			},
			[]string{"outcome"},
		),
		ItemsAccepted: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "items_accepted_total",
				Help:      "Total number of items admitted as records",
			},
		),
		ItemsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "items_rejected_total",
				Help:      "Total number of items rejected, by reason",
			},
			[]string{"reason"},
		),
		StateTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "state_transitions_total",
				Help:      "Total number of ingestion loop state changes, by target state",
			},
			[]string{"to"},
		),
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "runs_total",
				Help:      "Total number of finished ingestion runs, by terminal state",
			},
			[]string{"state"},
		),
		RunAttempts: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "run_attempts",
				Help:      "Attempts consumed per ingestion run",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 50, 100},
			},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "run_duration_seconds",
				Help:      "Wall time of an ingestion run in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5m
			},
		),
		RetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retries, by operation",
			},
			[]string{"operation"},
		),
		SelectionSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "curate",
				Name:      "selection_size",
				Help:      "Number of records in the premium set",
				Buckets:   []float64{0, 5, 10, 20, 30, 50, 100},
			},
		),
		RecordsHandedOff: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handoff",
				Name:      "records_total",
				Help:      "Total number of records published downstream, by stage",
			},
			[]string{"stage"},
		),
	}
}

// ObserveRun records the outcome of a finished ingestion run.
func (m *Metrics) ObserveRun(res *ingest.Result) {
	if res == nil {
		return
	}
	m.RunsTotal.WithLabelValues(res.State.String()).Inc()
	m.RunAttempts.Observe(float64(res.Attempts))
	m.RunDuration.Observe(res.Elapsed.Seconds())
}

// ObserveSelection records the size of a premium set.
func (m *Metrics) ObserveSelection(n int) {
	m.SelectionSize.Observe(float64(n))
}

// ObserveHandoff records published records.
func (m *Metrics) ObserveHandoff(stage string, n int) {
	m.RecordsHandedOff.WithLabelValues(stage).Add(float64(n))
}

// IngestObserver returns an ingest.Observer backed by m.
func (m *Metrics) IngestObserver() ingest.Observer {
	return ingestObserver{m}
}

type ingestObserver struct{ m *Metrics }

func (o ingestObserver) OnItemRejected(_ context.Context, reason record.Reason, _ string) {
	o.m.ItemsRejected.WithLabelValues(reason.String()).Inc()
}

func (o ingestObserver) OnPageProcessed(_ context.Context, stats ingest.PageStats) {
	outcome := "ok"
	if stats.Malformed {
		outcome = "malformed"
	}
	o.m.PagesTotal.WithLabelValues(outcome).Inc()
	o.m.ItemsAccepted.Add(float64(stats.Accepted))
}

func (o ingestObserver) OnStateChange(_ context.Context, _, to ingest.State) {
	o.m.StateTransitions.WithLabelValues(to.String()).Inc()
}

// RetryObserver counts retries of operation.
func (m *Metrics) RetryObserver(operation string) retry.Observer {
	counter := m.RetriesTotal.WithLabelValues(operation)
	return retry.ObserverFunc(func(int, time.Duration, error) {
		counter.Inc()
	})
}
