package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
	"github.com/fyrsmithlabs/feedcurate/internal/record"
	"github.com/fyrsmithlabs/feedcurate/internal/retry"
	"github.com/fyrsmithlabs/feedcurate/internal/telemetry"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg), reg
}

func TestDefault_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		a := Default()
		b := Default()
		assert.Same(t, a, b)
	})
}

func TestIngestObserver(t *testing.T) {
	m, _ := newTestMetrics(t)
	obs := m.IngestObserver()
	ctx := context.Background()

	obs.OnPageProcessed(ctx, ingest.PageStats{Seq: 1, Items: 5, Accepted: 3, Rejected: 2})
	obs.OnPageProcessed(ctx, ingest.PageStats{Seq: 2, Malformed: true})
	obs.OnItemRejected(ctx, record.DuplicateIdentifier, "a")
	obs.OnItemRejected(ctx, record.DuplicateIdentifier, "b")
	obs.OnItemRejected(ctx, record.LowEngagement, "c")
	obs.OnStateChange(ctx, ingest.AwaitingPage, ingest.ProcessingItems)
	obs.OnStateChange(ctx, ingest.ProcessingItems, ingest.TargetReached)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesTotal.WithLabelValues("malformed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ItemsAccepted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ItemsRejected.WithLabelValues("duplicate_identifier")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ItemsRejected.WithLabelValues("low_engagement")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("target_reached")))
}

func TestIngestObserver_WithLoop(t *testing.T) {
	m, reg := newTestMetrics(t)

	src := &pages{bodies: []string{
		`{"data":{"items":[{"id":"a","note_card":{"display_title":"one"}},{"id":"a","note_card":{"display_title":"dup"}}]}}`,
		`not json`,
	}}
	res, err := ingest.NewLoop(nil, ingest.WithObserver(m.IngestObserver())).
		Run(context.Background(), src, ingest.Params{TargetCount: 5, MaxAttempts: 3})
	require.NoError(t, err)
	m.ObserveRun(res)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ItemsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ItemsRejected.WithLabelValues("duplicate_identifier")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ItemsRejected.WithLabelValues("malformed_payload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("exhausted")))

	n, err := testutil.GatherAndCount(reg, "feedcurate_ingest_run_attempts")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRetryObserver(t *testing.T) {
	m, _ := newTestMetrics(t)

	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxRetries: 2, BackoffFactor: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		},
		retry.WithObserver(m.RetryObserver("navigate")),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("navigate")))
}

func TestObserveSelectionAndHandoff(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.ObserveSelection(12)
	m.ObserveHandoff("curated", 12)
	m.ObserveHandoff("curated", 3)

	assert.Equal(t, 15.0, testutil.ToFloat64(m.RecordsHandedOff.WithLabelValues("curated")))

	expected := `
# HELP feedcurate_curate_selection_size Number of records in the premium set
# TYPE feedcurate_curate_selection_size histogram
feedcurate_curate_selection_size_bucket{le="0"} 0
feedcurate_curate_selection_size_bucket{le="5"} 0
feedcurate_curate_selection_size_bucket{le="10"} 0
feedcurate_curate_selection_size_bucket{le="20"} 1
feedcurate_curate_selection_size_bucket{le="30"} 1
feedcurate_curate_selection_size_bucket{le="50"} 1
feedcurate_curate_selection_size_bucket{le="100"} 1
feedcurate_curate_selection_size_bucket{le="+Inf"} 1
feedcurate_curate_selection_size_sum 12
feedcurate_curate_selection_size_count 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "feedcurate_curate_selection_size"))
}

func TestObserveRun_Nil(t *testing.T) {
	m, _ := newTestMetrics(t)
	assert.NotPanics(t, func() { m.ObserveRun(nil) })
}

func TestServer_Routes(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.ItemsAccepted.Add(7)

	tel := telemetry.NewTestTelemetry()
	srv, err := NewServer("127.0.0.1:0", reg, nil, tel.Meter("metrics"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedcurate_ingest_items_accepted_total 7")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rm, err := tel.CollectMetrics(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, rm.ScopeMetrics)
	names := map[string]bool{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		names[metric.Name] = true
	}
	assert.True(t, names["feedcurate.http.requests_total"])
	assert.True(t, names["feedcurate.http.request_duration_seconds"])
}

func TestServer_Lifecycle(t *testing.T) {
	_, reg := newTestMetrics(t)
	srv, err := NewServer("127.0.0.1:0", reg, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))
	assert.NotEqual(t, "127.0.0.1:0", srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(shutdownCtx))
}

func TestServer_Errors(t *testing.T) {
	_, err := NewServer("", nil, nil, nil)
	assert.Error(t, err)

	srv, err := NewServer("256.0.0.1:bad", nil, nil, nil)
	require.NoError(t, err)
	assert.Error(t, srv.Start(context.Background()))
	assert.NoError(t, srv.Shutdown(context.Background()), "shutdown before start is a no-op")
}

type pages struct {
	bodies []string
	next   int
}

func (p *pages) WaitForNextPage(context.Context, time.Duration) (ingest.RawPayload, bool) {
	if p.next >= len(p.bodies) {
		return nil, false
	}
	b := p.bodies[p.next]
	p.next++
	return ingest.RawPayload(b), true
}

func (p *pages) Advance(context.Context) error { return nil }
