package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/feedcurate/internal/config"
	"github.com/fyrsmithlabs/feedcurate/internal/handoff"
	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
	"github.com/fyrsmithlabs/feedcurate/internal/logging"
	"github.com/fyrsmithlabs/feedcurate/internal/metrics"
	"github.com/fyrsmithlabs/feedcurate/internal/record"
	"github.com/fyrsmithlabs/feedcurate/internal/session"
	"github.com/fyrsmithlabs/feedcurate/internal/source/spool"
	"github.com/fyrsmithlabs/feedcurate/internal/telemetry"
)

var words = []string{
	"lantern", "harbor", "meadow", "granite", "saffron", "orchid", "tundra",
	"walnut", "glacier", "citadel", "marble", "juniper", "velvet", "compass",
	"falcon", "thistle", "cobalt", "willow", "canyon", "ember", "quartz",
	"bramble", "lagoon", "pewter", "sorrel", "timber", "zephyr", "kestrel",
}

type note struct {
	id    string
	title string
	likes int
}

// feedPage renders notes as one search response body.
func feedPage(notes ...note) string {
	items := make([]string, len(notes))
	for i, n := range notes {
		items[i] = fmt.Sprintf(
			`{"id":%q,"model_type":"note","note_card":{"display_title":%q,"interact_info":{"liked_count":"%d","collected_count":"1","comment_count":"1","share_count":"0"},"user":{"nickname":"writer"}}}`,
			n.id, n.title, n.likes)
	}
	return `{"code":0,"success":true,"data":{"has_more":true,"items":[` + strings.Join(items, ",") + `]}}`
}

// writePages writes count notes spread over pages into a new directory.
func writePages(t *testing.T, count, perPage int) string {
	t.Helper()
	require.LessOrEqual(t, count, len(words))
	dir := t.TempDir()
	var batch []note
	seq := 0
	flush := func() {
		if len(batch) == 0 {
			return
		}
		seq++
		name := fmt.Sprintf("debug_response_20240309_140507_%d.json", seq)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(feedPage(batch...)), 0o644))
		batch = nil
	}
	for i := 0; i < count; i++ {
		batch = append(batch, note{id: fmt.Sprintf("n%02d", i), title: words[i], likes: (i + 1) * 10})
		if len(batch) == perPage {
			flush()
		}
	}
	flush()
	return dir
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

type publishCall struct {
	sessionID string
	keyword   string
	stage     handoff.Stage
	records   int
}

func (f *fakePublisher) Publish(_ context.Context, sessionID, keyword string, stage handoff.Stage, records []*record.Record) error {
	f.calls = append(f.calls, publishCall{sessionID, keyword, stage, len(records)})
	return f.err
}

func newTestPipeline(t *testing.T) (*pipeline, *telemetry.TestTelemetry) {
	t.Helper()
	cfg := config.Default()
	cfg.Output.ResultsDir = filepath.Join(t.TempDir(), "results")
	cfg.Output.DebugDir = filepath.Join(t.TempDir(), "debug")
	cfg.Ingest.MaxAttempts = 5
	cfg.Ingest.WaitTimeout = config.Duration(10 * time.Millisecond)

	tel := telemetry.NewTestTelemetry()
	fixed := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	return &pipeline{
		cfg:      cfg,
		logger:   logging.NewNop(),
		metrics:  metrics.New(prometheus.NewRegistry()),
		tracer:   tel.Tracer("test"),
		now:      func() time.Time { return fixed },
		newRunID: func() string { return "run-1" },
		sessionOpts: []session.Option{
			session.WithIDGenerator(func() string { return "sess-1" }),
		},
	}, tel
}

func replaySource(t *testing.T, dir string) *spool.Replay {
	t.Helper()
	src, err := spool.NewReplay(dir, spool.WithAdvanceRate(0))
	require.NoError(t, err)
	return src
}

func TestPipeline_SelectsAndHandsOff(t *testing.T) {
	p, tel := newTestPipeline(t)
	logger := logging.NewTestLogger()
	p.logger = logger.Logger
	pub := &fakePublisher{}
	p.publisher = pub
	p.cfg.Ingest.DebugPages = 0

	sess, err := p.newSession("camping gear")
	require.NoError(t, err)
	out, err := p.run(context.Background(), replaySource(t, writePages(t, 25, 10)), sess)
	require.NoError(t, err)

	assert.Equal(t, ingest.Exhausted, out.Result.State)
	assert.Len(t, out.Result.Records, 25)
	assert.True(t, out.Selected)
	require.Len(t, out.Records, 25)
	for _, r := range out.Records {
		assert.True(t, r.Selected)
		require.NotNil(t, r.QualityScore)
	}
	assert.Equal(t, "n24", out.Records[0].ID, "highest score first")

	saved, err := session.LoadRecords(out.NotesPath)
	require.NoError(t, err)
	assert.Len(t, saved, 25)

	data, err := os.ReadFile(out.ReportPath)
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "sess-1", report["session_id"])
	assert.Equal(t, "run-1", report["run_id"])
	assert.Equal(t, "exhausted", report["state"])
	assert.EqualValues(t, 25, report["selected"])
	assert.Equal(t, "run-1", out.RunID)

	logger.AssertField(t, "ingest finished", "run.id", "run-1")
	logger.AssertField(t, "ingest finished", "component", "ingest")
	logger.AssertField(t, "premium selection complete", "component", "curate")
	logger.AssertField(t, "premium selection complete", "session.id", "sess-1")

	require.Len(t, pub.calls, 1)
	assert.Equal(t, publishCall{"sess-1", "camping gear", handoff.StageCurated, 25}, pub.calls[0])
	assert.Equal(t, handoff.StageCurated, out.HandedOff)
	assert.Equal(t, 25.0, testutil.ToFloat64(p.metrics.RecordsHandedOff.WithLabelValues("curated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.RunsTotal.WithLabelValues("exhausted")))

	tel.AssertSpanExists(t, "ingest.run")
	tel.AssertSpanExists(t, "curate.select_premium")
}

func TestPipeline_SmallPoolSkipsSelection(t *testing.T) {
	p, _ := newTestPipeline(t)
	pub := &fakePublisher{}
	p.publisher = pub
	p.cfg.Ingest.DebugPages = 2

	sess, err := p.newSession("skincare")
	require.NoError(t, err)
	out, err := p.run(context.Background(), replaySource(t, writePages(t, 6, 2)), sess)
	require.NoError(t, err)

	assert.False(t, out.Selected)
	assert.Len(t, out.Records, 6)
	for _, r := range out.Records {
		assert.False(t, r.Selected)
	}
	require.Len(t, pub.calls, 1)
	assert.Equal(t, handoff.StageIngested, pub.calls[0].stage)

	dumps, err := filepath.Glob(filepath.Join(p.cfg.Output.DebugDir, "debug_response_*.json"))
	require.NoError(t, err)
	assert.Len(t, dumps, 2)
}

func TestPipeline_TargetReached(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.cfg.Search.MaxNotes = 3
	p.cfg.Ingest.DebugPages = 0

	sess, err := p.newSession("target")
	require.NoError(t, err)
	out, err := p.run(context.Background(), replaySource(t, writePages(t, 10, 2)), sess)
	require.NoError(t, err)

	assert.Equal(t, ingest.TargetReached, out.Result.State)
	assert.GreaterOrEqual(t, len(out.Records), 3)
	assert.Contains(t, renderSummary(out), "target_reached")
}

func TestPipeline_HandoffFailureKeepsRecords(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.publisher = &fakePublisher{err: errors.New("nats: no servers available")}
	p.cfg.Ingest.DebugPages = 0

	sess, err := p.newSession("skincare")
	require.NoError(t, err)
	out, err := p.run(context.Background(), replaySource(t, writePages(t, 3, 3)), sess)
	require.NoError(t, err)

	require.Error(t, out.HandoffErr)
	assert.Empty(t, out.HandedOff)
	assert.FileExists(t, out.NotesPath)
	assert.Contains(t, renderSummary(out), "no servers available")
}

func TestPipeline_NoPages(t *testing.T) {
	p, _ := newTestPipeline(t)
	pub := &fakePublisher{}
	p.publisher = pub
	p.cfg.Ingest.DebugPages = 0

	sess, err := p.newSession("nothing")
	require.NoError(t, err)
	out, err := p.run(context.Background(), replaySource(t, t.TempDir()), sess)
	require.NoError(t, err)

	assert.Empty(t, out.Records)
	assert.Empty(t, pub.calls, "nothing to hand off")
	assert.Contains(t, renderSummary(out), "feed source yielded no pages in 5 attempts")

	data, err := os.ReadFile(out.NotesPath)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestPipeline_AliasTable(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.cfg.Ingest.AliasTable = filepath.Join(t.TempDir(), "missing.toml")

	sess, err := p.newSession("alias")
	require.NoError(t, err)
	_, err = p.run(context.Background(), replaySource(t, t.TempDir()), sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alias table")
}

func TestSelectPremium(t *testing.T) {
	cfg := config.Default()
	records := make([]*record.Record, 0, 25)
	for i := 0; i < 25; i++ {
		records = append(records, &record.Record{ID: fmt.Sprintf("n%d", i), Title: words[i], LikedCount: int64(i)})
	}

	_, ok, err := selectPremium(context.Background(), cfg, logging.NewNop(), nil, records[:20])
	require.NoError(t, err)
	assert.False(t, ok, "pool equal to the trigger is kept")

	cfg.Curate.SelectCount = 5
	selected, ok, err := selectPremium(context.Background(), cfg, logging.NewNop(), nil, records)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, selected, 5)
	assert.Equal(t, "n24", selected[0].Record.ID)

	cfg.Curate.Weights.Likes = 0
	_, _, err = selectPremium(context.Background(), cfg, logging.NewNop(), nil, records)
	assert.Error(t, err)
}

func TestBrowserConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Browser.Cookies = map[string]config.Secret{
		"web_session": "040069b5f3e0",
		"a1":          "",
	}
	cfg.Browser.Headless = false

	bc := browserConfig(cfg, metrics.New(prometheus.NewRegistry()))
	assert.Equal(t, map[string]string{"web_session": "040069b5f3e0"}, bc.Cookies)
	assert.False(t, bc.Headless)
	assert.Equal(t, 3*time.Second, bc.InitialLoad)
	assert.Equal(t, 2*time.Second, bc.Settle)
	assert.Equal(t, cfg.Retry, bc.Navigate)
	assert.NotNil(t, bc.NavigateObserver)
	require.NoError(t, bc.Validate())
}

func TestLikeStats(t *testing.T) {
	avg, maxLikes := likeStats(nil)
	assert.Zero(t, avg)
	assert.Zero(t, maxLikes)

	avg, maxLikes = likeStats([]*record.Record{{LikedCount: 10}, {LikedCount: 25}, {LikedCount: 0}})
	assert.Equal(t, 11.67, avg)
	assert.Equal(t, int64(25), maxLikes)
}

// execute runs the root command with fresh global flags.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel, resultsDir, metricsAddr, natsURL = "", "", "", "", ""
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "Commit:")
}

func TestReplayCommand(t *testing.T) {
	pages := writePages(t, 8, 3)
	results := t.TempDir()

	out, err := execute(t, "replay",
		"--pages-dir", pages,
		"--keyword", "camping",
		"--max-notes", "4",
		"--results-dir", results,
		"--log-level", "error",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "camping")
	assert.Contains(t, out, "target_reached")

	notes, err := filepath.Glob(filepath.Join(results, "camping_*", "data", session.NotesFile))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	saved, err := session.LoadRecords(notes[0])
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(saved), 4)
}

func TestReplayCommand_RequiresPagesDir(t *testing.T) {
	_, err := execute(t, "replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pages-dir")
}

func TestSearchCommand_RequiresKeyword(t *testing.T) {
	_, err := execute(t, "search", "--spool-dir", t.TempDir(), "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyword")
}

func TestSearchCommand_Spool(t *testing.T) {
	pages := writePages(t, 5, 5)
	results := t.TempDir()

	out, err := execute(t, "search",
		"--keyword", "harbor",
		"--spool-dir", pages,
		"--max-notes", "5",
		"--results-dir", results,
		"--log-level", "error",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "target_reached")

	notes, err := filepath.Glob(filepath.Join(results, "harbor_*", "data", session.NotesFile))
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestSearchCommand_SourceFailureLeavesNoSession(t *testing.T) {
	results := t.TempDir()

	_, err := execute(t, "search",
		"--keyword", "harbor",
		"--spool-dir", filepath.Join(t.TempDir(), "absent"),
		"--results-dir", results,
		"--log-level", "error",
	)
	require.Error(t, err)

	entries, err := os.ReadDir(results)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSearchCommand_InvalidFlags(t *testing.T) {
	_, err := execute(t, "search", "--keyword", "x", "--sort", "newest", "--spool-dir", t.TempDir())
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestCurateCommand(t *testing.T) {
	dir := t.TempDir()
	notesFile := filepath.Join(dir, session.NotesFile)
	records := []*record.Record{
		{ID: "a", Title: "lantern", LikedCount: 5, CollectedCount: 9},
		{ID: "b", Title: "harbor", LikedCount: 50, CollectedCount: 1},
		{ID: "c", Title: "meadow", LikedCount: 20, CollectedCount: 4},
		{ID: "d", Title: "granite", LikedCount: 1, CollectedCount: 0},
	}
	require.NoError(t, session.WriteJSON(notesFile, records))

	out, err := execute(t, "curate",
		"--notes-file", notesFile,
		"--min-likes", "2",
		"--trigger", "1",
		"--top", "2",
		"--sort-by", "collected_count",
		"--log-level", "error",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "loaded")

	saved, err := session.LoadRecords(filepath.Join(dir, PremiumFile))
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, "a", saved[0].ID)
	assert.Equal(t, "c", saved[1].ID)
	for _, r := range saved {
		assert.True(t, r.Selected)
	}
}

func TestCurateCommand_BadSortField(t *testing.T) {
	dir := t.TempDir()
	notesFile := filepath.Join(dir, session.NotesFile)
	require.NoError(t, session.WriteJSON(notesFile, []*record.Record{{ID: "a", Title: "lantern"}}))

	_, err := execute(t, "curate", "--notes-file", notesFile, "--top", "1", "--sort-by", "views", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sort-by")
}
