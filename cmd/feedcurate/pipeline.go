package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedcurate/internal/config"
	"github.com/fyrsmithlabs/feedcurate/internal/curate"
	"github.com/fyrsmithlabs/feedcurate/internal/handoff"
	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
	"github.com/fyrsmithlabs/feedcurate/internal/logging"
	"github.com/fyrsmithlabs/feedcurate/internal/metrics"
	"github.com/fyrsmithlabs/feedcurate/internal/normalize"
	"github.com/fyrsmithlabs/feedcurate/internal/record"
	"github.com/fyrsmithlabs/feedcurate/internal/session"
)

// recordPublisher hands records to the next stage.
type recordPublisher interface {
	Publish(ctx context.Context, sessionID, keyword string, stage handoff.Stage, records []*record.Record) error
}

// pipeline runs ingest, selection, persistence and hand-off for one keyword.
type pipeline struct {
	cfg       *config.Config
	logger    *logging.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	publisher recordPublisher
	now       func() time.Time
	newRunID  func() string

	sessionOpts []session.Option
}

// outcome is everything the summary reports about a run.
type outcome struct {
	RunID    string
	Session  *session.Session
	Result   *ingest.Result
	Records  []*record.Record
	Selected bool

	NotesPath  string
	ReportPath string
	HandedOff  handoff.Stage
	HandoffErr error
}

func newPipeline(a *app) *pipeline {
	return &pipeline{
		cfg:      a.cfg,
		logger:   a.logger,
		metrics:  a.metrics,
		tracer:   a.tel.Tracer("feedcurate"),
		now:      a.now,
		newRunID: uuid.NewString,
	}
}

// run drives src to completion and writes the session artefacts. A failed
// hand-off is reported in the outcome but does not fail the run, since the
// records are already on disk.
func (p *pipeline) run(ctx context.Context, src ingest.FeedSource, sess *session.Session) (*outcome, error) {
	runID := p.runID()
	ctx = logging.WithSessionID(ctx, sess.ID)
	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithKeyword(ctx, sess.Keyword)

	n, err := p.normalizer()
	if err != nil {
		return nil, err
	}

	ingestLog := p.logger.Component("ingest")
	opts := []ingest.Option{
		ingest.WithLogger(ingestLog),
		ingest.WithTracer(p.tracer),
		ingest.WithObserver(ingest.Multi{
			ingest.NewLogObserver(ingestLog),
			p.metrics.IngestObserver(),
		}),
	}
	if p.cfg.Ingest.DebugPages > 0 && p.cfg.Output.DebugDir != "" {
		opts = append(opts, ingest.WithPageRecorder(
			session.NewDebugDumper(p.cfg.Output.DebugDir, ingestLog),
			p.cfg.Ingest.DebugPages,
		))
	}

	res, err := ingest.NewLoop(n, opts...).Run(ctx, src, ingest.Params{
		TargetCount: p.cfg.Search.MaxNotes,
		MaxAttempts: p.cfg.Ingest.MaxAttempts,
		MinLikes:    p.cfg.Search.MinLikes,
		WaitTimeout: p.cfg.Ingest.WaitTimeout.Duration(),
	})
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveRun(res)

	out := &outcome{RunID: runID, Session: sess, Result: res, Records: res.Records}

	selected, ok, err := selectPremium(ctx, p.cfg, p.logger, p.tracer, res.Records)
	if err != nil {
		return nil, err
	}
	if ok {
		out.Records = curate.Records(selected)
		out.Selected = true
		p.metrics.ObserveSelection(len(selected))
	}

	if out.NotesPath, err = sess.WriteRecords(out.Records); err != nil {
		return nil, fmt.Errorf("failed to write records: %w", err)
	}
	selectedCount := 0
	if out.Selected {
		selectedCount = len(out.Records)
	}
	report := sess.NewReport(res, selectedCount, p.now())
	report.RunID = runID
	if out.ReportPath, err = sess.WriteReport(report); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	p.logger.Info(ctx, "session saved",
		zap.String("notes", out.NotesPath),
		zap.String("report", out.ReportPath),
		zap.Int("records", len(out.Records)),
	)

	if p.publisher != nil && len(out.Records) > 0 {
		stage := handoff.StageIngested
		if out.Selected {
			stage = handoff.StageCurated
		}
		if err := p.publisher.Publish(ctx, sess.ID, sess.Keyword, stage, out.Records); err != nil {
			out.HandoffErr = err
			p.logger.Error(ctx, "hand-off failed", zap.Error(err))
		} else {
			out.HandedOff = stage
			p.metrics.ObserveHandoff(string(stage), len(out.Records))
		}
	}
	return out, nil
}

// runID identifies one ingest run in logs and in the report.
func (p *pipeline) runID() string {
	if p.newRunID == nil {
		return uuid.NewString()
	}
	return p.newRunID()
}

func (p *pipeline) normalizer() (*normalize.Normalizer, error) {
	if p.cfg.Ingest.AliasTable == "" {
		return normalize.New(), nil
	}
	table, err := normalize.LoadAliasTable(p.cfg.Ingest.AliasTable)
	if err != nil {
		return nil, fmt.Errorf("failed to load alias table: %w", err)
	}
	return normalize.New(normalize.WithAliasTable(table)), nil
}

// newSession creates the session directory for keyword.
func (p *pipeline) newSession(keyword string) (*session.Session, error) {
	opts := append([]session.Option{session.WithClock(p.now)}, p.sessionOpts...)
	sess, err := session.New(p.cfg.Output.ResultsDir, keyword, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// selectPremium winnows records when the pool exceeds the trigger. ok is
// false when the pool was left as is.
func selectPremium(ctx context.Context, cfg *config.Config, logger *logging.Logger, tracer trace.Tracer, records []*record.Record) (selected []curate.Scored, ok bool, err error) {
	if !curate.ShouldSelect(len(records), cfg.Curate.Trigger) {
		return nil, false, nil
	}
	sel, err := curate.NewSelector(
		curate.WithWeights(curate.Weights(cfg.Curate.Weights)),
		curate.WithLogger(logger.Component("curate")),
		curate.WithTracer(tracer),
	)
	if err != nil {
		return nil, false, err
	}
	n := curate.SelectCount(len(records))
	if cfg.Curate.SelectCount > 0 {
		n = min(cfg.Curate.SelectCount, len(records))
	}
	selected, err = sel.SelectPremium(ctx, records, n, cfg.Curate.DiversityThreshold)
	if err != nil {
		return nil, false, err
	}
	return selected, true, nil
}
