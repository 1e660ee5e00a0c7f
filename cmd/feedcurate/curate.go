package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedcurate/internal/config"
	"github.com/fyrsmithlabs/feedcurate/internal/curate"
	"github.com/fyrsmithlabs/feedcurate/internal/logging"
	"github.com/fyrsmithlabs/feedcurate/internal/record"
	"github.com/fyrsmithlabs/feedcurate/internal/session"
)

// PremiumFile is the default output name of the curate command, written
// next to the input notes file.
const PremiumFile = "premium_notes.json"

type curateFlags struct {
	notesFile string
	out       string

	minLikes    int64
	minComments int64
	minCollects int64
	minRate     float64

	trigger     int
	selectCount int
	threshold   float64

	top    int
	sortBy string
}

func newCurateCmd() *cobra.Command {
	var f curateFlags
	cmd := &cobra.Command{
		Use:   "curate",
		Short: "Rank and select a premium subset of a saved notes file",
		Long: `Curate reloads a notes.json written by search and runs only the quality
filters and the diversity-aware premium selection over it.

Examples:
  # Re-select with a stricter diversity threshold
  feedcurate curate --notes-file results/skincare_20250101_120000/data/notes.json --threshold 0.4

  # Keep notes with 100+ likes and output the 10 most collected
  feedcurate curate --notes-file notes.json --min-likes 100 --top 10 --sort-by collected_count`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCurate(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.notesFile, "notes-file", "", "notes.json to curate")
	fl.StringVarP(&f.out, "out", "o", "", "output file (default premium_notes.json next to the notes file)")
	fl.Int64Var(&f.minLikes, "min-likes", 0, "minimum likes")
	fl.Int64Var(&f.minComments, "min-comments", 0, "minimum comments")
	fl.Int64Var(&f.minCollects, "min-collects", 0, "minimum collects")
	fl.Float64Var(&f.minRate, "min-engagement-rate", 0, "minimum engagement rate")
	fl.IntVar(&f.trigger, "trigger", 0, "select only when more notes than this remain (default curate.trigger)")
	fl.IntVar(&f.selectCount, "select-count", 0, "premium set size (default curate.select_count)")
	fl.Float64Var(&f.threshold, "threshold", 0, "diversity threshold in (0,1] (default curate.diversity_threshold)")
	fl.IntVar(&f.top, "top", 0, "keep only the top N notes by --sort-by")
	fl.StringVar(&f.sortBy, "sort-by", string(curate.ByQualityScore), "field for --top")
	_ = cmd.MarkFlagRequired("notes-file")
	return cmd
}

func (f curateFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("trigger") {
		cfg.Curate.Trigger = f.trigger
	}
	if flags.Changed("select-count") {
		cfg.Curate.SelectCount = f.selectCount
	}
	if flags.Changed("threshold") {
		cfg.Curate.DiversityThreshold = f.threshold
	}
}

func (f curateFlags) outPath() string {
	if f.out != "" {
		return f.out
	}
	return filepath.Join(filepath.Dir(f.notesFile), PremiumFile)
}

// curateOutcome is what the curate summary reports.
type curateOutcome struct {
	Loaded   int
	Filtered int
	Selected bool
	Records  []*record.Record
	Path     string
}

func runCurate(cmd *cobra.Command, f curateFlags) (err error) {
	a, err := newApp(cmd, func(cfg *config.Config) { f.apply(cmd, cfg) })
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.close(context.WithoutCancel(cmd.Context())))
	}()

	// No session exists here; the run ID ties this command's log lines together.
	ctx := logging.WithRunID(cmd.Context(), uuid.NewString())
	out, err := curateFile(ctx, a, f)
	if err != nil {
		return err
	}
	printCurateSummary(a.out, out)
	return nil
}

func curateFile(ctx context.Context, a *app, f curateFlags) (*curateOutcome, error) {
	records, err := session.LoadRecords(f.notesFile)
	if err != nil {
		return nil, err
	}

	out := &curateOutcome{Loaded: len(records)}
	records = curate.FilterByInteraction(records, f.minLikes, f.minComments, f.minCollects)
	if f.minRate > 0 {
		records = curate.FilterByEngagementRate(records, f.minRate)
	}
	out.Filtered = len(records)

	selected, ok, err := selectPremium(ctx, a.cfg, a.logger, a.tel.Tracer("feedcurate"), records)
	if err != nil {
		return nil, err
	}
	if ok {
		records = curate.Records(selected)
		out.Selected = true
		a.metrics.ObserveSelection(len(selected))
	}

	if f.top > 0 {
		records, err = curate.TopN(records, f.top, curate.SortField(f.sortBy))
		if err != nil {
			return nil, fmt.Errorf("invalid --sort-by: %w", err)
		}
	}
	out.Records = records

	out.Path = f.outPath()
	if err := session.WriteJSON(out.Path, records); err != nil {
		return nil, err
	}
	a.logger.Info(ctx, "curated notes written",
		zap.String("path", out.Path),
		zap.Int("loaded", out.Loaded),
		zap.Int("kept", len(records)),
		zap.Bool("selected", out.Selected),
	)
	return out, nil
}
