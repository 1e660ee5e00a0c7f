package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedcurate/internal/config"
	"github.com/fyrsmithlabs/feedcurate/internal/source/spool"
)

type replayFlags struct {
	pagesDir string
	pattern  string
	keyword  string
	maxNotes int
	minLikes int64
}

func newReplayCmd() *cobra.Command {
	var f replayFlags
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run ingest and curation over saved response pages",
		Long: `Replay feeds previously captured response pages, such as the debug dumps
written by search, through the same ingest and curation pipeline. Pages are
read in natural name order, so debug_response_..._10.json follows _9.

Examples:
  feedcurate replay --pages-dir logs/debug --keyword skincare`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplay(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.pagesDir, "pages-dir", "", "directory of saved response pages")
	fl.StringVar(&f.pattern, "pattern", "", "page file glob (default spool.pattern)")
	fl.StringVarP(&f.keyword, "keyword", "k", "replay", "keyword used to name the session")
	fl.IntVarP(&f.maxNotes, "max-notes", "n", 0, "number of notes to collect")
	fl.Int64Var(&f.minLikes, "min-likes", 0, "drop notes with fewer likes")
	_ = cmd.MarkFlagRequired("pages-dir")
	return cmd
}

func (f replayFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if f.pattern != "" {
		cfg.Spool.Pattern = f.pattern
	}
	if flags.Changed("max-notes") {
		cfg.Search.MaxNotes = f.maxNotes
	}
	if flags.Changed("min-likes") {
		cfg.Search.MinLikes = f.minLikes
	}
	// Replayed pages are already on disk.
	cfg.Ingest.DebugPages = 0
}

func runReplay(cmd *cobra.Command, f replayFlags) (err error) {
	a, err := newApp(cmd, func(cfg *config.Config) { f.apply(cmd, cfg) })
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.close(context.WithoutCancel(cmd.Context())))
	}()

	src, err := spool.NewReplay(f.pagesDir,
		spool.WithPattern(a.cfg.Spool.Pattern),
		spool.WithAdvanceRate(0),
		spool.WithLogger(a.logger.Component("spool")),
	)
	if err != nil {
		return err
	}
	if src.Len() == 0 {
		a.logger.Warn(cmd.Context(), "no pages to replay",
			zap.String("dir", f.pagesDir),
			zap.String("pattern", a.cfg.Spool.Pattern),
		)
	}

	p := newPipeline(a)
	pub, err := a.publisher(cmd.Context())
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
		p.publisher = pub
	}

	sess, err := p.newSession(f.keyword)
	if err != nil {
		return err
	}
	out, err := p.run(cmd.Context(), src, sess)
	if err != nil {
		return err
	}
	printSummary(a.out, out)
	return nil
}
