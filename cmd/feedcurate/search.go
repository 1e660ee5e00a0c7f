package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedcurate/internal/config"
	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
	"github.com/fyrsmithlabs/feedcurate/internal/logging"
	"github.com/fyrsmithlabs/feedcurate/internal/metrics"
	"github.com/fyrsmithlabs/feedcurate/internal/source/browser"
	"github.com/fyrsmithlabs/feedcurate/internal/source/spool"
)

type searchFlags struct {
	keyword     string
	sort        string
	maxNotes    int
	minLikes    int64
	maxAttempts int
	spoolDir    string
	headed      bool
}

func newSearchCmd() *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Collect notes for a keyword and curate them",
		Long: `Collect notes for a keyword from the search results feed.

By default a headless browser opens the search page and captures the feed
responses while scrolling. With --spool-dir (or spool.dir in the config)
pages are instead read from JSON files an external capture tool drops into
that directory.

Examples:
  # Collect up to 100 notes with at least 50 likes
  feedcurate search --keyword "camping gear" --max-notes 100 --min-likes 50

  # Consume pages from a capture spool
  feedcurate search --keyword skincare --spool-dir ./spool`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearch(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.keyword, "keyword", "k", "", "search keyword (default search.keyword)")
	fl.StringVar(&f.sort, "sort", "", "sort order: time_descending, hot, comprehensive")
	fl.IntVarP(&f.maxNotes, "max-notes", "n", 0, "number of notes to collect")
	fl.Int64Var(&f.minLikes, "min-likes", 0, "drop notes with fewer likes")
	fl.IntVar(&f.maxAttempts, "max-attempts", 0, "give up after this many page waits")
	fl.StringVar(&f.spoolDir, "spool-dir", "", "read pages from this spool directory instead of a browser")
	fl.BoolVar(&f.headed, "headed", false, "show the browser window")
	return cmd
}

// apply copies the flags that were set over cfg.
func (f searchFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if f.keyword != "" {
		cfg.Search.Keyword = f.keyword
	}
	if f.sort != "" {
		cfg.Search.Sort = f.sort
	}
	if flags.Changed("max-notes") {
		cfg.Search.MaxNotes = f.maxNotes
	}
	if flags.Changed("min-likes") {
		cfg.Search.MinLikes = f.minLikes
	}
	if flags.Changed("max-attempts") {
		cfg.Ingest.MaxAttempts = f.maxAttempts
	}
	if f.spoolDir != "" {
		cfg.Spool.Dir = f.spoolDir
	}
	if f.headed {
		cfg.Browser.Headless = false
	}
}

func runSearch(cmd *cobra.Command, f searchFlags) (err error) {
	a, err := newApp(cmd, func(cfg *config.Config) { f.apply(cmd, cfg) })
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.close(context.WithoutCancel(cmd.Context())))
	}()

	keyword := a.cfg.Search.Keyword
	if keyword == "" {
		return errors.New("a keyword is required: pass --keyword or set search.keyword")
	}
	ctx := cmd.Context()

	p := newPipeline(a)
	pub, err := a.publisher(ctx)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
		p.publisher = pub
	}

	// The session directory is created only once the feed is open, so a
	// failed browser start leaves nothing behind.
	src, closeSrc, err := openSource(ctx, a, keyword)
	if err != nil {
		return err
	}
	defer closeSrc()

	sess, err := p.newSession(keyword)
	if err != nil {
		return err
	}
	a.logger.Info(logging.WithSessionID(ctx, sess.ID), "search started",
		zap.String("keyword", keyword),
		zap.String("sort", a.cfg.Search.Sort),
		zap.Int("max_notes", a.cfg.Search.MaxNotes),
		zap.Int64("min_likes", a.cfg.Search.MinLikes),
		zap.String("dir", sess.Dir),
	)

	out, err := p.run(ctx, src, sess)
	if err != nil {
		return err
	}
	printSummary(a.out, out)
	return nil
}

// openSource returns the spool source when a spool directory is configured
// and the browser source otherwise.
func openSource(ctx context.Context, a *app, keyword string) (ingest.FeedSource, func(), error) {
	if dir := a.cfg.Spool.Dir; dir != "" {
		src, err := spool.New(dir,
			spool.WithPattern(a.cfg.Spool.Pattern),
			spool.WithAdvanceRate(a.cfg.Spool.AdvanceRate),
			spool.WithLogger(a.logger.Component("spool")),
		)
		if err != nil {
			return nil, nil, err
		}
		if err := src.Start(ctx); err != nil {
			_ = src.Close()
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	}

	a.logger.Info(ctx, "starting browser",
		zap.Bool("headless", a.cfg.Browser.Headless),
		zap.Strings("cookie_names", a.cfg.Browser.Cookies.Names()),
	)
	src, err := browser.New(ctx, browserConfig(a.cfg, a.metrics), a.logger.Component("browser"))
	if err != nil {
		return nil, nil, err
	}
	if err := src.Open(ctx, keyword, a.cfg.Search.Source, a.cfg.Search.NoteType); err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("failed to open search page: %w", err)
	}
	return src, func() { _ = src.Close() }, nil
}

// browserConfig maps the browser section onto browser.Config.
func browserConfig(cfg *config.Config, m *metrics.Metrics) browser.Config {
	b := cfg.Browser
	bc := browser.Config{
		ExecPath:      b.ExecPath,
		Headless:      b.Headless,
		UserDataDir:   b.UserDataDir,
		BaseURL:       b.BaseURL,
		ListenPattern: b.ListenPattern,
		ScrollPixels:  b.ScrollPixels,
		InitialLoad:   b.InitialLoad.Duration(),
		Settle:        b.Settle.Duration(),
		AdvanceRate:   b.AdvanceRate,
		Cookies:       b.Cookies.Values(),
		CookieDomain:  b.CookieDomain,
		Navigate:      cfg.Retry,
	}
	if m != nil {
		bc.NavigateObserver = m.RetryObserver("navigate")
	}
	return bc
}
