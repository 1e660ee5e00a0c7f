// Package browser implements a feed source that drives a headless Chrome
// session over the DevTools protocol.
//
// The source opens the search result page, listens for responses whose URL
// contains the listen pattern and queues their bodies as pages. Advance
// scrolls the page so the site requests the next batch.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
	"github.com/fyrsmithlabs/feedcurate/internal/logging"
	"github.com/fyrsmithlabs/feedcurate/internal/retry"
)

// ErrClosed is returned by operations on a closed Source.
var ErrClosed = errors.New("browser source closed")

// Config drives a Source.
type Config struct {
	ExecPath    string
	Headless    bool
	UserDataDir string

	BaseURL       string
	ListenPattern string
	ScrollPixels  int

	// InitialLoad is the pause after navigation before the first wait.
	InitialLoad time.Duration
	// Settle is the pause after each scroll.
	Settle time.Duration
	// AdvanceRate limits scrolls per second. Zero disables the limit.
	AdvanceRate float64

	Cookies      map[string]string
	CookieDomain string

	// Navigate bounds retries of the initial page load.
	Navigate retry.Config
	// NavigateObserver is notified of each navigation retry.
	NavigateObserver retry.Observer
}

// Validate checks the fields a search needs.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("browser base url is required")
	}
	if c.ListenPattern == "" {
		return errors.New("browser listen pattern is required")
	}
	if c.ScrollPixels <= 0 {
		return fmt.Errorf("browser scroll pixels must be positive, got %d", c.ScrollPixels)
	}
	if c.InitialLoad < 0 || c.Settle < 0 {
		return errors.New("browser pauses must not be negative")
	}
	nav := c.Navigate
	nav.ApplyDefaults()
	return nav.Validate()
}

// executor runs DevTools actions against the page.
type executor func(ctx context.Context, actions ...chromedp.Action) error

// Source is an ingest.FeedSource backed by a browser tab.
type Source struct {
	cfg     Config
	logger  *logging.Logger
	limiter *rate.Limiter
	queue   *ingest.PageQueue
	listen  *interceptor
	exec    executor
	sleep   func(ctx context.Context, d time.Duration) error

	cancel func()
	closed bool
}

var _ ingest.FeedSource = (*Source)(nil)

// New starts a browser. Close releases it.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelTab()
		cancelAlloc()
	}

	s := newSource(cfg, logger, func(ctx context.Context, actions ...chromedp.Action) error {
		runCtx, stop := context.WithCancel(tabCtx)
		defer stop()
		release := context.AfterFunc(ctx, stop)
		defer release()
		return chromedp.Run(runCtx, actions...)
	})
	s.cancel = cancel
	s.listen.fetch = func(id network.RequestID) ([]byte, error) {
		var body []byte
		err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		return body, err
	}

	// The first Run allocates the browser and binds its lifetime to the
	// context it is given, so it must use tabCtx itself.
	chromedp.ListenTarget(tabCtx, s.listen.handle)
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	logger.Info(ctx, "browser started",
		zap.Bool("headless", cfg.Headless),
		zap.String("listen_pattern", cfg.ListenPattern),
	)
	return s, nil
}

func newSource(cfg Config, logger *logging.Logger, exec executor) *Source {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.AdvanceRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.AdvanceRate), 1)
	}
	queue := ingest.NewPageQueue()
	return &Source{
		cfg:     cfg,
		logger:  logger,
		limiter: limiter,
		queue:   queue,
		listen:  newInterceptor(cfg.ListenPattern, nil, queue, logger),
		exec:    exec,
		sleep:   sleepContext,
	}
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	return opts
}

// Open injects cookies, navigates to the search page for keyword and waits
// for the initial load. Navigation is retried per cfg.Navigate.
func (s *Source) Open(ctx context.Context, keyword, source string, noteType int) error {
	if s.closed {
		return ErrClosed
	}
	target, err := BuildSearchURL(s.cfg.BaseURL, keyword, source, noteType)
	if err != nil {
		return err
	}

	if actions := s.cookieActions(); len(actions) > 0 {
		if err := s.exec(ctx, actions...); err != nil {
			return fmt.Errorf("failed to set cookies: %w", err)
		}
	}

	s.logger.Info(ctx, "opening search page", zap.String("url", target))
	err = retry.Do(ctx, s.cfg.Navigate, func(ctx context.Context) error {
		return s.exec(ctx, chromedp.Navigate(target))
	},
		retry.WithObserver(retry.Observers(
			retry.LogObserver(s.logger.Underlying(), "navigate"),
			s.cfg.NavigateObserver,
		)),
		retry.WithSleep(s.sleep),
	)
	if err != nil {
		return fmt.Errorf("failed to open search page: %w", err)
	}
	return s.sleep(ctx, s.cfg.InitialLoad)
}

func (s *Source) cookieActions() []chromedp.Action {
	actions := make([]chromedp.Action, 0, len(s.cfg.Cookies))
	for name, value := range s.cfg.Cookies {
		if value == "" {
			continue
		}
		actions = append(actions, network.SetCookie(name, value).
			WithDomain(s.cfg.CookieDomain).
			WithPath("/"))
	}
	return actions
}

// WaitForNextPage returns the next intercepted body.
func (s *Source) WaitForNextPage(ctx context.Context, timeout time.Duration) (ingest.RawPayload, bool) {
	return s.queue.Wait(ctx, timeout)
}

// Advance scrolls down by the configured distance and pauses for the page
// to settle.
func (s *Source) Advance(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	script := fmt.Sprintf("window.scrollBy(0, %d)", s.cfg.ScrollPixels)
	if err := s.exec(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return s.sleep(ctx, s.cfg.Settle)
}

// Close shuts the browser down.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.listen.wait()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
