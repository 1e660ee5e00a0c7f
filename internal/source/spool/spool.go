// Package spool provides feed sources backed by a directory of captured
// response pages.
//
// Source watches a spool directory that an external capture tool drops
// page files into. Replay serves a finished directory, such as the debug
// dumps of an earlier run, in name order.
package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
	"github.com/fyrsmithlabs/feedcurate/internal/logging"
)

const (
	// DefaultPattern matches page files.
	DefaultPattern = "*.json"

	// DefaultAdvanceRate is the number of Advance calls allowed per second.
	DefaultAdvanceRate = 10.0
)

var (
	// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
	ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

	// ErrNotDirectory is returned when the spool path is not a directory.
	ErrNotDirectory = errors.New("spool path is not a directory")
)

// Option configures a Source or Replay.
type Option func(*options)

type options struct {
	pattern     string
	advanceRate float64
	logger      *logging.Logger
}

// WithPattern sets the glob that page file names must match.
func WithPattern(pattern string) Option {
	return func(o *options) {
		if pattern != "" {
			o.pattern = pattern
		}
	}
}

// WithAdvanceRate limits Advance to rps calls per second. Zero or less
// disables the limit.
func WithAdvanceRate(rps float64) Option {
	return func(o *options) { o.advanceRate = rps }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) (options, error) {
	o := options{
		pattern:     DefaultPattern,
		advanceRate: DefaultAdvanceRate,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := filepath.Match(o.pattern, ""); err != nil {
		return o, fmt.Errorf("invalid spool pattern %q: %w", o.pattern, err)
	}
	return o, nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// Source yields page files as they appear in a watched directory.
//
// Producers should write each page under a non-matching name and rename it
// into place; a file is read once, on the first event that finds it
// non-empty.
type Source struct {
	dir     string
	opts    options
	watcher *fsnotify.Watcher
	limiter *rate.Limiter

	queue *ingest.PageQueue

	mu   sync.Mutex
	seen map[string]bool

	stop     chan struct{}
	stopOnce sync.Once
}

var _ ingest.FeedSource = (*Source)(nil)

// New creates a Source watching dir. Call Start before the first wait and
// Close when done.
func New(dir string, opts ...Option) (*Source, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := checkDir(dir); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Source{
		dir:     dir,
		opts:    o,
		watcher: watcher,
		limiter: newLimiter(o.advanceRate),
		queue:   ingest.NewPageQueue(),
		seen:    make(map[string]bool),
		stop:    make(chan struct{}),
	}, nil
}

// Start begins watching. Files already present are queued first, in name
// order.
func (s *Source) Start(ctx context.Context) error {
	if err := s.watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}

	names, err := matchingFiles(s.dir, s.opts.pattern)
	if err != nil {
		return err
	}
	for _, name := range names {
		s.consume(ctx, filepath.Join(s.dir, name))
	}

	go s.processEvents(ctx)
	return nil
}

// Close stops the watcher.
func (s *Source) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		err = s.watcher.Close()
	})
	return err
}

// WaitForNextPage returns the next queued page, waiting up to timeout.
func (s *Source) WaitForNextPage(ctx context.Context, timeout time.Duration) (ingest.RawPayload, bool) {
	return s.queue.Wait(ctx, timeout)
}

// Advance paces the loop. The capture tool drives pagination, so there is
// nothing to trigger.
func (s *Source) Advance(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

func (s *Source) processEvents(ctx context.Context) {
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !s.matches(event.Name) {
				continue
			}
			s.consume(ctx, event.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.opts.logger.Warn(ctx, "spool watcher error", zap.Error(err))
		}
	}
}

func (s *Source) matches(path string) bool {
	ok, _ := filepath.Match(s.opts.pattern, filepath.Base(path))
	return ok
}

// consume reads path once and queues it. Empty files are left for a later
// write event.
func (s *Source) consume(ctx context.Context, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[path] {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.opts.logger.Warn(ctx, "failed to read spool file", zap.String("path", path), zap.Error(err))
		}
		return
	}
	if len(data) == 0 {
		return
	}
	s.seen[path] = true
	s.queue.Push(data)
	s.opts.logger.Debug(ctx, "spool page queued", zap.String("path", path), zap.Int("bytes", len(data)))
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("spool directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}
	return nil
}
