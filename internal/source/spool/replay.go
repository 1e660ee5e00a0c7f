package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/maruel/natural"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
)

// Replay serves the page files of a directory in natural name order, so
// debug_response_<ts>_10.json follows _9.json. Once the files run out every
// wait reports no page immediately.
type Replay struct {
	pages   []ingest.RawPayload
	next    int
	limiter *rate.Limiter
}

var _ ingest.FeedSource = (*Replay)(nil)

// NewReplay loads every matching file in dir. Empty files are skipped.
func NewReplay(dir string, opts ...Option) (*Replay, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := checkDir(dir); err != nil {
		return nil, err
	}

	names, err := matchingFiles(dir, o.pattern)
	if err != nil {
		return nil, err
	}

	r := &Replay{limiter: newLimiter(o.advanceRate)}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read replay page: %w", err)
		}
		if len(data) == 0 {
			continue
		}
		r.pages = append(r.pages, data)
	}
	o.logger.Info(context.Background(), "replay pages loaded",
		zap.String("dir", dir),
		zap.Int("pages", len(r.pages)),
	)
	return r, nil
}

// Len returns the number of loaded pages.
func (r *Replay) Len() int { return len(r.pages) }

// WaitForNextPage returns the next page without waiting.
func (r *Replay) WaitForNextPage(ctx context.Context, _ time.Duration) (ingest.RawPayload, bool) {
	if ctx.Err() != nil || r.next >= len(r.pages) {
		return nil, false
	}
	p := r.pages[r.next]
	r.next++
	return p, true
}

// Advance paces the loop.
func (r *Replay) Advance(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// matchingFiles lists regular files in dir whose names match pattern, in
// natural order.
func matchingFiles(dir, pattern string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Sort(natural.StringSlice(names))
	return names, nil
}
