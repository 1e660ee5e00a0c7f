package ingest

import (
	"context"
	"fmt"
	"time"
)

// RawPayload is one intercepted response body, as raw JSON.
type RawPayload []byte

// FeedSource produces raw response pages and can be told to load more.
//
// WaitForNextPage blocks for at most timeout and reports false when no page
// arrived. Advance triggers further loading (a scroll, a cursor fetch) and
// must not block for longer than its own pacing requires.
type FeedSource interface {
	WaitForNextPage(ctx context.Context, timeout time.Duration) (RawPayload, bool)
	Advance(ctx context.Context) error
}

// PageRecorder receives raw pages for offline inspection.
type PageRecorder interface {
	RecordPage(ctx context.Context, seq int, payload RawPayload) error
}

// State is a state of the ingestion loop.
type State int

const (
	AwaitingPage State = iota
	ProcessingItems
	Advancing
	TargetReached
	Exhausted
	// Canceled is entered when the caller's context ends.
	Canceled
)

var stateNames = [...]string{
	AwaitingPage:    "awaiting_page",
	ProcessingItems: "processing_items",
	Advancing:       "advancing",
	TargetReached:   "target_reached",
	Exhausted:       "exhausted",
	Canceled:        "canceled",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool {
	return s == TargetReached || s == Exhausted || s == Canceled
}
