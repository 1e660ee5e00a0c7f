package ingest

import (
	"context"
	"sync"
	"time"
)

// PageQueue is an unbounded FIFO of pages with a timed wait. Producers
// such as filesystem watchers and network listeners push from their own
// goroutines; the loop pops through WaitForNextPage.
type PageQueue struct {
	mu    sync.Mutex
	pages []RawPayload
	ready chan struct{}
}

// NewPageQueue creates an empty queue.
func NewPageQueue() *PageQueue {
	return &PageQueue{ready: make(chan struct{}, 1)}
}

// Push appends a page. It never blocks.
func (q *PageQueue) Push(p RawPayload) {
	q.mu.Lock()
	q.pages = append(q.pages, p)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of queued pages.
func (q *PageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pages)
}

// Wait pops the oldest page, waiting up to timeout for one to arrive.
func (q *PageQueue) Wait(ctx context.Context, timeout time.Duration) (RawPayload, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if p, ok := q.pop(); ok {
			return p, true
		}
		select {
		case <-q.ready:
		case <-timer.C:
			return q.pop()
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *PageQueue) pop() (RawPayload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pages) == 0 {
		return nil, false
	}
	p := q.pages[0]
	q.pages[0] = nil
	q.pages = q.pages[1:]
	return p, true
}
