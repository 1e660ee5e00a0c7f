package browser

import (
	"context"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
	"github.com/fyrsmithlabs/feedcurate/internal/logging"
)

// bodyFetcher retrieves the body of a finished response.
type bodyFetcher func(id network.RequestID) ([]byte, error)

// interceptor turns matching network responses into queued pages. A
// response is matched on EventResponseReceived and its body fetched once
// EventLoadingFinished reports it complete.
type interceptor struct {
	pattern string
	fetch   bodyFetcher
	queue   *ingest.PageQueue
	logger  *logging.Logger

	mu      sync.Mutex
	pending map[network.RequestID]string
	// finished holds responses waiting for their body, in the order
	// EventLoadingFinished reported them. One drain goroutine at most
	// works through it.
	finished []finishedResponse
	draining bool

	wg sync.WaitGroup
}

type finishedResponse struct {
	id  network.RequestID
	url string
}

func newInterceptor(pattern string, fetch bodyFetcher, queue *ingest.PageQueue, logger *logging.Logger) *interceptor {
	return &interceptor{
		pattern: pattern,
		fetch:   fetch,
		queue:   queue,
		logger:  logger,
		pending: make(map[network.RequestID]string),
	}
}

// handle is registered with chromedp.ListenTarget. It must not block, so
// bodies are fetched on a drain goroutine, one at a time, and pages reach
// the queue in the order their responses finished.
func (i *interceptor) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Response == nil || !strings.Contains(e.Response.URL, i.pattern) {
			return
		}
		i.mu.Lock()
		i.pending[e.RequestID] = e.Response.URL
		i.mu.Unlock()

	case *network.EventLoadingFinished:
		url, ok := i.take(e.RequestID)
		if !ok {
			return
		}
		i.enqueue(finishedResponse{id: e.RequestID, url: url})

	case *network.EventLoadingFailed:
		if url, ok := i.take(e.RequestID); ok {
			i.logger.Warn(context.Background(), "intercepted request failed",
				zap.String("url", url),
				zap.String("error", e.ErrorText),
			)
		}
	}
}

func (i *interceptor) take(id network.RequestID) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	url, ok := i.pending[id]
	if ok {
		delete(i.pending, id)
	}
	return url, ok
}

func (i *interceptor) enqueue(r finishedResponse) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.finished = append(i.finished, r)
	if i.draining {
		return
	}
	i.draining = true
	i.wg.Add(1)
	go i.drain()
}

func (i *interceptor) drain() {
	defer i.wg.Done()
	for {
		i.mu.Lock()
		if len(i.finished) == 0 {
			i.draining = false
			i.mu.Unlock()
			return
		}
		r := i.finished[0]
		i.finished = i.finished[1:]
		i.mu.Unlock()

		i.capture(r.id, r.url)
	}
}

func (i *interceptor) capture(id network.RequestID, url string) {
	body, err := i.fetch(id)
	if err != nil {
		i.logger.Warn(context.Background(), "failed to read intercepted body",
			zap.String("url", url),
			zap.Error(err),
		)
		return
	}
	if len(body) == 0 {
		return
	}
	i.queue.Push(ingest.RawPayload(body))
	i.logger.Debug(context.Background(), "intercepted page",
		zap.String("url", url),
		zap.Int("bytes", len(body)),
	)
}

// wait blocks until in-flight captures finish.
func (i *interceptor) wait() {
	i.wg.Wait()
}
