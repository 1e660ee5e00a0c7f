package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
	"github.com/fyrsmithlabs/feedcurate/internal/logging"
	"github.com/fyrsmithlabs/feedcurate/internal/retry"
)

func testConfig() Config {
	return Config{
		Headless:      true,
		BaseURL:       "https://www.xiaohongshu.com",
		ListenPattern: "web/v1/search/notes",
		ScrollPixels:  800,
		InitialLoad:   3 * time.Second,
		Settle:        2 * time.Second,
		CookieDomain:  ".xiaohongshu.com",
		Navigate: retry.Config{
			MaxRetries:    2,
			BaseDelay:     time.Millisecond,
			MaxDelay:      time.Millisecond,
			BackoffFactor: 1,
		},
	}
}

// fakeExec records the actions a Source runs.
type fakeExec struct {
	mu    sync.Mutex
	calls [][]chromedp.Action
	errs  []error
}

func (f *fakeExec) run(_ context.Context, actions ...chromedp.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, actions)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func newTestSource(t *testing.T, cfg Config, exec *fakeExec) (*Source, *[]time.Duration) {
	t.Helper()
	s := newSource(cfg, logging.NewNop(), exec.run)
	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return s, &sleeps
}

func TestBuildSearchURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		keyword string
		want    string
		errMsg  string
	}{
		{
			name:    "plain",
			base:    "https://www.xiaohongshu.com",
			keyword: "coffee",
			want:    "https://www.xiaohongshu.com/search_result?keyword=coffee&source=web_explore_feed&type=51",
		},
		{
			name:    "spaces and reserved characters",
			base:    "https://www.xiaohongshu.com/",
			keyword: "a b&c=d",
			want:    "https://www.xiaohongshu.com/search_result?keyword=a%20b%26c%3Dd&source=web_explore_feed&type=51",
		},
		{
			name:    "non-ascii",
			base:    "https://www.xiaohongshu.com",
			keyword: "咖啡",
			want:    "https://www.xiaohongshu.com/search_result?keyword=%E5%92%96%E5%95%A1&source=web_explore_feed&type=51",
		},
		{name: "empty keyword", base: "https://x.test", keyword: "  ", errMsg: "keyword is required"},
		{name: "relative base", base: "/search", keyword: "k", errMsg: "scheme and host required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildSearchURL(tt.base, tt.keyword, "web_explore_feed", 51)
			if tt.errMsg != "" {
				assert.ErrorContains(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero retry uses defaults", func(c *Config) { c.Navigate = retry.Config{} }, ""},
		{"no base", func(c *Config) { c.BaseURL = "" }, "base url"},
		{"no pattern", func(c *Config) { c.ListenPattern = "" }, "listen pattern"},
		{"zero scroll", func(c *Config) { c.ScrollPixels = 0 }, "scroll pixels"},
		{"negative settle", func(c *Config) { c.Settle = -time.Second }, "pauses"},
		{"bad retry", func(c *Config) { c.Navigate.MaxDelay = time.Nanosecond; c.Navigate.BaseDelay = time.Second }, "max_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)

	cfg := testConfig()
	assert.Len(t, allocatorOptions(cfg), base+1)

	cfg.ExecPath = "/usr/bin/chromium"
	cfg.UserDataDir = "/tmp/profile"
	assert.Len(t, allocatorOptions(cfg), base+3)
}

func TestSource_Open(t *testing.T) {
	cfg := testConfig()
	cfg.Cookies = map[string]string{"web_session": "secret", "a1": "", "webId": "id"}

	exec := &fakeExec{}
	s, sleeps := newTestSource(t, cfg, exec)

	require.NoError(t, s.Open(context.Background(), "coffee", "web_explore_feed", 51))

	require.Len(t, exec.calls, 2)
	assert.Len(t, exec.calls[0], 2, "empty cookie values are skipped")
	for _, a := range exec.calls[0] {
		c, ok := a.(*network.SetCookieParams)
		require.True(t, ok)
		assert.Equal(t, ".xiaohongshu.com", c.Domain)
		assert.Equal(t, "/", c.Path)
	}
	assert.Len(t, exec.calls[1], 1)
	assert.Equal(t, []time.Duration{3 * time.Second}, *sleeps)
}

func TestSource_OpenRetriesNavigation(t *testing.T) {
	exec := &fakeExec{errs: []error{errors.New("net::ERR_CONNECTION_RESET"), errors.New("net::ERR_TIMED_OUT")}}
	s, sleeps := newTestSource(t, testConfig(), exec)

	require.NoError(t, s.Open(context.Background(), "coffee", "web_explore_feed", 51))
	assert.Len(t, exec.calls, 3)
	assert.Len(t, *sleeps, 3, "two backoffs and the initial load")
}

func TestSource_OpenGivesUp(t *testing.T) {
	boom := errors.New("net::ERR_NAME_NOT_RESOLVED")
	exec := &fakeExec{errs: []error{boom, boom, boom, boom}}
	s, _ := newTestSource(t, testConfig(), exec)

	err := s.Open(context.Background(), "coffee", "web_explore_feed", 51)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, exec.calls, 3)
}

func TestSource_Advance(t *testing.T) {
	exec := &fakeExec{}
	s, sleeps := newTestSource(t, testConfig(), exec)

	require.NoError(t, s.Advance(context.Background()))
	require.Len(t, exec.calls, 1)
	assert.Equal(t, []time.Duration{2 * time.Second}, *sleeps)

	exec.errs = []error{errors.New("target closed")}
	assert.ErrorContains(t, s.Advance(context.Background()), "scroll failed")
}

func TestSource_AdvanceRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.AdvanceRate = 0.001
	s, _ := newTestSource(t, cfg, &fakeExec{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Advance(ctx))
	assert.Error(t, s.Advance(ctx))
}

func TestSource_Closed(t *testing.T) {
	s, _ := newTestSource(t, testConfig(), &fakeExec{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Advance(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.Open(context.Background(), "k", "s", 51), ErrClosed)
}

func TestInterceptor(t *testing.T) {
	queue := ingest.NewPageQueue()
	logger := logging.NewTestLogger()
	bodies := map[network.RequestID][]byte{
		"match":  []byte(`{"data":{"items":[]}}`),
		"broken": nil,
	}
	fetch := func(id network.RequestID) ([]byte, error) {
		if b, ok := bodies[id]; ok && b != nil {
			return b, nil
		}
		return nil, errors.New("No resource with given identifier found")
	}
	i := newInterceptor("web/v1/search/notes", fetch, queue, logger.Logger)

	resp := func(id network.RequestID, url string) *network.EventResponseReceived {
		return &network.EventResponseReceived{RequestID: id, Response: &network.Response{URL: url}}
	}

	i.handle(resp("other", "https://edith.xiaohongshu.com/api/sns/web/v1/feed"))
	i.handle(resp("match", "https://edith.xiaohongshu.com/api/sns/web/v1/search/notes"))
	i.handle(resp("broken", "https://edith.xiaohongshu.com/api/sns/web/v1/search/notes?page=2"))
	i.handle(resp("failed", "https://edith.xiaohongshu.com/api/sns/web/v1/search/notes?page=3"))
	i.handle(&network.EventResponseReceived{RequestID: "nil-response"})

	i.handle(&network.EventLoadingFinished{RequestID: "other"})
	i.handle(&network.EventLoadingFinished{RequestID: "match"})
	i.handle(&network.EventLoadingFinished{RequestID: "match"})
	i.handle(&network.EventLoadingFinished{RequestID: "broken"})
	i.handle(&network.EventLoadingFailed{RequestID: "failed", ErrorText: "net::ERR_ABORTED"})
	i.wait()

	assert.Equal(t, 1, queue.Len(), "only the matching finished body is queued, once")
	p, ok := queue.Wait(context.Background(), time.Millisecond)
	require.True(t, ok)
	assert.JSONEq(t, `{"data":{"items":[]}}`, string(p))

	logger.AssertLogged(t, zapcore.WarnLevel, "failed to read intercepted body")
	logger.AssertLogged(t, zapcore.WarnLevel, "intercepted request failed")
	assert.Empty(t, i.pending)
}

func TestInterceptor_KeepsFinishOrder(t *testing.T) {
	queue := ingest.NewPageQueue()
	release := make(chan struct{})
	fetch := func(id network.RequestID) ([]byte, error) {
		if id == "first" {
			// A slow body must not let the next one overtake it.
			<-release
		}
		return []byte(`{"id":"` + string(id) + `"}`), nil
	}
	i := newInterceptor("search/notes", fetch, queue, logging.NewTestLogger().Logger)

	for _, id := range []network.RequestID{"first", "second", "third"} {
		i.handle(&network.EventResponseReceived{RequestID: id, Response: &network.Response{URL: "https://x/search/notes"}})
	}
	for _, id := range []network.RequestID{"first", "second", "third"} {
		i.handle(&network.EventLoadingFinished{RequestID: id})
	}
	assert.Equal(t, 0, queue.Len(), "later bodies wait behind the slow one")
	close(release)
	i.wait()

	var got []string
	for range 3 {
		p, ok := queue.Wait(context.Background(), time.Millisecond)
		require.True(t, ok)
		got = append(got, string(p))
	}
	assert.Equal(t, []string{`{"id":"first"}`, `{"id":"second"}`, `{"id":"third"}`}, got)
}

func TestSource_WaitForNextPage(t *testing.T) {
	s, _ := newTestSource(t, testConfig(), &fakeExec{})

	_, ok := s.WaitForNextPage(context.Background(), time.Millisecond)
	assert.False(t, ok)

	s.queue.Push(ingest.RawPayload(`{}`))
	p, ok := s.WaitForNextPage(context.Background(), time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "{}", string(p))
}
