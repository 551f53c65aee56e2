package headless

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestNewRendererRejectsNegativeParallelism(t *testing.T) {
	t.Parallel()

	_, err := NewRenderer(Config{MaxParallel: -1})
	require.Error(t, err)
}

func TestNetworkTrackerIdle(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(1700000000, 0)}
	tracker := newNetworkTracker(clock)

	tracker.observe(&network.EventRequestWillBeSent{RequestID: "1"})
	tracker.observe(&network.EventRequestWillBeSent{RequestID: "2"})
	clock.advance(time.Second)
	require.False(t, tracker.idleFor(500*time.Millisecond), "requests still in flight")
	require.Equal(t, 2, tracker.inFlight())

	tracker.observe(&network.EventLoadingFinished{RequestID: "1"})
	tracker.observe(&network.EventLoadingFailed{RequestID: "2"})
	require.False(t, tracker.idleFor(500*time.Millisecond), "quiet window has not elapsed")

	clock.advance(600 * time.Millisecond)
	require.True(t, tracker.idleFor(500*time.Millisecond))

	tracker.observe("unrelated event")
	require.True(t, tracker.idleFor(500*time.Millisecond), "unrelated events do not reset the window")
}

func TestNetworkTrackerDocumentResponse(t *testing.T) {
	t.Parallel()

	tracker := newNetworkTracker(&stepClock{})
	tracker.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://example.com/app.js"},
	})
	require.Zero(t, tracker.documentStatus())

	tracker.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://example.com/home"},
	})
	require.Equal(t, 200, tracker.documentStatus())
	require.Equal(t, "https://example.com/home", tracker.documentURL())
}

func TestRendererFetch(t *testing.T) {
	renderer, err := NewRenderer(Config{MaxParallel: 1, NavigationTimeout: 20 * time.Second})
	if err != nil {
		t.Skipf("chrome not available: %v", err)
	}
	t.Cleanup(renderer.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Rendered</title></head><body>
<div id="root"></div>
<a href="/next">Next</a>
<script>document.getElementById("root").textContent = "built by script";</script>
</body></html>`))
	}))
	t.Cleanup(srv.Close)
	host := mustHost(t, srv.URL)

	page, err := renderer.Fetch(context.Background(), srv.URL, host)
	require.NoError(t, err)
	require.Equal(t, crawler.StrategyRendered, page.Strategy)
	require.Equal(t, "Rendered", page.Title)
	require.Contains(t, page.Text, "built by script")
	require.Equal(t, []string{srv.URL + "/next"}, page.Links)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = renderer.Fetch(ctx, srv.URL, host)
	require.True(t, crawler.IsCancellation(err), "got %v", err)
}

func mustHost(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Hostname()
}
