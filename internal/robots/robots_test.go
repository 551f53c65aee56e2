package robots

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRobotsServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestCheckerHonoursDisallow(t *testing.T) {
	t.Parallel()

	srv, hits := newRobotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /private\n")
	checker := NewChecker(Config{UserAgent: "sitecrawler/1.0", Client: srv.Client()})
	ctx := context.Background()

	require.True(t, checker.Allowed(ctx, srv.URL+"/public"))
	require.False(t, checker.Allowed(ctx, srv.URL+"/private"))
	require.False(t, checker.Allowed(ctx, srv.URL+"/private/deep?x=1"))
	require.True(t, checker.Allowed(ctx, srv.URL))
	require.EqualValues(t, 1, hits.Load(), "robots.txt is fetched once per domain")
}

func TestCheckerPrefersSpecificAgentGroup(t *testing.T) {
	t.Parallel()

	body := "User-agent: sitecrawler\nDisallow: /\n\nUser-agent: *\nAllow: /\n"
	srv, _ := newRobotsServer(t, http.StatusOK, body)
	ctx := context.Background()

	ours := NewChecker(Config{UserAgent: "sitecrawler/1.0", Client: srv.Client()})
	require.False(t, ours.Allowed(ctx, srv.URL+"/anything"))

	other := NewChecker(Config{UserAgent: "otherbot", Client: srv.Client()})
	require.True(t, other.Allowed(ctx, srv.URL+"/anything"))
}

func TestCheckerFailsOpenOnMissingRobots(t *testing.T) {
	t.Parallel()

	srv, hits := newRobotsServer(t, http.StatusNotFound, "")
	store := NewMemoryStore(DefaultTTL, nil)
	checker := NewChecker(Config{UserAgent: "sitecrawler", Client: srv.Client(), Store: store})
	ctx := context.Background()

	require.True(t, checker.Allowed(ctx, srv.URL+"/a"))
	require.True(t, checker.Allowed(ctx, srv.URL+"/b"))
	require.EqualValues(t, 1, hits.Load(), "failed lookups are cached too")

	host := strings.TrimPrefix(srv.URL, "https://")
	entry, ok, err := store.Get(ctx, host)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, entry.AttemptedAndFailed)
	require.Equal(t, http.StatusNotFound, entry.Status)
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestCheckerFailsOpenOnNetworkError(t *testing.T) {
	t.Parallel()

	checker := NewChecker(Config{Client: &http.Client{Transport: failingTransport{}}})
	require.True(t, checker.Allowed(context.Background(), "https://unreachable.example/page"))
	require.True(t, checker.Allowed(context.Background(), "::not a url"))
}

func TestCheckerRefetchesAfterTTL(t *testing.T) {
	t.Parallel()

	srv, hits := newRobotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /x\n")
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	checker := NewChecker(Config{Client: srv.Client(), Clock: clock, TTL: 24 * time.Hour})
	ctx := context.Background()

	require.False(t, checker.Allowed(ctx, srv.URL+"/x"))
	clock.Advance(23 * time.Hour)
	require.False(t, checker.Allowed(ctx, srv.URL+"/x"))
	require.EqualValues(t, 1, hits.Load())

	clock.Advance(2 * time.Hour)
	require.False(t, checker.Allowed(ctx, srv.URL+"/x"))
	require.EqualValues(t, 2, hits.Load())
}

func TestCheckerSharesConcurrentFetch(t *testing.T) {
	t.Parallel()

	srv, hits := newRobotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /admin\n")
	checker := NewChecker(Config{Client: srv.Client()})

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if checker.Allowed(context.Background(), srv.URL+"/admin") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Zero(t, allowed.Load())
	require.EqualValues(t, 1, hits.Load())
}

func TestCheckerDoesNotCacheAbandonedLookups(t *testing.T) {
	t.Parallel()

	srv, hits := newRobotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /private\n")
	checker := NewChecker(Config{UserAgent: "sitecrawler", Client: srv.Client()})

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	require.True(t, checker.Allowed(canceled, srv.URL+"/private"), "a dead caller is let through")
	require.Zero(t, hits.Load())

	require.False(t, checker.Allowed(context.Background(), srv.URL+"/private"))
	require.EqualValues(t, 1, hits.Load(), "the next job fetches robots.txt for real")
}

func TestCheckerWaiterGivesUpWithContext(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	unblock := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-unblock:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /slow\n"))
	}))
	defer srv.Close()
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(unblock) }) }
	defer release()

	checker := NewChecker(Config{Client: srv.Client()})

	first := make(chan bool, 1)
	go func() { first <- checker.Allowed(context.Background(), srv.URL+"/slow") }()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.True(t, checker.Allowed(ctx, srv.URL+"/slow"))
	require.Less(t, time.Since(start), time.Second, "waiter must not sit behind the in-flight fetch")

	release()
	require.False(t, <-first)
	require.False(t, checker.Allowed(context.Background(), srv.URL+"/slow"))
	require.EqualValues(t, 1, hits.Load())
}

func TestBigCacheStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewBigCacheStore(ctx, BigCacheConfig{TTL: time.Hour, Shards: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, ok, err := store.Get(ctx, "example.com")
	require.NoError(t, err)
	require.False(t, ok)

	want := Entry{Domain: "example.com", Status: 200, Body: []byte("User-agent: *\nDisallow: /"), FetchedAt: time.Unix(1700000000, 0).UTC()}
	require.NoError(t, store.Set(ctx, "Example.com", want))

	got, ok, err := store.Get(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestCheckerWithBigCacheStore(t *testing.T) {
	t.Parallel()

	srv, hits := newRobotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /private\n")
	store, err := NewBigCacheStore(context.Background(), BigCacheConfig{TTL: time.Hour, Shards: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	checker := NewChecker(Config{Client: srv.Client(), Store: store, TTL: time.Hour})
	require.False(t, checker.Allowed(context.Background(), srv.URL+"/private"))
	require.True(t, checker.Allowed(context.Background(), srv.URL+"/open"))
	require.EqualValues(t, 1, hits.Load())
}

func TestMemoryStoreExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(time.Hour, clock)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "example.com", Entry{Domain: "example.com", FetchedAt: clock.Now()}))

	_, ok, _ := store.Get(ctx, "EXAMPLE.com")
	require.True(t, ok)

	clock.Advance(time.Hour)
	_, ok, _ = store.Get(ctx, "example.com")
	require.False(t, ok)
	require.Zero(t, store.Len())
}
