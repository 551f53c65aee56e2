package collyfetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

const homePage = `<html><head><title>Home</title></head><body>
<p>Welcome to the shop.</p>
<a href="/products/">Products</a>
<a href="/products?utm_source=footer">Products again</a>
<a href="/style.css">Styles</a>
</body></html>`

func newSite(t *testing.T, handler http.HandlerFunc) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return srv, u.Hostname()
}

func TestFetchBuildsPage(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 1)
	srv, host := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case seen <- r.Header.Clone():
		default:
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(homePage))
	})

	f := New(Config{UserAgent: "sitecrawler-test"})
	page, err := f.Fetch(context.Background(), srv.URL, host)
	require.NoError(t, err)
	headers := <-seen
	require.Equal(t, "sitecrawler-test", headers.Get("User-Agent"))
	require.Equal(t, "gzip, br", headers.Get("Accept-Encoding"))
	require.Equal(t, crawler.StrategyFallback, page.Strategy)
	require.Equal(t, "Home", page.Title)
	require.Contains(t, page.Text, "Welcome to the shop.")
	require.Equal(t, []string{srv.URL + "/products"}, page.Links)
}

func TestFetchDecodesCompressedBodies(t *testing.T) {
	t.Parallel()

	var br, gz bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(homePage))
	require.NoError(t, bw.Close())
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(homePage))
	require.NoError(t, gw.Close())

	srv, host := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/br":
			w.Header().Set("Content-Encoding", "br")
			_, _ = w.Write(br.Bytes())
		default:
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(gz.Bytes())
		}
	})

	f := New(Config{})
	for _, path := range []string{"/br", "/gz"} {
		page, err := f.Fetch(context.Background(), srv.URL+path, host)
		require.NoError(t, err, path)
		require.Equal(t, "Home", page.Title, path)
	}
}

func TestFetchClassifiesFailures(t *testing.T) {
	t.Parallel()

	srv, host := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/parked":
			_, _ = w.Write([]byte(`<html><head><title>example</title></head><body>This domain for sale. Make an offer!</body></html>`))
		case "/empty":
			_, _ = w.Write([]byte(`<html><head></head><body><script>1</script></body></html>`))
		}
	})

	f := New(Config{})
	_, err := f.Fetch(context.Background(), srv.URL+"/missing", host)
	require.ErrorIs(t, err, crawler.ErrNetwork)

	_, err = f.Fetch(context.Background(), srv.URL+"/parked", host)
	require.ErrorIs(t, err, crawler.ErrDomainParking)

	_, err = f.Fetch(context.Background(), srv.URL+"/empty", host)
	require.ErrorIs(t, err, crawler.ErrContent)
}

func TestFetchFollowsRedirects(t *testing.T) {
	t.Parallel()

	srv, host := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(homePage))
	})

	page, err := New(Config{}).Fetch(context.Background(), srv.URL+"/old", host)
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/new", page.ServedURL)
	require.Equal(t, srv.URL+"/old", page.URL)
}

func TestFetchHonoursCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv, host := newSite(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Fetch(ctx, srv.URL, host)
	require.True(t, crawler.IsCancellation(err), "got %v", err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	hooks := &stubHooks{}
	var resp response
	f.configureCollectorHooks(hooks, &resp)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: &url.URL{Scheme: "https", Host: "example.com", Path: "/final"}},
	})
	require.Equal(t, "https://example.com/final", resp.finalURL)
	require.Equal(t, "body", string(resp.body))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.EqualError(t, resp.err, "status 502: Bad Gateway")
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
