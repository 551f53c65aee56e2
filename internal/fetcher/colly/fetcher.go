// Package collyfetcher implements the static fallback page strategy using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 10 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Transport overrides the pooled default transport; the brotli decoder
	// is always layered on top.
	Transport http.RoundTripper
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// Fetcher issues plain GET requests through a Colly collector and builds
// pages from the returned markup.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// response is what the collector hooks capture for one visit.
type response struct {
	finalURL string
	status   int
	body     []byte
	err      error
}

// New builds a Fetcher. Robots rules are not enforced here; the caller
// checks them before fetching.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	base := cfg.Transport
	if base == nil {
		base = newHTTPTransport()
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.MaxBodySize = maxBodyBytes
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Clones share the backend, so transport and timeout are set once here.
	c.WithTransport(&brotliTransport{base: base})
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        cfg.Logger,
	}
}

// Fetch downloads rawURL and builds a page from its static markup.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, startHost string) (crawler.PageResult, error) {
	resp, err := f.visit(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.PageResult{}, crawler.CancellationError(rawURL, ctx.Err())
		}
		return crawler.PageResult{}, crawler.NetworkError(rawURL, crawler.StrategyFallback, err)
	}

	extraction, err := crawler.Extract(resp.body, resp.finalURL)
	if err != nil {
		return crawler.PageResult{}, crawler.ContentError(rawURL, crawler.StrategyFallback, err.Error())
	}
	f.logger.Debug("page fetched",
		zap.String("url", rawURL),
		zap.String("served_url", resp.finalURL),
		zap.Int("status", resp.status),
		zap.Int("bytes", len(resp.body)),
	)
	return crawler.BuildPage(crawler.PageInput{
		RequestURL: rawURL,
		ServedURL:  resp.finalURL,
		StartHost:  startHost,
		Strategy:   crawler.StrategyFallback,
		Extraction: extraction,
		FetchedAt:  f.cfg.Clock.Now(),
	})
}

func (f *Fetcher) visit(ctx context.Context, rawURL string) (response, error) {
	collector := f.baseCollector.Clone()
	collector.Context = ctx

	var resp response
	f.configureCollectorHooks(collector, &resp)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return response{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if resp.err != nil {
			return response{}, fmt.Errorf("colly response failed: %w", resp.err)
		}
		if err != nil {
			return response{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if resp.finalURL == "" {
			return response{}, fmt.Errorf("colly visit returned no response")
		}
		return resp, nil
	}
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, resp *response) {
	hooks.OnResponse(func(r *colly.Response) {
		resp.status = r.StatusCode
		resp.body = append([]byte(nil), r.Body...)
		if r.Request != nil && r.Request.URL != nil {
			resp.finalURL = r.Request.URL.String()
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		resp.err = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
