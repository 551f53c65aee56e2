package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
)

const (
	// DefaultTimeout bounds a single robots.txt fetch.
	DefaultTimeout = 5 * time.Second
	// DefaultTTL is how long a cached entry stays valid.
	DefaultTTL = 24 * time.Hour

	maxRobotsBytes = 1 << 20
)

// Config wires a Checker.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	TTL       time.Duration
	Client    *http.Client
	Store     Store
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// Checker answers robots.txt questions for the crawler's user agent.
type Checker struct {
	userAgent string
	timeout   time.Duration
	ttl       time.Duration
	client    *http.Client
	store     Store
	clock     crawler.Clock
	logger    *zap.Logger

	locks sync.Map // domain -> chan struct{}
}

var _ crawler.RobotsPolicy = (*Checker)(nil)

// NewChecker builds a Checker, filling defaults for unset fields.
func NewChecker(cfg Config) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(cfg.TTL, cfg.Clock)
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "*"
	}
	return &Checker{
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		ttl:       cfg.TTL,
		client:    cfg.Client,
		store:     cfg.Store,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// Allowed reports whether rawURL may be crawled. Any failure along the way
// (bad URL, unreachable robots.txt, unparsable body) allows the URL.
func (c *Checker) Allowed(ctx context.Context, rawURL string) bool {
	if c == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return true
	}
	domain := strings.ToLower(parsed.Host)

	entry, err := c.entry(ctx, domain)
	if err != nil {
		if ctx.Err() != nil {
			// The caller is gone; nothing was cached, so later jobs still check.
			c.logger.Debug("robots lookup abandoned", zap.String("domain", domain), zap.Error(err))
			return true
		}
		c.logger.Warn("robots lookup failed; allowing access", zap.String("domain", domain), zap.Error(err))
		return true
	}
	if entry.AttemptedAndFailed {
		return true
	}
	return c.evaluate(entry, parsed)
}

// entry returns the cached entry for domain, fetching it on a miss. Lookups
// for the same domain are serialized so concurrent first requests share one
// fetch; waiting for the lock gives up when ctx ends.
func (c *Checker) entry(ctx context.Context, domain string) (Entry, error) {
	unlock, err := c.lock(ctx, domain)
	if err != nil {
		return Entry{}, err
	}
	defer unlock()

	entry, ok, err := c.store.Get(ctx, domain)
	if err != nil {
		c.logger.Debug("robots cache read failed", zap.String("domain", domain), zap.Error(err))
	}
	if ok && !entry.Expired(c.clock.Now(), c.ttl) {
		metrics.ObserveRobotsLookup("hit")
		return entry, nil
	}
	metrics.ObserveRobotsLookup("miss")

	entry, err = c.fetch(ctx, domain)
	if err != nil {
		return Entry{}, err
	}
	if err := c.store.Set(ctx, domain, entry); err != nil {
		return entry, fmt.Errorf("store robots entry: %w", err)
	}
	return entry, nil
}

// fetch downloads robots.txt for domain. Failures are folded into an
// AttemptedAndFailed entry, except when ctx itself ended: that outcome says
// nothing about the domain and is returned as an error so it is not cached.
func (c *Checker) fetch(ctx context.Context, domain string) (Entry, error) {
	entry := Entry{Domain: domain, FetchedAt: c.clock.Now()}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	robotsURL := (&url.URL{Scheme: "https", Host: domain, Path: "/robots.txt"}).String()
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return c.failed(entry, fmt.Errorf("new robots request: %w", err)), nil
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Entry{}, fmt.Errorf("fetch robots for %s: %w", domain, context.Cause(ctx))
		}
		return c.failed(entry, fmt.Errorf("fetch robots: %w", err)), nil
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	entry.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.failed(entry, fmt.Errorf("robots status %d", resp.StatusCode)), nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		if ctx.Err() != nil {
			return Entry{}, fmt.Errorf("read robots for %s: %w", domain, context.Cause(ctx))
		}
		return c.failed(entry, fmt.Errorf("read robots body: %w", err)), nil
	}
	entry.Body = body
	return entry, nil
}

func (c *Checker) failed(entry Entry, err error) Entry {
	metrics.ObserveRobotsLookup("failed")
	c.logger.Info("robots.txt unavailable; allowing domain", zap.String("domain", entry.Domain), zap.Error(err))
	entry.AttemptedAndFailed = true
	entry.Body = nil
	return entry
}

func (c *Checker) evaluate(entry Entry, target *url.URL) bool {
	data, err := robotstxt.FromStatusAndBytes(http.StatusOK, entry.Body)
	if err != nil {
		c.logger.Debug("robots parse failed; allowing access", zap.String("domain", entry.Domain), zap.Error(err))
		return true
	}
	group := data.FindGroup(c.userAgent)
	if group == nil {
		return true
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return group.Test(path)
}

// lock takes the per-domain lock, a one-slot channel so waiters can give up
// with ctx.
func (c *Checker) lock(ctx context.Context, domain string) (func(), error) {
	v, _ := c.locks.LoadOrStore(domain, make(chan struct{}, 1))
	slot, ok := v.(chan struct{})
	if !ok {
		return nil, fmt.Errorf("robots lock for %s has type %T", domain, v)
	}
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for robots lock on %s: %w", domain, context.Cause(ctx))
	}
}
