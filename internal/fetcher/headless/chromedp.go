// Package headless contains the rendered page strategy, which loads pages
// in headless Chrome via chromedp and extracts the settled DOM.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// ErrUnavailable reports that no browser could be started.
var ErrUnavailable = errors.New("headless browser unavailable")

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultIdleWindow        = 500 * time.Millisecond
	defaultMaxIdleWait       = 5 * time.Second
	idlePollInterval         = 100 * time.Millisecond
)

// Config controls the behavior of the renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// IdleWindow is how long the network must stay quiet before the DOM is captured.
	IdleWindow time.Duration
	// MaxIdleWait caps the idle wait for pages that never go quiet.
	MaxIdleWait time.Duration
	Clock       crawler.Clock
	Logger      *zap.Logger
}

// Renderer fetches pages through a shared headless Chrome process, one tab per page.
type Renderer struct {
	cfg           Config
	slots         chan struct{}
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

// NewRenderer launches Chrome and verifies it responds. It returns an error
// wrapping ErrUnavailable when no browser can be started.
func NewRenderer(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = 3
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = defaultIdleWindow
	}
	if cfg.MaxIdleWait <= 0 {
		cfg.MaxIdleWait = defaultMaxIdleWait
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: chromedp warmup: %w", ErrUnavailable, err)
	}

	return &Renderer{
		cfg:           cfg,
		slots:         make(chan struct{}, cfg.MaxParallel),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        cfg.Logger,
	}, nil
}

// Close shuts the browser down. It is safe to call on a nil Renderer.
func (r *Renderer) Close() {
	if r == nil {
		return
	}
	r.browserCancel()
	r.allocCancel()
}

// Fetch renders rawURL in a fresh tab and builds a page from the settled DOM.
// The tab is closed on every return path.
func (r *Renderer) Fetch(ctx context.Context, rawURL, startHost string) (crawler.PageResult, error) {
	if err := r.acquire(ctx); err != nil {
		return crawler.PageResult{}, crawler.CancellationError(rawURL, err)
	}
	defer r.release()

	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx)
	defer tabCancel()
	// The tab descends from the browser, not the job, so job cancellation is forwarded.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	navCtx, navCancel := context.WithTimeout(tabCtx, r.cfg.NavigationTimeout)
	defer navCancel()

	tracker := newNetworkTracker(r.cfg.Clock)
	chromedp.ListenTarget(navCtx, tracker.observe)

	var html, finalURL string
	err := chromedp.Run(navCtx,
		r.setupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		r.waitNetworkIdle(tracker),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.PageResult{}, crawler.CancellationError(rawURL, ctx.Err())
		}
		return crawler.PageResult{}, crawler.NetworkError(rawURL, crawler.StrategyRendered, fmt.Errorf("chromedp run: %w", err))
	}
	if status := tracker.documentStatus(); status >= 400 {
		return crawler.PageResult{}, crawler.NetworkError(rawURL, crawler.StrategyRendered, fmt.Errorf("document status %d", status))
	}
	if finalURL == "" {
		finalURL = tracker.documentURL()
	}

	extraction, err := crawler.Extract([]byte(html), firstNonEmpty(finalURL, rawURL))
	if err != nil {
		return crawler.PageResult{}, crawler.ContentError(rawURL, crawler.StrategyRendered, err.Error())
	}
	r.logger.Debug("page rendered",
		zap.String("url", rawURL),
		zap.String("served_url", finalURL),
		zap.Int("anchors", len(extraction.Anchors)),
	)
	return crawler.BuildPage(crawler.PageInput{
		RequestURL: rawURL,
		ServedURL:  finalURL,
		StartHost:  startHost,
		Strategy:   crawler.StrategyRendered,
		Extraction: extraction,
		FetchedAt:  r.cfg.Clock.Now(),
	})
}

func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// waitNetworkIdle blocks until no request has been in flight for the idle
// window, or until MaxIdleWait passes.
func (r *Renderer) waitNetworkIdle(tracker *networkTracker) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.NewTimer(r.cfg.MaxIdleWait)
		defer deadline.Stop()
		ticker := time.NewTicker(idlePollInterval)
		defer ticker.Stop()
		for {
			if tracker.idleFor(r.cfg.IdleWindow) {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("wait network idle: %w", ctx.Err())
			case <-deadline.C:
				r.logger.Debug("network never settled; capturing DOM", zap.Int("in_flight", tracker.inFlight()))
				return nil
			case <-ticker.C:
			}
		}
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	select {
	case <-r.slots:
	default:
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
