// Package fetcher combines the rendered and fallback strategies into the
// single page fetch operation the orchestrator calls.
package fetcher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
)

// Strategy fetches one page and builds a validated result.
type Strategy interface {
	Fetch(ctx context.Context, rawURL, startHost string) (crawler.PageResult, error)
}

// Waiter gates fetches for politeness.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config wires a Pager. Rendered may be nil when no browser is available.
type Config struct {
	Rendered Strategy
	Fallback Strategy
	Limiter  Waiter
	Logger   *zap.Logger
}

// Pager runs the rendered strategy first and the fallback on any failure
// other than a parking detection or cancellation.
type Pager struct {
	rendered Strategy
	fallback Strategy
	limiter  Waiter
	logger   *zap.Logger
}

var _ crawler.PageFetcher = (*Pager)(nil)

// ErrNoFallback is returned by New when the fallback strategy is missing.
var ErrNoFallback = errors.New("fallback strategy is required")

// New builds a Pager.
func New(cfg Config) (*Pager, error) {
	if cfg.Fallback == nil {
		return nil, ErrNoFallback
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pager{
		rendered: cfg.Rendered,
		fallback: cfg.Fallback,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
	}, nil
}

// FetchPage implements crawler.PageFetcher.
func (p *Pager) FetchPage(ctx context.Context, rawURL, startHost string) crawler.Outcome {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, rawURL); err != nil {
			if ctx.Err() != nil {
				return crawler.Failed(crawler.CancellationError(rawURL, ctx.Err()))
			}
			return crawler.Failed(crawler.NetworkError(rawURL, "", err))
		}
	}

	if p.rendered != nil {
		start := time.Now()
		page, err := p.rendered.Fetch(ctx, rawURL, startHost)
		observe(rawURL, crawler.StrategyRendered, err, time.Since(start))
		switch {
		case err == nil:
			return crawler.Rendered(page)
		case crawler.IsCancellation(err) || ctx.Err() != nil:
			return crawler.Failed(crawler.CancellationError(rawURL, errors.Join(ctx.Err(), err)))
		case errors.Is(err, crawler.ErrDomainParking):
			// The fallback would see the same served content.
			return crawler.Failed(err)
		}
		p.logger.Debug("rendered fetch failed; trying fallback", zap.String("url", rawURL), zap.Error(err))
	}

	start := time.Now()
	page, err := p.fallback.Fetch(ctx, rawURL, startHost)
	observe(rawURL, crawler.StrategyFallback, err, time.Since(start))
	if err != nil {
		if ctx.Err() != nil && !crawler.IsCancellation(err) {
			err = crawler.CancellationError(rawURL, errors.Join(ctx.Err(), err))
		}
		return crawler.Failed(err)
	}
	return crawler.Fallback(page)
}

func observe(rawURL string, strategy crawler.Strategy, err error, took time.Duration) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, crawler.ErrDomainParking):
		outcome = "parked"
	case errors.Is(err, crawler.ErrContent):
		outcome = "no_content"
	case crawler.IsCancellation(err):
		outcome = "canceled"
	default:
		outcome = "network_error"
	}
	metrics.ObservePage(rawURL, string(strategy), outcome, took)
}
