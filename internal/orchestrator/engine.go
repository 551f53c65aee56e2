package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitecrawler/internal/clock/system"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

// DefaultConcurrency is the number of URLs fetched in parallel per batch.
const DefaultConcurrency = 3

// ErrInvalidJob is returned when a job cannot be started.
var ErrInvalidJob = errors.New("invalid crawl job")

// Config wires the collaborators of an Engine.
type Config struct {
	Robots      crawler.RobotsPolicy
	Fetcher     crawler.PageFetcher
	Clock       crawler.Clock
	Logger      *zap.Logger
	Concurrency int
}

// Engine runs crawl jobs. It holds no per-job state and may run several
// jobs concurrently.
type Engine struct {
	robots      crawler.RobotsPolicy
	fetcher     crawler.PageFetcher
	clock       crawler.Clock
	logger      *zap.Logger
	concurrency int
}

// New validates cfg and fills defaults. A nil Robots policy allows every URL.
func New(cfg Config) (*Engine, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("orchestrator: page fetcher is required")
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("orchestrator: concurrency must be >= 0, got %d", cfg.Concurrency)
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Robots == nil {
		cfg.Robots = allowAll{}
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		robots:      cfg.Robots,
		fetcher:     cfg.Fetcher,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}, nil
}

type allowAll struct{}

func (allowAll) Allowed(context.Context, string) bool { return true }

// Run crawls job until its budget is spent, its frontier is empty, or ctx is
// canceled, reporting every step to emitter. The stream always ends with one
// complete event, which is delivered even after ctx is canceled. Cancellation
// is not an error: the report carries CompletionCanceled. An error is
// returned only when the job could not start.
func (e *Engine) Run(ctx context.Context, job crawler.Job, emitter progress.Emitter) (crawler.Report, error) {
	if emitter == nil {
		emitter = progress.Discard
	}
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	r := e.newRun(ctx, job, emitter)
	defer r.cancel(nil)

	if err := r.init(); err != nil {
		r.logger.Warn("crawl job rejected", zap.Error(err))
		r.transition(crawler.StateFailed)
		return r.finish(ctx, crawler.CompletionFailed), err
	}
	r.transition(crawler.StateRunning)
	r.loop()

	if r.ctx.Err() != nil {
		r.logger.Info("crawl canceled", zap.Error(context.Cause(r.ctx)))
		r.transition(crawler.StateCanceled)
		return r.finish(ctx, crawler.CompletionCanceled), nil
	}
	r.transition(crawler.StateCompleted)
	return r.finish(ctx, crawler.CompletionSuccess), nil
}

// run is the state of one job.
type run struct {
	*Engine
	job     crawler.Job
	emitter progress.Emitter
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	state    crawler.State
	frontier *frontier
	tracker  *tracker

	mu      sync.Mutex
	results []crawler.PageResult
}

func (e *Engine) newRun(ctx context.Context, job crawler.Job, emitter progress.Emitter) *run {
	runCtx, cancel := context.WithCancelCause(ctx)
	return &run{
		Engine:  e,
		job:     job,
		emitter: emitter,
		logger:  e.logger.With(zap.String("job_id", job.ID)),
		ctx:     runCtx,
		cancel:  cancel,
		state:   crawler.StateIdle,
		tracker: newTracker(job.Budget),
	}
}

func (r *run) init() error {
	start := crawler.Canonicalize(r.job.StartURL)
	if r.job.StartHost == "" {
		r.job.StartHost = crawler.Hostname(start)
	}
	switch {
	case r.job.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	case r.job.StartHost == "":
		return fmt.Errorf("%w: start url %q has no hostname", ErrInvalidJob, r.job.StartURL)
	case r.job.Budget == 0:
		return fmt.Errorf("%w: budget must be >= 1 or unbounded", ErrInvalidJob)
	}
	r.job.StartURL = start
	r.frontier = newFrontier(start)
	r.tracker.setDiscovered(r.frontier.Discovered())
	r.logger.Info("crawl starting",
		zap.String("start_url", start),
		zap.Stringer("budget", r.job.Budget),
		zap.Int("concurrency", r.concurrency),
	)
	r.emit(r.ctx, progress.NewProgress(r.job.ID, r.clock.Now(), progress.StatusStarting,
		r.tracker.snapshot(), start, "Starting crawl of "+start))
	return nil
}

func (r *run) transition(next crawler.State) {
	if !r.state.CanTransition(next) {
		r.logger.Error("illegal state transition",
			zap.String("from", string(r.state)),
			zap.String("to", string(next)),
		)
		return
	}
	r.state = next
}

func (r *run) loop() {
	for r.frontier.Len() > 0 && r.ctx.Err() == nil {
		remaining := r.tracker.remaining()
		if remaining <= 0 {
			return
		}
		batch := r.frontier.Take(min(r.concurrency, remaining))
		pages := r.fetchBatch(batch)
		if r.ctx.Err() != nil {
			return
		}
		r.expand(pages)

		stats := r.tracker.snapshot()
		r.emit(r.ctx, progress.NewProgress(r.job.ID, r.clock.Now(), progress.StatusRunning, stats, "",
			fmt.Sprintf("Crawled %d pages, %d successful, %d discovered", stats.Attempted, stats.Successful, stats.Discovered)))
	}
}

// fetchBatch fetches every URL of batch concurrently and returns the pages
// obtained, in batch order.
func (r *run) fetchBatch(batch []string) []crawler.PageResult {
	slots := make([]*crawler.PageResult, len(batch))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, target := range batch {
		g.Go(func() error {
			if page, ok := r.visit(target); ok {
				slots[i] = &page
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // visit never returns an error.

	pages := make([]crawler.PageResult, 0, len(batch))
	for _, page := range slots {
		if page != nil {
			pages = append(pages, *page)
		}
	}
	return pages
}

func (r *run) visit(target string) (crawler.PageResult, bool) {
	if r.ctx.Err() != nil {
		return crawler.PageResult{}, false
	}
	if !r.robots.Allowed(r.ctx, target) {
		r.logger.Debug("skipping url disallowed by robots.txt",
			zap.String("url", target),
			zap.Error(crawler.PolicyError(target)),
		)
		return crawler.PageResult{}, false
	}
	stats, ok := r.tracker.reserve()
	if !ok {
		return crawler.PageResult{}, false
	}
	r.emit(r.ctx, progress.NewProgress(r.job.ID, r.clock.Now(), progress.StatusRunning, stats, target, "Crawling "+target))

	outcome := r.fetcher.FetchPage(r.ctx, target, r.job.StartHost)
	if !outcome.OK() {
		stats = r.tracker.release()
		if crawler.IsCancellation(outcome.Err) || r.ctx.Err() != nil {
			return crawler.PageResult{}, false
		}
		r.logger.Debug("page failed", zap.String("url", target), zap.Error(outcome.Err))
		r.emit(r.ctx, progress.NewError(r.job.ID, r.clock.Now(), stats, target, outcome.Err))
		return crawler.PageResult{}, false
	}

	if r.ctx.Err() != nil {
		// Canceled while the fetch was in flight; the page does not count.
		r.tracker.release()
		return crawler.PageResult{}, false
	}

	page := outcome.Page
	r.mu.Lock()
	r.results = append(r.results, page)
	r.mu.Unlock()
	stats = r.tracker.succeed()
	r.emit(r.ctx, progress.NewResult(r.job.ID, r.clock.Now(), stats, page))
	return page, true
}

// expand appends unseen, allowed links of pages to the frontier until the
// discovered set reaches the budget.
func (r *run) expand(pages []crawler.PageResult) {
	limit := r.job.Budget.Limit()
	defer func() { r.tracker.setDiscovered(r.frontier.Discovered()) }()
	for _, page := range pages {
		for _, link := range page.Links {
			if r.frontier.Discovered() >= limit {
				return
			}
			canonical := crawler.Canonicalize(link)
			if !crawler.SameHost(canonical, r.job.StartHost) || r.frontier.Seen(canonical) {
				continue
			}
			if !r.robots.Allowed(r.ctx, canonical) {
				continue
			}
			r.frontier.Add(canonical)
		}
	}
}

// emit forwards evt to the transport. A detached consumer cancels the job.
func (r *run) emit(ctx context.Context, evt progress.Event) {
	metrics.ObserveProgressEvent(string(evt.Type))
	err := r.emitter.Emit(ctx, evt)
	switch {
	case err == nil:
	case errors.Is(err, crawler.ErrClientDisconnect):
		if r.ctx.Err() == nil {
			r.logger.Info("client disconnected, canceling crawl")
		}
		r.cancel(err)
	default:
		r.logger.Debug("progress event not delivered", zap.String("type", string(evt.Type)), zap.Error(err))
	}
}

// finish emits the single complete event and builds the report. The event
// uses a context detached from cancellation so it still reaches the caller.
func (r *run) finish(parent context.Context, status crawler.CompletionStatus) crawler.Report {
	r.mu.Lock()
	results := append([]crawler.PageResult{}, r.results...)
	r.mu.Unlock()
	crawled := make([]string, 0, len(results))
	for _, page := range results {
		crawled = append(crawled, page.URL)
	}
	report := crawler.Report{
		JobID:       r.job.ID,
		Status:      status,
		State:       r.state,
		Stats:       r.tracker.snapshot(),
		CrawledURLs: crawled,
		Results:     results,
	}
	metrics.ObserveJob(string(status))
	r.logger.Info("crawl finished",
		zap.String("status", string(status)),
		zap.Int("attempted", report.Stats.Attempted),
		zap.Int("successful", report.Stats.Successful),
		zap.Int("discovered", report.Stats.Discovered),
	)
	r.emit(context.WithoutCancel(parent), progress.NewComplete(r.job.ID, r.clock.Now(), report))
	return report
}
