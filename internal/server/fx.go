// Package server builds the crawl service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/api"
	"github.com/JakeFAU/sitecrawler/internal/clock/system"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/dispatcher"
	"github.com/JakeFAU/sitecrawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/sitecrawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitecrawler/internal/fetcher/headless"
	"github.com/JakeFAU/sitecrawler/internal/id/uuid"
	"github.com/JakeFAU/sitecrawler/internal/logging"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
	"github.com/JakeFAU/sitecrawler/internal/orchestrator"
	"github.com/JakeFAU/sitecrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/sitecrawler/internal/progress"
	progresssinks "github.com/JakeFAU/sitecrawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/sitecrawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sitecrawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/sitecrawler/internal/queue/memory"
	"github.com/JakeFAU/sitecrawler/internal/robots"
	gcsstorage "github.com/JakeFAU/sitecrawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitecrawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitecrawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitecrawler/internal/storage/postgres"
	"github.com/JakeFAU/sitecrawler/internal/validator"
	"github.com/JakeFAU/sitecrawler/internal/worker"
)

// NewLogger builds the process logger from cfg and installs it as the zap
// global.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// CrawlStack holds what runs a crawl. The HTTP service and the CLI share it.
type CrawlStack struct {
	Engine    *orchestrator.Engine
	Validator *validator.Validator

	renderer    *headlessfetcher.Renderer
	robotsCache *robots.BigCacheStore
	logger      *zap.Logger
}

// NewCrawlStack wires the robots checker, both fetch tiers, the politeness
// limiter and the orchestrator. A browser that cannot start leaves the
// fallback tier alone in charge.
func NewCrawlStack(ctx context.Context, cfg config.Config, logger *zap.Logger) (*CrawlStack, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := system.New()
	stack := &CrawlStack{logger: logger}

	var robotsStore robots.Store
	switch cfg.Cache.Backend {
	case config.BackendBigCache:
		cache, err := robots.NewBigCacheStore(ctx, robots.BigCacheConfig{
			TTL:    cfg.RobotsTTL(),
			Shards: cfg.Cache.Shards,
		})
		if err != nil {
			return nil, fmt.Errorf("robots cache init failed: %w", err)
		}
		stack.robotsCache = cache
		robotsStore = cache
		logger.Info("using bigcache robots cache", zap.Int("shards", cfg.Cache.Shards))
	default:
		robotsStore = robots.NewMemoryStore(cfg.RobotsTTL(), clock)
	}
	checker := robots.NewChecker(robots.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.RobotsTimeout(),
		TTL:       cfg.RobotsTTL(),
		Store:     robotsStore,
		Clock:     clock,
		Logger:    logger.Named("robots"),
	})

	pagerCfg := fetcher.Config{
		Fallback: collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.HTTPTimeout(),
			Clock:     clock,
			Logger:    logger.Named("fallback"),
		}),
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Crawler.RequestRPS,
			DefaultBurst: cfg.Crawler.RequestBurst,
		}),
		Logger: logger.Named("pager"),
	}
	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewRenderer(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.NavigationTimeout(),
			IdleWindow:        cfg.IdleWindow(),
			Clock:             clock,
			Logger:            logger.Named("renderer"),
		})
		if err != nil {
			logger.Warn("headless renderer unavailable, using fallback fetcher only", zap.Error(err))
		} else {
			stack.renderer = renderer
			pagerCfg.Rendered = renderer
			logger.Info("using headless renderer", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}
	pager, err := fetcher.New(pagerCfg)
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("pager init failed: %w", err)
	}

	stack.Engine, err = orchestrator.New(orchestrator.Config{
		Robots:      checker,
		Fetcher:     pager,
		Clock:       clock,
		Logger:      logger.Named("orchestrator"),
		Concurrency: cfg.Crawler.Concurrency,
	})
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	budget, err := cfg.Budget()
	if err != nil {
		stack.Close()
		return nil, err
	}
	stack.Validator = validator.New(validator.Config{
		ProbeTimeout:  cfg.ProbeTimeout(),
		UserAgent:     cfg.Crawler.UserAgent,
		DefaultBudget: budget,
	})
	return stack, nil
}

// Close stops the browser and the robots cache janitor.
func (c *CrawlStack) Close() {
	if c.renderer != nil {
		c.renderer.Close()
	}
	if c.robotsCache != nil {
		if err := c.robotsCache.Close(); err != nil {
			c.logger.Warn("robots cache close failed", zap.Error(err))
		}
	}
}

// App contains the service's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	crawl       *CrawlStack
	apiServer   *api.Server
	dispatch    *dispatcher.Dispatcher
	progressHub *progress.Hub
	queue       *queuememory.Queue
	jobStore    crawler.JobStore
	pgStore     *pgstore.JobStore
	gcsStore    *gcsstorage.BlobStore
	publisher   *gcppublisher.Publisher
}

// Build creates the service's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
	)

	built := false
	defer func() {
		if !built {
			app.closeInfrastructure(context.Background())
		}
	}()

	var err error
	app.crawl, err = NewCrawlStack(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	var readiness []api.Pinger
	if readiness, err = app.setupJobStore(ctx); err != nil {
		return nil, err
	}
	blobStore, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err := app.setupProgress(ctx, reg); err != nil {
		return nil, err
	}

	clock := system.New()
	registry := worker.NewRegistry()
	app.queue = queuememory.NewQueue(cfg.Crawler.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Crawler.Workers)
	workerCfg := worker.Config{
		ArchivePrefix: cfg.Storage.Prefix,
		Topic:         cfg.PubSub.TopicName,
	}
	for i := range cfg.Crawler.Workers {
		workers = append(workers, worker.New(
			app.queue,
			app.crawl.Engine,
			app.jobStore,
			blobStore,
			publisher,
			registry,
			clock,
			app.progressHub,
			workerCfg,
			logger.Named("worker").With(zap.Int("worker", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, workers, registry, logger.Named("dispatcher"))
	logger.Info("worker pool configured",
		zap.Int("workers", len(workers)),
		zap.Int("queue_depth", cfg.Crawler.QueueDepth),
		zap.String("archive_prefix", workerCfg.ArchivePrefix),
	)

	app.apiServer = api.NewServer(api.Deps{
		Validator: app.crawl.Validator,
		Runner:    app.crawl.Engine,
		JobStore:  app.jobStore,
		Jobs:      app.dispatch,
		IDGen:     uuid.New(),
		Clock:     clock,
		Events:    app.progressHub,
		Readiness: readiness,
		Logger:    logger.Named("api"),
	}, cfg)

	built = true
	return app, nil
}

func (a *App) setupJobStore(ctx context.Context) ([]api.Pinger, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, keeping job records in memory")
		a.jobStore = memorystorage.NewJobStore()
		return nil, nil
	}
	store, err := pgstore.Open(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("job store init failed: %w", err)
	}
	a.pgStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("job store schema failed: %w", err)
	}
	a.jobStore = store
	a.logger.Info("postgres job store initialized", zap.String("table", a.cfg.DB.Table))
	return []api.Pinger{store}, nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcsStore = store
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", store.Root()))
		return store, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	publisher, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = publisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(a.jobStore, a.logger.Named("progress_store")),
	}
	a.progressHub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	a.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

// Handler exposes the HTTP router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and drives the worker pool until ctx is canceled or the
// process receives SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Canceled at shutdown so open streams end with a canceled complete frame.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatch.Run(workCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	cancelBase()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	cancelWork()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}
	if pending := a.queue.Len(); pending > 0 {
		a.logger.Warn("dropping queued jobs at shutdown", zap.Int("pending", pending))
	}

	a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.ShutdownTimeout(); d > 0 {
		return d
	}
	return 10 * time.Second
}

// Close releases every resource the App opened.
func (a *App) Close(ctx context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.crawl != nil {
		a.crawl.Close()
	}
}
