// Package worker executes queued crawl jobs.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/clock/system"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

const archiveFile = "results.json"

// Runner executes one crawl job. orchestrator.Engine implements it.
type Runner interface {
	Run(ctx context.Context, job crawler.Job, emitter progress.Emitter) (crawler.Report, error)
}

// Config controls Worker behavior.
type Config struct {
	// ArchivePrefix is prepended to <job_id>/results.json.
	ArchivePrefix string
	// Topic receives completion notices. Empty uses the publisher default.
	Topic string
}

// Worker consumes queue items and runs them to completion.
type Worker struct {
	queue     crawler.Queue
	runner    Runner
	jobStore  crawler.JobStore
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	registry  *Registry
	clock     crawler.Clock
	events    progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. blobStore, publisher, events, registry and clock
// are optional.
func New(
	queue crawler.Queue,
	runner Runner,
	jobStore crawler.JobStore,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
	registry *Registry,
	clock crawler.Clock,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Worker{
		queue:     queue,
		runner:    runner,
		jobStore:  jobStore,
		blobStore: blobStore,
		publisher: publisher,
		registry:  registry,
		clock:     clock,
		events:    events,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.Job.ID), zap.Int("attempt", item.Attempt))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	job := item.Job
	logger := w.logger.With(zap.String("job_id", job.ID))
	// Bookkeeping must land even when shutdown cancels ctx mid-job.
	persistCtx := context.WithoutCancel(ctx)

	jobCtx, done, ok := w.registry.start(ctx, job.ID)
	defer done()
	if !ok {
		logger.Info("job canceled before start")
		w.finish(persistCtx, logger, job, crawler.Report{
			JobID:  job.ID,
			Status: crawler.CompletionCanceled,
			State:  crawler.StateCanceled,
			Stats:  crawler.Stats{Budget: job.Budget},
		}, nil)
		return
	}

	if err := w.jobStore.UpdateJobStatus(persistCtx, job.ID, crawler.JobStatusRunning, "", crawler.JobCounters{}); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	emitter := progress.Tee(w.events, w.pageRecorder(persistCtx, logger))
	report, err := w.runner.Run(jobCtx, job, emitter)
	w.finish(persistCtx, logger, job, report, err)
}

// pageRecorder persists result pages as they stream in so partial results
// are visible while the job runs.
func (w *Worker) pageRecorder(ctx context.Context, logger *zap.Logger) progress.Emitter {
	return progress.EmitterFunc(func(_ context.Context, evt progress.Event) error {
		if evt.Type != progress.TypeResult || evt.Result == nil {
			return nil
		}
		if err := w.jobStore.RecordPage(ctx, evt.JobID, *evt.Result); err != nil {
			logger.Warn("record page failed", zap.String("url", evt.Result.URL), zap.Error(err))
		}
		return nil
	})
}

func (w *Worker) finish(ctx context.Context, logger *zap.Logger, job crawler.Job, report crawler.Report, runErr error) {
	counters := crawler.JobCounters{
		Attempted:  report.Stats.Attempted,
		Successful: report.Stats.Successful,
	}
	status, errText := deriveFinalStatus(report, runErr)

	uri, err := w.archive(ctx, job.ID, report)
	if err != nil {
		logger.Error("archive results failed", zap.Error(err))
		status, errText = crawler.JobStatusFailed, err.Error()
	}
	if err := w.notify(ctx, job, report, uri); err != nil {
		logger.Error("publish completion notice failed", zap.Error(err))
		status, errText = crawler.JobStatusFailed, err.Error()
	}

	if err := w.jobStore.UpdateJobStatus(ctx, job.ID, status, errText, counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
		return
	}
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("attempted", counters.Attempted),
		zap.Int("successful", counters.Successful),
		zap.String("archive_uri", uri),
	)
}

func (w *Worker) archivePath(jobID string) string {
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", jobID, archiveFile)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, jobID, archiveFile)
}

func (w *Worker) archive(ctx context.Context, jobID string, report crawler.Report) (string, error) {
	if w.blobStore == nil {
		return "", nil
	}
	if report.CrawledURLs == nil {
		report.CrawledURLs = []string{}
	}
	if report.Results == nil {
		report.Results = []crawler.PageResult{}
	}
	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	uri, err := w.blobStore.PutObject(ctx, w.archivePath(jobID), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	if err := w.jobStore.RecordArchive(ctx, jobID, uri); err != nil {
		return uri, fmt.Errorf("record archive: %w", err)
	}
	return uri, nil
}

func (w *Worker) notify(ctx context.Context, job crawler.Job, report crawler.Report, uri string) error {
	if w.publisher == nil {
		return nil
	}
	notice := crawler.CompletionNotice{
		JobID:      job.ID,
		StartURL:   job.StartURL,
		Status:     report.Status,
		Attempted:  report.Stats.Attempted,
		Successful: report.Stats.Successful,
		ArchiveURI: uri,
		FinishedAt: w.clock.Now(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, notice); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}

// deriveFinalStatus maps a crawl report to the persisted job status. A run
// that completed without a single usable page is recorded as failed.
func deriveFinalStatus(report crawler.Report, runErr error) (crawler.JobStatus, string) {
	if runErr != nil {
		return crawler.JobStatusFailed, runErr.Error()
	}
	switch report.Status {
	case crawler.CompletionCanceled:
		return crawler.JobStatusCanceled, ""
	case crawler.CompletionFailed:
		return crawler.JobStatusFailed, "crawl failed"
	}
	if report.Stats.Successful == 0 {
		return crawler.JobStatusFailed, "no pages were fetched"
	}
	return crawler.JobStatusSucceeded, ""
}
