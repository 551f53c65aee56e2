// Package dispatcher fans queued crawl jobs out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/worker"
)

// Dispatcher owns the worker pool for asynchronous jobs.
type Dispatcher struct {
	queue    crawler.Queue
	workers  []*worker.Worker
	registry *worker.Registry
	logger   *zap.Logger
}

// New creates a Dispatcher. registry may be nil when cancellation is not
// exposed.
func New(queue crawler.Queue, workers []*worker.Worker, registry *worker.Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		workers:  workers,
		registry: registry,
		logger:   logger,
	}
}

// Run starts all workers and blocks until every worker has returned, which
// happens when ctx finishes or the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher starting", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Enqueue hands a job to the worker pool.
func (d *Dispatcher) Enqueue(ctx context.Context, job crawler.Job) error {
	if err := d.queue.Enqueue(ctx, crawler.QueueItem{Job: job}); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Debug("job enqueued", zap.String("job_id", job.ID), zap.String("start_url", job.StartURL))
	return nil
}

// Cancel stops a running job or marks a queued one so it never starts. It
// reports whether the job was running on this process.
func (d *Dispatcher) Cancel(jobID string) bool {
	if d.registry == nil {
		return false
	}
	return d.registry.Cancel(jobID)
}
