package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

// CounterRepository persists running job counters.
type CounterRepository interface {
	UpdateJobCounters(ctx context.Context, jobID string, counters crawler.JobCounters) error
}

// StoreSink keeps the job store's counters current while a job runs. It
// collapses each batch to the latest counters per job to reduce write
// amplification. Terminal status is written by the worker, not here.
type StoreSink struct {
	repo   CounterRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo CounterRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the newest counters of every job in batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[string]crawler.JobCounters)
	order := make([]string, 0, 1)
	for _, evt := range batch {
		if evt.JobID == "" {
			continue
		}
		if _, seen := latest[evt.JobID]; !seen {
			order = append(order, evt.JobID)
		}
		latest[evt.JobID] = crawler.JobCounters{
			Attempted:  evt.Stats.Attempted,
			Successful: evt.Stats.Successful,
		}
	}
	for _, jobID := range order {
		err := s.repo.UpdateJobCounters(ctx, jobID, latest[jobID])
		switch {
		case err == nil:
		case errors.Is(err, crawler.ErrJobNotFound):
			// Streamed crawls have no job record.
			s.logger.Debug("skipping counters for unknown job", zap.String("job_id", jobID))
		default:
			return fmt.Errorf("update job counters: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
