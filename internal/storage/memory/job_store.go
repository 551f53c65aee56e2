package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]crawler.JobRecord
	pages map[string][]crawler.PageResult
	now   func() time.Time
}

var _ crawler.JobStore = (*JobStore)(nil)

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:  make(map[string]crawler.JobRecord),
		pages: make(map[string][]crawler.PageResult),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job crawler.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = crawler.JobStatusQueued
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job. Started is set
// on the first transition to running and Finished on any terminal status.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now()
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.Terminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateJobCounters refreshes the live counters of a running job.
func (s *JobStore) UpdateJobCounters(_ context.Context, jobID string, counters crawler.JobCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update counters %s: %w", jobID, crawler.ErrJobNotFound)
	}
	job.Counters = counters
	s.jobs[jobID] = job
	return nil
}

// RecordPage appends a page for a job.
func (s *JobStore) RecordPage(_ context.Context, jobID string, page crawler.PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("record page %s: %w", jobID, crawler.ErrJobNotFound)
	}
	page.Links = append([]string(nil), page.Links...)
	s.pages[jobID] = append(s.pages[jobID], page)
	return nil
}

// RecordArchive stores the URI of the archived results.
func (s *JobStore) RecordArchive(_ context.Context, jobID, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("record archive %s: %w", jobID, crawler.ErrJobNotFound)
	}
	job.ArchiveURI = uri
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.JobRecord{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return job, nil
}

// ListPages returns all recorded pages for a job in insertion order. Unknown
// jobs yield an empty slice.
func (s *JobStore) ListPages(_ context.Context, jobID string) ([]crawler.PageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[jobID]
	out := make([]crawler.PageResult, len(pages))
	copy(out, pages)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
