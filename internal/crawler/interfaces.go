package crawler

import (
	"context"
	"io"
	"time"
)

// PageFetcher retrieves one page using the two-tier strategy.
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL, startHost string) Outcome
}

// RobotsPolicy decides whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// JobStore persists asynchronous job metadata and page results.
type JobStore interface {
	CreateJob(ctx context.Context, job JobRecord) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	UpdateJobCounters(ctx context.Context, jobID string, counters JobCounters) error
	RecordPage(ctx context.Context, jobID string, page PageResult) error
	RecordArchive(ctx context.Context, jobID, uri string) error
	GetJob(ctx context.Context, jobID string) (JobRecord, error)
	ListPages(ctx context.Context, jobID string) ([]PageResult, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion notices to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
