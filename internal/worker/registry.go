package worker

import (
	"context"
	"sync"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Registry tracks the cancel functions of running jobs so the API can stop
// them by ID. Jobs canceled while still queued are remembered and skipped
// when a worker picks them up.
type Registry struct {
	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
	pending map[string]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		running: make(map[string]context.CancelCauseFunc),
		pending: make(map[string]struct{}),
	}
}

// Cancel stops a running job and reports true, or marks a queued job so it
// never starts and reports false.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.running[jobID]; ok {
		cancel(crawler.ErrCanceled)
		return true
	}
	r.pending[jobID] = struct{}{}
	return false
}

// Running reports whether jobID is executing on this process.
func (r *Registry) Running(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[jobID]
	return ok
}

// start registers jobID and returns its context. ok is false when the job was
// canceled before it started.
func (r *Registry) start(ctx context.Context, jobID string) (context.Context, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, canceled := r.pending[jobID]; canceled {
		delete(r.pending, jobID)
		return ctx, func() {}, false
	}
	jobCtx, cancel := context.WithCancelCause(ctx)
	r.running[jobID] = cancel
	return jobCtx, func() {
		r.mu.Lock()
		delete(r.running, jobID)
		r.mu.Unlock()
		cancel(nil)
	}, true
}
