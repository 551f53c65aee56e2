package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	jobid "github.com/JakeFAU/sitecrawler/internal/id/uuid"
)

const enqueueTimeout = 5 * time.Second

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	job, status, err := s.decodeStart(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	ctx := r.Context()
	record := crawler.JobRecord{
		ID:        job.ID,
		StartURL:  job.StartURL,
		Budget:    job.Budget,
		Status:    crawler.JobStatusQueued,
		Submitted: job.Submitted,
	}
	if err := s.deps.JobStore.CreateJob(ctx, record); err != nil {
		s.logger.Error("create job failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := s.deps.Jobs.Enqueue(queueCtx, job); err != nil {
		s.logger.Error("enqueue job failed", zap.String("job_id", job.ID), zap.Error(err))
		//nolint:errcheck
		_ = s.deps.JobStore.UpdateJobStatus(context.WithoutCancel(ctx), job.ID,
			crawler.JobStatusFailed, "enqueue failed: "+err.Error(), crawler.JobCounters{})
		code := http.StatusInternalServerError
		if errors.Is(err, crawler.ErrQueueClosed) || errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusServiceUnavailable
		}
		writeError(w, code, "failed to enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// lookupJob writes the error response itself and reports false when the job
// cannot be read.
func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (crawler.JobRecord, bool) {
	jobID := chi.URLParam(r, "job_id")
	if !jobid.Valid(jobID) {
		writeError(w, http.StatusNotFound, "job not found")
		return crawler.JobRecord{}, false
	}
	job, err := s.deps.JobStore.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return crawler.JobRecord{}, false
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read job")
		return crawler.JobRecord{}, false
	}
	return job, true
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	pages, err := s.deps.JobStore.ListPages(r.Context(), job.ID)
	if err != nil {
		s.logger.Error("list pages failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch job pages")
		return
	}
	writeJSON(w, http.StatusOK, crawler.JobResult{Job: job, Pages: pages})
}

// cancelJob stops a running job, or marks a queued one so the worker skips
// it. The worker records the final status.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, "job already finished")
		return
	}
	running := s.deps.Jobs.Cancel(job.ID)
	s.logger.Info("job cancel requested", zap.String("job_id", job.ID), zap.Bool("running", running))
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "running": running})
}
