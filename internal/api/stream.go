package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

const streamBuffer = 16

// streamCrawl validates the start request, then runs the crawl for the
// lifetime of the request and writes every event as an SSE frame. Dropping
// the connection cancels the crawl.
func (s *Server) streamCrawl(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	job, status, err := s.decodeStart(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	logger := s.logger.With(zap.String("job_id", job.ID), zap.String("start_url", job.StartURL))

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Job-ID", job.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	stream := progress.NewStream(streamBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer stream.Close()
		if _, err := s.deps.Runner.Run(ctx, job, progress.Tee(stream, s.deps.Events)); err != nil {
			logger.Warn("streamed crawl did not start", zap.Error(err))
		}
	}()

	for {
		select {
		case evt, ok := <-stream.Events():
			if !ok {
				<-done
				return
			}
			if err := writeFrame(w, evt); err != nil {
				logger.Info("sse write failed, detaching", zap.Error(err))
				cancel(crawler.ErrClientDisconnect)
				stream.Detach()
				<-done
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			logger.Info("client disconnected")
			stream.Detach()
			<-done
			return
		}
	}
}

// writeFrame writes evt as "event: <type>\ndata: <json>\n\n".
func writeFrame(w io.Writer, evt progress.Event) error {
	data, err := json.Marshal(evt.Payload())
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", evt.Type, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
		return fmt.Errorf("write %s frame: %w", evt.Type, err)
	}
	return nil
}
