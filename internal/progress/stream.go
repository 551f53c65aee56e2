package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// ErrClientDisconnected is returned by Stream.Emit once the consumer has
// detached. It matches crawler.ErrClientDisconnect.
var ErrClientDisconnected = fmt.Errorf("progress stream detached: %w", crawler.ErrClientDisconnect)

// ErrStreamClosed is returned by Emit after Close.
var ErrStreamClosed = errors.New("progress stream closed")

// Stream is a one-way channel from a crawl job to a single consumer such as
// an SSE connection. Emit blocks until the consumer takes the event, so a
// slow client applies backpressure to the job.
type Stream struct {
	events   chan Event
	detached chan struct{}

	mu         sync.RWMutex
	closed     bool
	detachOnce sync.Once
}

// NewStream creates a Stream with the given channel buffer.
func NewStream(buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		events:   make(chan Event, buffer),
		detached: make(chan struct{}),
	}
}

// Events is the consumer side. It is closed by Close.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Emit delivers evt to the consumer.
func (s *Stream) Emit(ctx context.Context, evt Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStreamClosed
	}
	select {
	case <-s.detached:
		return ErrClientDisconnected
	default:
	}
	select {
	case s.events <- evt:
		return nil
	case <-s.detached:
		return ErrClientDisconnected
	case <-ctx.Done():
		return fmt.Errorf("emit %s: %w", evt.Type, ctx.Err())
	}
}

// Detach is called by the consumer when it stops reading, e.g. on client
// disconnect. Pending and future Emit calls return ErrClientDisconnected.
func (s *Stream) Detach() {
	s.detachOnce.Do(func() { close(s.detached) })
}

// Detached is closed once the consumer has detached.
func (s *Stream) Detached() <-chan struct{} {
	return s.detached
}

// Close ends the stream. It waits for in-flight Emit calls, which return once
// the consumer reads or detaches.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
