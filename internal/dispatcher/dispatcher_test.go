package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/worker"
)

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, nil, nil, nil, nil, nil, nil, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil, nil, nil)

	err := dispatch.Enqueue(context.Background(), crawler.Job{ID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
}

func TestDispatcherEnqueueWrapsJob(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{}
	dispatch := New(queue, nil, nil, nil)

	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.Job{ID: "job-1", StartURL: "https://example.com"}))
	require.Equal(t, "job-1", queue.last.Job.ID)
	require.Zero(t, queue.last.Attempt)
}

func TestDispatcherCancelDelegatesToRegistry(t *testing.T) {
	t.Parallel()

	require.False(t, New(&errorQueue{}, nil, nil, nil).Cancel("job"))

	registry := worker.NewRegistry()
	dispatch := New(&errorQueue{}, nil, registry, nil)
	require.False(t, dispatch.Cancel("job"), "a job that is not running is only marked")
	require.False(t, registry.Running("job"))
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ crawler.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return crawler.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err  error
	last crawler.QueueItem
}

func (q *errorQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.last = item
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, nil
}
