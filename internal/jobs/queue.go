package jobs

import (
	"context"
	"sync"

	"github.com/rinario-studio/inboxd/pkg/errcode"
	"github.com/rinario-studio/inboxd/pkg/logger"
)

// Job is one unit of background work. Jobs receive a context detached
// from the request that enqueued them: the API has already returned a
// Progress handle by the time the job runs.
type Job func(ctx context.Context)

// Queue is the in-process background worker pool used for deferred
// fan-out, bulk creation and batch updates. Enqueue never blocks; a full
// channel is surfaced to the caller instead of stalling request handling.
type Queue struct {
	ch      chan Job
	workers int
	log     *logger.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewQueue creates a queue with the given worker count and buffer size.
func NewQueue(workers, size int, log *logger.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1024
	}
	return &Queue{
		ch:      make(chan Job, size),
		workers: workers,
		log:     log,
	}
}

// Start launches the worker goroutines.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for job := range q.ch {
		q.run(ctx, job)
	}
}

func (q *Queue) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorw("background job panicked", "panic", r)
		}
	}()
	job(ctx)
}

// Enqueue submits a job. Returns ErrQueueFull when the buffer is full.
func (q *Queue) Enqueue(job Job) error {
	select {
	case q.ch <- job:
		return nil
	default:
		return errcode.ErrQueueFull
	}
}

// Stop drains the queue and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.ch)
	})
	q.wg.Wait()
}
