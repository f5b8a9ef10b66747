package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/assetlink/internal/types"
)

// Queue manages per-job lanes with a global concurrency semaphore. Each job
// gets its own FIFO channel so runs of one job never overlap, while the
// semaphore limits the number of jobs running at once.
type Queue struct {
	lanes     map[types.JobKey]chan *Request
	semaphore *semaphore.Weighted
	processor func(*Request) error
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.JobKey]chan *Request),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for key, lane := range q.lanes {
		close(lane)
		delete(q.lanes, key)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds r to its job's lane, creating the lane on first use.
func (q *Queue) Enqueue(r *Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return fmt.Errorf("queue not running")
	}
	lane, exists := q.lanes[r.Key]
	if !exists {
		lane = make(chan *Request, 32)
		q.lanes[r.Key] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- r:
		return nil
	default:
		return fmt.Errorf("queue full for %s", r.Key)
	}
}

func (q *Queue) processLane(lane chan *Request) {
	defer q.wg.Done()
	for {
		select {
		case r, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			if q.processor != nil {
				q.active.Add(1)
				r.Ctx = q.ctx
				if err := q.processor(r); err != nil {
					slog.Error("job run failed", "run_id", string(r.ID), "job", r.Job.Name, "error", err)
				}
				q.active.Add(-1)
			}
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

// WaitIdle blocks until no request is being processed, or the timeout
// expires. Returns true if idle.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *Queue) SetProcessor(fn func(*Request) error) {
	q.processor = fn
}
