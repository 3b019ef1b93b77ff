package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/remixsync/internal/types"
)

// DefaultLaneSize is the number of envelopes a session lane buffers before
// Enqueue starts refusing.
const DefaultLaneSize = 256

// Queue manages per-session lanes with a global concurrency semaphore.
// Each session gets its own FIFO channel (lane) so that envelopes within a
// session are merged in receipt order, while the semaphore limits the
// total number of concurrent processors across all sessions.
type Queue struct {
	lanes     map[types.SessionID]chan *Inbound
	semaphore *semaphore.Weighted
	processor func(*Inbound) error
	active    atomic.Int64
	processed atomic.Uint64
	failed    atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent envelopes to be
// processed simultaneously across all session lanes.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[types.SessionID]chan *Inbound),
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
	for id, lane := range q.lanes {
		close(lane)
		delete(q.lanes, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds an Inbound to the session's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(in *Inbound) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return fmt.Errorf("queue not running")
	}

	lane, exists := q.lanes[in.SessionID]
	if !exists {
		lane = make(chan *Inbound, DefaultLaneSize)
		q.lanes[in.SessionID] = lane
		q.wg.Add(1)
		go q.processLane(in.SessionID, lane)
	}

	select {
	case lane <- in:
		return nil
	default:
		return fmt.Errorf("queue full for session %s", in.SessionID)
	}
}

// Close releases the lane of one session. Envelopes still buffered are
// processed before the lane goroutine exits.
func (q *Queue) Close(sessionID types.SessionID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if lane, ok := q.lanes[sessionID]; ok {
		close(lane)
		delete(q.lanes, sessionID)
	}
}

// Lanes returns the number of open session lanes.
func (q *Queue) Lanes() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.lanes)
}

// processLane drains a single session lane, acquiring a semaphore slot
// before running the processor synchronously. This ensures strict FIFO
// ordering within a session while the semaphore limits cross-session
// parallelism.
func (q *Queue) processLane(sessionID types.SessionID, lane chan *Inbound) {
	defer q.wg.Done()
	for {
		select {
		case in, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			if q.processor != nil {
				q.active.Add(1)
				q.run(in)
				q.active.Add(-1)
			}
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) run(in *Inbound) {
	now := time.Now()
	in.StartedAt = &now
	in.Status = InboundRunning
	in.Ctx = q.ctx

	err := q.processor(in)

	ended := time.Now()
	in.EndedAt = &ended
	if err != nil {
		in.Status = InboundFailed
		in.Error = err
		q.failed.Add(1)
		slog.Warn("inbound envelope failed", "envelope_id", string(in.ID), "session_id", string(in.SessionID), "type", string(in.Envelope.Type), "error", err)
		return
	}
	in.Status = InboundDone
	q.processed.Add(1)
}

// WaitIdle blocks until no envelopes are actively being processed, or the
// timeout expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Processed returns how many envelopes were handled without and with error.
func (q *Queue) Processed() (ok, failed uint64) {
	return q.processed.Load(), q.failed.Load()
}

// SetProcessor sets the function invoked for each dequeued Inbound.
func (q *Queue) SetProcessor(fn func(*Inbound) error) {
	q.processor = fn
}
