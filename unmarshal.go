package canopy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type unmarshalJob struct {
	sender SenderID
	data   []byte
}

// UnmarshalWorker decodes transaction payloads off the main loop and pushes
// them onto a TransactionQueue. Before Run is called payloads are decoded
// inline by Submit.
type UnmarshalWorker struct {
	queue   *TransactionQueue
	diag    *Diagnostics
	jobs    chan unmarshalJob
	running atomic.Bool

	mu       sync.Mutex
	stopped  bool
	inflight int
	idle     chan struct{}
}

// NewUnmarshalWorker returns a worker buffering up to capacity payloads.
func NewUnmarshalWorker(queue *TransactionQueue, diag *Diagnostics, capacity int) *UnmarshalWorker {
	return &UnmarshalWorker{
		queue: queue,
		diag:  diag,
		jobs:  make(chan unmarshalJob, max(capacity, 1)),
		idle:  make(chan struct{}),
	}
}

// Submit queues a payload from sender. The sender recorded in the payload
// is replaced by sender. Once Run has returned, Submit fails with
// ErrWorkerStopped.
func (u *UnmarshalWorker) Submit(sender SenderID, data []byte) error {
	job := unmarshalJob{sender: sender, data: data}
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return fmt.Errorf("%w: unmarshal", ErrWorkerStopped)
	}
	if !u.running.Load() {
		u.mu.Unlock()
		return u.decode(job)
	}
	select {
	case u.jobs <- job:
		u.inflight++
		u.mu.Unlock()
		return nil
	default:
		u.mu.Unlock()
		return fmt.Errorf("%w: unmarshal queue", ErrQueueFull)
	}
}

// Run decodes queued payloads until ctx is done. Payloads accepted before
// that are still decoded.
func (u *UnmarshalWorker) Run(ctx context.Context) error {
	u.running.Store(true)
	defer u.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-u.jobs:
			u.run(job)
		}
	}
}

func (u *UnmarshalWorker) run(job unmarshalJob) {
	if err := u.decode(job); err != nil {
		Logger().Warn("transaction rejected", "sender", job.sender, "err", err)
	}
	u.done()
}

func (u *UnmarshalWorker) stop() {
	u.mu.Lock()
	u.stopped = true
	u.running.Store(false)
	u.mu.Unlock()
	for {
		select {
		case job := <-u.jobs:
			u.run(job)
		default:
			return
		}
	}
}

func (u *UnmarshalWorker) decode(job unmarshalJob) error {
	td, err := DecodeTransaction(job.data)
	if err != nil {
		u.diag.CommandErrors.Add(1)
		return err
	}
	td.Sender = job.sender
	u.queue.Push(td)
	return nil
}

func (u *UnmarshalWorker) done() {
	u.mu.Lock()
	u.inflight--
	if u.inflight == 0 {
		close(u.idle)
		u.idle = make(chan struct{})
	}
	u.mu.Unlock()
}

// Inflight returns the number of payloads submitted but not yet decoded.
func (u *UnmarshalWorker) Inflight() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inflight
}

// WaitIdle waits until every submitted payload has been decoded, at most
// timeout. It reports whether the worker went idle.
func (u *UnmarshalWorker) WaitIdle(ctx context.Context, timeout time.Duration) bool {
	u.mu.Lock()
	if u.inflight == 0 {
		u.mu.Unlock()
		return true
	}
	idle := u.idle
	u.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
