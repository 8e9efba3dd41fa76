package canopy

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Priority orders ready tasks on a Looper.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityImmediate
)

type task struct {
	due  time.Time
	prio Priority
	seq  uint64
	fn   func()
}

// readyQueue orders by priority, then posting order.
type readyQueue []*task

func (q readyQueue) Len() int { return len(q) }
func (q readyQueue) Less(i, j int) bool {
	if q[i].prio != q[j].prio {
		return q[i].prio > q[j].prio
	}
	return q[i].seq < q[j].seq
}
func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)   { *q = append(*q, x.(*task)) }
func (q *readyQueue) Pop() any {
	old := *q
	t := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return t
}

// delayedQueue orders by due time, then posting order.
type delayedQueue []*task

func (q delayedQueue) Len() int { return len(q) }
func (q delayedQueue) Less(i, j int) bool {
	if !q[i].due.Equal(q[j].due) {
		return q[i].due.Before(q[j].due)
	}
	return q[i].seq < q[j].seq
}
func (q delayedQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *delayedQueue) Push(x any)   { *q = append(*q, x.(*task)) }
func (q *delayedQueue) Pop() any {
	old := *q
	t := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return t
}

// Looper is a single-threaded run loop with a bounded task queue. Tasks run
// one at a time on the goroutine that calls Run (or RunPending). Ready tasks
// run by priority; delayed tasks become ready when their due time passes.
type Looper struct {
	name     string
	clock    Clock
	capacity int

	mu      sync.Mutex
	ready   readyQueue
	delayed delayedQueue
	seq     uint64
	stopped bool
	wake    chan struct{}
}

// NewLooper returns a looper holding at most capacity queued tasks.
func NewLooper(name string, capacity int, clock Clock) *Looper {
	if clock == nil {
		clock = SystemClock
	}
	return &Looper{
		name:     name,
		clock:    clock,
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// Name returns the looper's name.
func (l *Looper) Name() string { return l.name }

// Post queues fn to run as soon as possible.
func (l *Looper) Post(p Priority, fn func()) error {
	return l.PostDelayed(p, 0, fn)
}

// PostDelayed queues fn to run once delay has elapsed.
func (l *Looper) PostDelayed(p Priority, delay time.Duration, fn func()) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLooperStopped, l.name)
	}
	if l.capacity > 0 && len(l.ready)+len(l.delayed) >= l.capacity {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s holds %d tasks", ErrQueueFull, l.name, l.capacity)
	}
	l.seq++
	t := &task{prio: p, seq: l.seq, fn: fn}
	if delay > 0 {
		t.due = l.clock.Now().Add(delay)
		heap.Push(&l.delayed, t)
	} else {
		heap.Push(&l.ready, t)
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of queued tasks.
func (l *Looper) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ready) + len(l.delayed)
}

// promoteLocked moves due delayed tasks to the ready queue and returns the
// due time of the next delayed task, or the zero time.
func (l *Looper) promoteLocked(now time.Time) time.Time {
	for len(l.delayed) > 0 {
		t := l.delayed[0]
		if t.due.After(now) {
			return t.due
		}
		heap.Pop(&l.delayed)
		heap.Push(&l.ready, t)
	}
	return time.Time{}
}

func (l *Looper) next() (fn func(), nextDue time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	nextDue = l.promoteLocked(l.clock.Now())
	if len(l.ready) == 0 {
		return nil, nextDue
	}
	return heap.Pop(&l.ready).(*task).fn, nextDue
}

// RunPending runs every task that is due now, including tasks they post
// that are themselves due, and returns how many ran.
func (l *Looper) RunPending() int {
	ran := 0
	for {
		fn, _ := l.next()
		if fn == nil {
			return ran
		}
		fn()
		ran++
	}
}

// Run executes tasks until ctx is done or Stop is called.
func (l *Looper) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		fn, nextDue := l.next()
		if fn != nil {
			fn()
			continue
		}
		l.mu.Lock()
		stopped := l.stopped
		l.mu.Unlock()
		if stopped {
			return nil
		}
		var timeout <-chan time.Time
		if !nextDue.IsZero() {
			timer.Reset(max(nextDue.Sub(l.clock.Now()), 0))
			timeout = timer.C
		}
		select {
		case <-ctx.Done():
			l.Stop()
			return nil
		case <-l.wake:
		case <-timeout:
		}
		if timeout != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// Stop refuses further posts. Queued tasks are dropped once Run returns.
func (l *Looper) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
