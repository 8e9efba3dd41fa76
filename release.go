package canopy

import (
	"context"
	"sync"
	"time"
)

// ReleaseBatch is the set of nodes and drawables destroyed during one frame.
type ReleaseBatch struct {
	Frame     uint64
	Nodes     []NodeID
	Drawables []*Drawable
}

// ReleaseQueue defers destruction of drawables out of the frame loop. The
// update goroutine adds to the open batch and seals it at frame end; a
// background task drains sealed batches on a fixed cadence.
type ReleaseQueue struct {
	mu       sync.Mutex
	open     ReleaseBatch
	sealed   []ReleaseBatch
	registry *DrawableRegistry
	diag     *Diagnostics
}

// NewReleaseQueue returns an empty queue that erases released drawables
// from registry.
func NewReleaseQueue(registry *DrawableRegistry, diag *Diagnostics) *ReleaseQueue {
	return &ReleaseQueue{registry: registry, diag: diag}
}

// AddNode queues a destroyed node and its drawable (which may be nil).
func (q *ReleaseQueue) AddNode(id NodeID, d *Drawable) {
	q.mu.Lock()
	q.open.Nodes = append(q.open.Nodes, id)
	if d != nil {
		q.open.Drawables = append(q.open.Drawables, d)
	}
	q.mu.Unlock()
}

// Seal closes the open batch under frame. Empty batches are not queued.
func (q *ReleaseQueue) Seal(frame uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.open.Nodes) == 0 && len(q.open.Drawables) == 0 {
		return
	}
	q.open.Frame = frame
	q.sealed = append(q.sealed, q.open)
	q.open = ReleaseBatch{}
}

// Pending returns the number of sealed batches waiting to be drained.
func (q *ReleaseQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sealed)
}

// DrainOnce releases up to limit sealed batches, oldest first, and returns
// the number of drawables released. A limit <= 0 drains everything.
func (q *ReleaseQueue) DrainOnce(limit int) int {
	q.mu.Lock()
	n := len(q.sealed)
	if limit > 0 && limit < n {
		n = limit
	}
	batches := append([]ReleaseBatch(nil), q.sealed[:n]...)
	q.sealed = append(q.sealed[:0], q.sealed[n:]...)
	q.mu.Unlock()

	released := 0
	for _, b := range batches {
		for _, d := range b.Drawables {
			if d.release() {
				released++
			}
		}
		for _, id := range b.Nodes {
			q.registry.Prune(id)
		}
	}
	if released > 0 {
		q.diag.DrawablesReleased.Add(int64(released))
	}
	return released
}

// Run drains sealed batches every interval until ctx is done.
func (q *ReleaseQueue) Run(ctx context.Context, interval time.Duration, limit int) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			q.DrainOnce(0)
			return nil
		case <-t.C:
			q.DrainOnce(limit)
		}
	}
}
