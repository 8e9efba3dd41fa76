package ebitenbackend

import (
	"context"
	"sync/atomic"
	"time"
)

// GameVsync is a vsync source driven by a Preview's update loop, so the
// compositor runs in step with the window.
type GameVsync struct {
	ticks     chan time.Time
	requested atomic.Bool
	id        atomic.Uint64
}

// NewGameVsync returns an unattached source. Pass it to a Preview with
// AttachVsync.
func NewGameVsync() *GameVsync {
	return &GameVsync{ticks: make(chan time.Time, 1)}
}

// RequestNextVsync arms the next tick.
func (v *GameVsync) RequestNextVsync() { v.requested.Store(true) }

func (v *GameVsync) tick(ts time.Time) {
	select {
	case v.ticks <- ts:
	default:
	}
}

// Run calls fn on every armed tick until ctx is done.
func (v *GameVsync) Run(ctx context.Context, fn func(ts time.Time, vsyncID uint64)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ts := <-v.ticks:
			id := v.id.Add(1)
			if v.requested.Swap(false) {
				fn(ts, id)
			}
		}
	}
}
