package canopy

import (
	"context"
	"sync/atomic"
	"time"
)

// VsyncSource delivers vsync signals on request. Each RequestNextVsync
// yields at most one callback.
type VsyncSource interface {
	RequestNextVsync()
	Run(ctx context.Context, fn func(ts time.Time, vsyncID uint64)) error
}

// TickerVsync is a software vsync ticking at a fixed rate.
type TickerVsync struct {
	period    time.Duration
	requested atomic.Bool
	id        atomic.Uint64
}

// NewTickerVsync returns a vsync source ticking at rate Hz.
func NewTickerVsync(rate uint32) *TickerVsync {
	return &TickerVsync{period: periodOf(max(rate, 1))}
}

// RequestNextVsync arms the next tick.
func (v *TickerVsync) RequestNextVsync() {
	v.requested.Store(true)
}

// Run calls fn on every armed tick until ctx is done.
func (v *TickerVsync) Run(ctx context.Context, fn func(ts time.Time, vsyncID uint64)) error {
	t := time.NewTicker(v.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ts := <-t.C:
			id := v.id.Add(1)
			if v.requested.Swap(false) {
				fn(ts, id)
			}
		}
	}
}
