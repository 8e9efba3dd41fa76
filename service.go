package canopy

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Service runs a Compositor: its main, render and display loopers, the
// unmarshal worker, the background release queue and the vsync source, and
// optionally a config file watcher.
type Service struct {
	Compositor *Compositor
	Vsync      VsyncSource
	// ConfigPath, when set, is watched and reloaded into the compositor.
	ConfigPath string
}

// NewService returns a service driving c from vsync.
func NewService(c *Compositor, vsync VsyncSource) *Service {
	return &Service{Compositor: c, Vsync: vsync}
}

// Run blocks until ctx is done or a goroutine fails.
func (s *Service) Run(ctx context.Context) error {
	c := s.Compositor
	cfg := c.Config()
	g, ctx := errgroup.WithContext(ctx)

	c.OnRequestVsync(s.Vsync.RequestNextVsync)
	if c.VsyncRequested() {
		s.Vsync.RequestNextVsync()
	}

	g.Go(func() error { return c.looper.Run(ctx) })
	g.Go(func() error { return c.render.Run(ctx) })
	g.Go(func() error { return c.display.Run(ctx) })
	g.Go(func() error { return c.unmarshal.Run(ctx) })
	g.Go(func() error {
		return c.scene.release.Run(ctx, cfg.Pipeline.ReleaseInterval.Std(), cfg.Pipeline.ReleaseBatchLimit)
	})
	g.Go(func() error {
		return s.Vsync.Run(ctx, func(ts time.Time, id uint64) {
			err := c.looper.Post(PriorityImmediate, func() { c.OnVsync(ctx, ts, id) })
			if err != nil {
				Logger().Warn("vsync dropped", "vsync", id, "err", err)
			}
		})
	})
	if s.ConfigPath != "" {
		g.Go(func() error { return WatchConfig(ctx, s.ConfigPath, c.SetConfig) })
	}

	Logger().Info("compositor started", "refresh_rate", cfg.RefreshRate, "delay_mode", cfg.Scheduler.DelayMode)
	err := g.Wait()
	Logger().Info("compositor stopped", "err", err)
	return err
}
