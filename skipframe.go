package canopy

import "time"

// skipFrameState paces a screen that presents slower than the vsync rate.
// lastRefresh is a watermark: for interval skipping it is the time of the
// last presented frame, for rate skipping it is the time the next frame is
// expected.
type skipFrameState struct {
	lastRefresh time.Time
}

// byInterval skips until (interval-1) vsync periods, scaled by tolerance,
// have passed since the last presented frame.
func (s *skipFrameState) byInterval(now time.Time, refreshRate, interval uint32, tolerance float64) bool {
	if refreshRate == 0 || interval <= 1 {
		return false
	}
	period := int64(time.Second) / int64(refreshRate)
	limit := time.Duration(float64(period*int64(interval-1)) * tolerance)
	if now.Sub(s.lastRefresh) < limit {
		return true
	}
	s.lastRefresh = now
	return false
}

// byRefreshRate presents at expectedRate out of refreshRate vsyncs. The
// watermark advances by whole expected periods so it never drifts, and a
// frame arriving up to maxJitter early still counts as on time.
func (s *skipFrameState) byRefreshRate(now time.Time, refreshRate, expectedRate uint32, maxJitter time.Duration) bool {
	if refreshRate == 0 || expectedRate == 0 || refreshRate == expectedRate {
		return false
	}
	minInterval := time.Second / time.Duration(expectedRate)
	if minInterval == 0 {
		return false
	}
	if s.lastRefresh.IsZero() {
		s.lastRefresh = now.Add(minInterval)
		return false
	}
	if now.Before(s.lastRefresh.Add(-maxJitter)) {
		return true
	}
	intervals := (now.Sub(s.lastRefresh) + maxJitter) / minInterval
	s.lastRefresh = s.lastRefresh.Add((intervals + 1) * minInterval)
	return false
}

// skipFrame applies the screen's strategy. resetDirty is set when the
// strategy requires the next presented frame to redraw the whole surface.
func (s *skipFrameState) skipFrame(now time.Time, refreshRate uint32, p *ScreenParams, cfg SkipConfig) (skip, resetDirty bool) {
	switch p.SkipStrategy {
	case SkipByInterval:
		return s.byInterval(now, refreshRate, p.SkipInterval, cfg.IntervalTolerance), false
	case SkipByRefreshRate:
		return s.byRefreshRate(now, refreshRate, p.ExpectedRefreshRate, cfg.MaxJitter.Std()), false
	case SkipByActiveRefreshRate:
		if refreshRate > p.ActiveRefreshRate {
			return s.byRefreshRate(now, refreshRate, p.ActiveRefreshRate, cfg.MaxJitter.Std()), true
		}
	}
	return false, false
}
