package canopy

import (
	"testing"
	"time"
)

var skipEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSkipByInterval(t *testing.T) {
	var s skipFrameState
	period := time.Second / 60
	steps := []struct {
		at   time.Duration
		skip bool
	}{
		{0, false},
		{period, true},
		{2 * period, false},
		{3 * period, true},
		{4 * period, false},
	}
	for _, st := range steps {
		if got := s.byInterval(skipEpoch.Add(st.at), 60, 2, 1.1); got != st.skip {
			t.Errorf("at %v: skip = %v, want %v", st.at, got, st.skip)
		}
	}
}

func TestSkipByIntervalDisabled(t *testing.T) {
	var s skipFrameState
	for i := range 3 {
		if s.byInterval(skipEpoch.Add(time.Duration(i)*time.Millisecond), 60, 1, 1.1) {
			t.Fatal("an interval of one never skips")
		}
		if s.byInterval(skipEpoch, 0, 4, 1.1) {
			t.Fatal("an unknown refresh rate never skips")
		}
	}
}

func TestSkipByRefreshRate(t *testing.T) {
	var s skipFrameState
	period := time.Second / 120
	jitter := 2 * time.Millisecond
	want := []bool{false, true, false, true, false, true}
	for i, w := range want {
		if got := s.byRefreshRate(skipEpoch.Add(time.Duration(i)*period), 120, 60, jitter); got != w {
			t.Errorf("vsync %d: skip = %v, want %v", i, got, w)
		}
	}
}

func TestSkipByRefreshRateEarlyWithinJitter(t *testing.T) {
	var s skipFrameState
	s.byRefreshRate(skipEpoch, 120, 60, 2*time.Millisecond)
	// Expected at 16.67ms; 15ms is inside the jitter window.
	if s.byRefreshRate(skipEpoch.Add(15*time.Millisecond), 120, 60, 2*time.Millisecond) {
		t.Error("frame inside the jitter window should present")
	}
}

func TestSkipByRefreshRateLateCatchesUp(t *testing.T) {
	var s skipFrameState
	s.byRefreshRate(skipEpoch, 120, 60, 0)
	late := skipEpoch.Add(100 * time.Millisecond)
	if s.byRefreshRate(late, 120, 60, 0) {
		t.Fatal("late frame should present")
	}
	if !s.lastRefresh.After(late) {
		t.Errorf("watermark %v should move past %v", s.lastRefresh.Sub(skipEpoch), late.Sub(skipEpoch))
	}
}

func TestSkipFrameStrategies(t *testing.T) {
	cfg := DefaultConfig().Skip

	var s skipFrameState
	p := &ScreenParams{SkipStrategy: SkipByActiveRefreshRate, ActiveRefreshRate: 60}
	skip, reset := s.skipFrame(skipEpoch, 120, p, cfg)
	if skip || !reset {
		t.Errorf("active rate first frame = %v/%v, want present with reset", skip, reset)
	}
	skip, _ = s.skipFrame(skipEpoch.Add(time.Second/120), 120, p, cfg)
	if !skip {
		t.Error("active rate second vsync should skip")
	}

	s = skipFrameState{}
	p.ActiveRefreshRate = 120
	if skip, reset := s.skipFrame(skipEpoch, 120, p, cfg); skip || reset {
		t.Error("active rate at full refresh never skips")
	}

	p = &ScreenParams{}
	if skip, reset := s.skipFrame(skipEpoch, 120, p, cfg); skip || reset {
		t.Error("no strategy never skips")
	}
}
