package canopy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
)

// HardwareComposer is the display controller. Commit presents a layer list
// on an output and returns the release fence of every consumed buffer.
type HardwareComposer interface {
	Commit(output ScreenID, layers []Layer) (ReleaseFences, error)
	// PowerOn reports whether the output is powered. Frames for a powered-off
	// output are dropped at commit time.
	PowerOn(output ScreenID) bool
}

// DisplayThread serializes commits to the hardware composer. Each commit is
// posted to its looper with a delay that aligns presentation to vsync and
// keeps commits strictly ordered in time.
type DisplayThread struct {
	looper *Looper
	clock  Clock
	hw     HardwareComposer
	ledger *BufferLedger
	diag   *Diagnostics

	mu           sync.Mutex
	cfg          SchedulerConfig
	lastCommit   time.Time
	lastWarning  time.Time
	timeoutCount int

	unexecuted atomic.Int32
	acquired   atomic.Int32
	capacity   chan struct{}

	onBufferReleased func(ScreenID)
}

// NewDisplayThread returns a display thread committing to hw. The looper
// runs when Run is called.
func NewDisplayThread(hw HardwareComposer, ledger *BufferLedger, diag *Diagnostics, cfg Config, clock Clock) *DisplayThread {
	if clock == nil {
		clock = SystemClock
	}
	return &DisplayThread{
		looper:   NewLooper("display", cfg.Pipeline.QueueCapacity, clock),
		clock:    clock,
		hw:       hw,
		ledger:   ledger,
		diag:     diag,
		cfg:      cfg.Scheduler,
		capacity: make(chan struct{}, 1),
	}
}

// Looper returns the display thread's task loop.
func (dt *DisplayThread) Looper() *Looper { return dt.looper }

// Run executes commits until ctx is done.
func (dt *DisplayThread) Run(ctx context.Context) error { return dt.looper.Run(ctx) }

// SetConfig replaces the scheduler configuration.
func (dt *DisplayThread) SetConfig(cfg SchedulerConfig) {
	dt.mu.Lock()
	dt.cfg = cfg
	dt.mu.Unlock()
}

// OnScreenBufferReleased registers fn to be called after each commit, once
// the screen's client target may be reused.
func (dt *DisplayThread) OnScreenBufferReleased(fn func(ScreenID)) {
	dt.onBufferReleased = fn
}

// Unexecuted returns the number of posted commits that have not run.
func (dt *DisplayThread) Unexecuted() int { return int(dt.unexecuted.Load()) }

// AcquiredBuffers returns the number of screen buffers handed to the
// composer and not yet released.
func (dt *DisplayThread) AcquiredBuffers() int { return int(dt.acquired.Load()) }

// LastCommitTime returns the time the most recent commit was scheduled for.
func (dt *DisplayThread) LastCommitTime() time.Time {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return dt.lastCommit
}

// CommitAndReleaseLayers schedules a commit of layers on output. It never
// blocks; the commit runs on the display looper after the computed delay.
func (dt *DisplayThread) CommitAndReleaseLayers(output ScreenID, layers []Layer, param RefreshRateParam) {
	now := dt.clock.Now()

	dt.mu.Lock()
	cfg := dt.cfg
	var delayMs int64
	if isDelayRequired(cfg, param) {
		var adjusted bool
		delayMs, adjusted = computeCommitDelay(cfg, param, periodOf(param.Rate), now, dt.lastCommit)
		if adjusted {
			dt.diag.DelayAdjustments.Add(1)
		}
	}
	delay := time.Duration(delayMs) * time.Millisecond
	dt.lastCommit = now.Add(delay)
	dt.mu.Unlock()

	dt.unexecuted.Add(1)
	dt.acquired.Add(1)
	dt.diag.CommitsScheduled.Add(1)
	err := dt.looper.PostDelayed(PriorityHigh, delay, func() {
		dt.commit(output, layers, param)
	})
	if err != nil {
		Logger().Error("post commit", "screen", output, "err", err)
		dt.releaseLayers(layers, nil)
		dt.finish(output)
		return
	}
	Logger().Debug("commit scheduled", "screen", output, "layers", len(layers), "delay_ms", delayMs)
}

func (dt *DisplayThread) commit(output ScreenID, layers []Layer, param RefreshRateParam) {
	start := dt.clock.Now()
	var fences ReleaseFences
	if dt.hw != nil && dt.hw.PowerOn(output) {
		var err error
		fences, err = dt.hw.Commit(output, layers)
		if err != nil {
			Logger().Warn("hardware commit", "screen", output, "err", err)
		}
	} else {
		Logger().Debug("output powered off, frame dropped", "screen", output)
	}
	end := dt.clock.Now()
	dt.releaseLayers(layers, fences)
	dt.endCheck(output, end.Sub(start))
	dt.checkLoad(output, param, end)
	dt.diag.CommitsCompleted.Add(1)
	dt.finish(output)
}

func (dt *DisplayThread) releaseLayers(layers []Layer, fences ReleaseFences) {
	var held []BufferHandle
	for _, l := range layers {
		if l.pinned {
			held = append(held, l.Buffer)
		}
	}
	if len(held) > 0 && dt.ledger != nil {
		dt.ledger.Unhold(held, fences)
	}
}

func (dt *DisplayThread) finish(output ScreenID) {
	dt.acquired.Add(-1)
	if dt.onBufferReleased != nil {
		dt.onBufferReleased(output)
	}
	dt.mu.Lock()
	threshold := dt.cfg.TaskThreshold
	dt.mu.Unlock()
	if int(dt.unexecuted.Add(-1)) <= threshold {
		select {
		case dt.capacity <- struct{}{}:
		default:
		}
	}
}

// WaitCapacity blocks until no more than the task threshold of commits are
// outstanding, timeout elapses or ctx is done. It reports whether capacity
// is available.
func (dt *DisplayThread) WaitCapacity(ctx context.Context, timeout time.Duration) bool {
	dt.mu.Lock()
	threshold := dt.cfg.TaskThreshold
	dt.mu.Unlock()
	if int(dt.unexecuted.Load()) <= threshold {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-dt.capacity:
			if int(dt.unexecuted.Load()) <= threshold {
				return true
			}
		case <-timer.C:
			return int(dt.unexecuted.Load()) <= threshold
		case <-ctx.Done():
			return false
		}
	}
}

// endCheck tracks consecutive slow hardware commits. The first threshold
// reports an exception, the second reports again and logs an error. The
// pipeline keeps running either way.
func (dt *DisplayThread) endCheck(output ScreenID, took time.Duration) {
	dt.mu.Lock()
	cfg := dt.cfg
	if took < cfg.HardwareTimeout.Std() {
		dt.timeoutCount = 0
		dt.mu.Unlock()
		return
	}
	dt.timeoutCount++
	count := dt.timeoutCount
	dt.mu.Unlock()

	dt.diag.HardwareTimeouts.Add(1)
	dt.diag.emit(DiagnosticEvent{Kind: EventHardwareTimeout, Screen: output, Count: count})
	Logger().Warn("hardware commit slow", "screen", output, "took", took, "count", count)
	switch count {
	case cfg.TimeoutReportCount:
		dt.report(output, count)
	case cfg.TimeoutAbortCount:
		dt.report(output, count)
		Logger().Error("hardware commit stuck", "screen", output, "count", count)
	}
}

func (dt *DisplayThread) report(output ScreenID, count int) {
	dt.diag.ExceptionReports.Add(1)
	dt.diag.emit(DiagnosticEvent{Kind: EventExceptionReport, Screen: output, Count: count,
		Message: "consecutive hardware commit timeouts"})
}

// checkLoad warns, at most once per interval, when a frame took several
// refresh periods from vsync to presentation.
func (dt *DisplayThread) checkLoad(output ScreenID, param RefreshRateParam, now time.Time) {
	if param.FrameTimestamp.IsZero() {
		return
	}
	period := periodOf(param.Rate)
	if period <= 0 {
		return
	}
	dt.mu.Lock()
	cfg := dt.cfg
	frames := int(now.Sub(param.FrameTimestamp) / period)
	if frames < cfg.LoadWarningFrames || (!dt.lastWarning.IsZero() && now.Sub(dt.lastWarning) <= cfg.LoadWarningInterval.Std()) {
		dt.mu.Unlock()
		return
	}
	dt.lastWarning = now
	dt.mu.Unlock()

	dt.diag.LoadWarnings.Add(1)
	dt.diag.emit(DiagnosticEvent{Kind: EventLoadWarning, Screen: output, Count: frames})
	Logger().Warn("frame presented late", "screen", output, "periods", frames, "vsync", param.VsyncID)
}

// isDelayRequired reports whether a commit should be aligned to vsync.
func isDelayRequired(cfg SchedulerConfig, p RefreshRateParam) bool {
	return cfg.DelayMode && !p.ForceRefresh && !p.AdaptiveSync && !p.GameScene
}

// computeCommitDelay returns the delay, in whole milliseconds, before a
// commit posted at now should run. The target is two periods after the
// frame's vsync, shifted by the vsync offset and shortened by the time the
// frame was composed early, minus one period of composition time and the
// reserve. A commit that would land at or before the previous one is pushed
// past it by the commit margin. adjusted reports that push.
func computeCommitDelay(cfg SchedulerConfig, p RefreshRateParam, period time.Duration, now, last time.Time) (delayMs int64, adjusted bool) {
	frameOffset := 2*period + cfg.VsyncOffset.Std() - p.FastComposeDiff
	expect := p.ActualTimestamp.Add(frameOffset - period - cfg.ReserveTime.Std())
	if diff := expect.Sub(now); diff > 0 {
		delayMs = roundMs(diff)
	}
	if !last.IsZero() {
		cur := now.Add(time.Duration(delayMs) * time.Millisecond)
		if !cur.After(last) {
			delayMs += roundMs(last.Sub(cur)) + roundMs(cfg.CommitMargin.Std())
			adjusted = true
		}
	}
	maxMs := roundMs(cfg.MaxDelay.Std())
	return min(max(delayMs, 0), maxMs), adjusted
}

func roundMs(d time.Duration) int64 {
	return int64(math32.Round(float32(d) / float32(time.Millisecond)))
}
