package canopy

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind classifies a DiagnosticEvent.
type EventKind uint8

const (
	EventAccessViolation EventKind = iota
	EventForcedAdvance
	EventHardwareTimeout
	EventExceptionReport
	EventLoadWarning
	EventDoubleRelease
	EventFrameSkipped
)

func (k EventKind) String() string {
	switch k {
	case EventAccessViolation:
		return "access-violation"
	case EventForcedAdvance:
		return "forced-advance"
	case EventHardwareTimeout:
		return "hardware-timeout"
	case EventExceptionReport:
		return "exception-report"
	case EventLoadWarning:
		return "load-warning"
	case EventDoubleRelease:
		return "double-release"
	case EventFrameSkipped:
		return "frame-skipped"
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// DiagnosticEvent is a notable pipeline occurrence forwarded to sinks.
type DiagnosticEvent struct {
	Kind    EventKind
	Time    time.Time
	Screen  ScreenID
	Node    NodeID
	Count   int
	Message string
}

// DiagnosticSink receives diagnostic events. Emit is called from pipeline
// goroutines and must not block.
type DiagnosticSink interface {
	Emit(DiagnosticEvent)
}

// Diagnostics holds the pipeline's counters. All fields are safe for
// concurrent use.
type Diagnostics struct {
	SyncCommits      atomic.Int64
	SyncMisses       atomic.Int64
	DeferredSyncs    atomic.Int64
	StaleSkips       atomic.Int64
	AccessViolations atomic.Int64

	NodesDestroyed    atomic.Int64
	DrawablesReleased atomic.Int64

	TransactionsApplied   atomic.Int64
	DuplicateTransactions atomic.Int64
	ForcedAdvances        atomic.Int64
	CommandErrors         atomic.Int64

	Frames             atomic.Int64
	FramesSkipped      atomic.Int64
	DirectCompositions atomic.Int64
	MirrorCompositions atomic.Int64
	FullRedraws        atomic.Int64

	CommitsScheduled     atomic.Int64
	CommitsCompleted     atomic.Int64
	DelayAdjustments     atomic.Int64
	HardwareTimeouts     atomic.Int64
	ExceptionReports     atomic.Int64
	LoadWarnings         atomic.Int64
	RequestFrameFailures atomic.Int64

	CapacityWaitTimeouts  atomic.Int64
	UnmarshalWaitTimeouts atomic.Int64
	RenderWaitTimeouts    atomic.Int64

	BuffersAcquired atomic.Int64
	BuffersReleased atomic.Int64
	DoubleReleases  atomic.Int64

	mu    sync.Mutex
	sinks []DiagnosticSink
}

// NewDiagnostics returns zeroed counters with no sinks.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// AddSink registers s to receive events.
func (d *Diagnostics) AddSink(s DiagnosticSink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

func (d *Diagnostics) emit(ev DiagnosticEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	d.mu.Lock()
	sinks := d.sinks
	d.mu.Unlock()
	for _, s := range sinks {
		s.Emit(ev)
	}
}

// Counter is a named counter value in a snapshot.
type Counter struct {
	Name  string
	Value int64
}

// Snapshot returns every counter in a fixed order.
func (d *Diagnostics) Snapshot() []Counter {
	return []Counter{
		{"sync.commits", d.SyncCommits.Load()},
		{"sync.misses", d.SyncMisses.Load()},
		{"sync.deferred", d.DeferredSyncs.Load()},
		{"sync.stale_skips", d.StaleSkips.Load()},
		{"sync.access_violations", d.AccessViolations.Load()},
		{"nodes.destroyed", d.NodesDestroyed.Load()},
		{"drawables.released", d.DrawablesReleased.Load()},
		{"tx.applied", d.TransactionsApplied.Load()},
		{"tx.duplicates", d.DuplicateTransactions.Load()},
		{"tx.forced_advances", d.ForcedAdvances.Load()},
		{"tx.command_errors", d.CommandErrors.Load()},
		{"frames.total", d.Frames.Load()},
		{"frames.skipped", d.FramesSkipped.Load()},
		{"frames.direct", d.DirectCompositions.Load()},
		{"frames.mirror", d.MirrorCompositions.Load()},
		{"frames.redraw", d.FullRedraws.Load()},
		{"commit.scheduled", d.CommitsScheduled.Load()},
		{"commit.completed", d.CommitsCompleted.Load()},
		{"commit.delay_adjustments", d.DelayAdjustments.Load()},
		{"commit.timeouts", d.HardwareTimeouts.Load()},
		{"commit.exception_reports", d.ExceptionReports.Load()},
		{"commit.load_warnings", d.LoadWarnings.Load()},
		{"render.request_frame_failures", d.RequestFrameFailures.Load()},
		{"wait.capacity_timeouts", d.CapacityWaitTimeouts.Load()},
		{"wait.unmarshal_timeouts", d.UnmarshalWaitTimeouts.Load()},
		{"wait.render_timeouts", d.RenderWaitTimeouts.Load()},
		{"buffers.acquired", d.BuffersAcquired.Load()},
		{"buffers.released", d.BuffersReleased.Load()},
		{"buffers.double_releases", d.DoubleReleases.Load()},
	}
}

// Dump writes the counters as "name value" lines.
func (d *Diagnostics) Dump(w io.Writer) error {
	for _, c := range d.Snapshot() {
		if _, err := fmt.Fprintf(w, "%-30s %d\n", c.Name, c.Value); err != nil {
			return err
		}
	}
	return nil
}
