package canopy

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// ForceCommitReason is a bitset of conditions that forbid skipping a frame.
type ForceCommitReason uint8

const (
	ForceHardwareLayer ForceCommitReason = 1 << iota
	ForceCursorMove
	ForceFullRepaint
)

func (r ForceCommitReason) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	if r&ForceHardwareLayer != 0 {
		parts = append(parts, "hardware-layer")
	}
	if r&ForceCursorMove != 0 {
		parts = append(parts, "cursor-move")
	}
	if r&ForceFullRepaint != 0 {
		parts = append(parts, "full-repaint")
	}
	return strings.Join(parts, "|")
}

// Layer is one entry of the list handed to the hardware composer.
type Layer struct {
	ZOrder      int
	Node        NodeID
	Buffer      BufferHandle
	Composition CompositionType
	DisplayRect image.Rectangle
	Alpha       float64
	Color       Color
	Cursor      bool

	// pinned marks a buffer the committer must unpin after presenting.
	pinned bool
}

// LayerEntry names a hardware-composable drawable of a screen for one frame.
type LayerEntry struct {
	Screen   ScreenID
	Node     NodeID
	Drawable *Drawable
}

// DrawPhase selects which half of a node's command list a DrawItem replays.
type DrawPhase uint8

const (
	// PhaseBefore replays background and content, up to the children marker.
	PhaseBefore DrawPhase = iota
	// PhaseAfter replays the foreground, after the node's children.
	PhaseAfter
)

// DrawItem is one step of a screen's flattened draw order.
type DrawItem struct {
	Node  NodeID
	Phase DrawPhase
}

// ScreenFrame is the per-screen part of FrameParams.
type ScreenFrame struct {
	Screen ScreenID
	Node   NodeID
	// Dirty is the damage accumulated for the screen this frame.
	Dirty     Region
	DrawItems []DrawItem
	Layers    []LayerEntry
	// Buffers are the producer buffers the frame pins until the screen's
	// commit completes or the screen is skipped.
	Buffers              []BufferHandle
	FilterCacheInvalid   bool
	HardCursorNeedCommit bool
}

// RefreshRateParam carries the timing inputs of the commit scheduler.
type RefreshRateParam struct {
	Rate            uint32
	VsyncID         uint64
	FrameTimestamp  time.Time
	ActualTimestamp time.Time
	// FastComposeDiff shortens the pipeline when the frame was composed
	// ahead of its vsync.
	FastComposeDiff time.Duration
	ForceRefresh    bool
	AdaptiveSync    bool
	GameScene       bool
}

// FrameParams is the immutable per-frame block posted from the main loop to
// the render goroutine.
type FrameParams struct {
	Seq         uint64
	Timestamp   time.Time
	Force       ForceCommitReason
	GlobalDirty bool
	// Direct marks a frame whose only changes are hardware-layer buffers;
	// screens re-submit their previous layer lists without redrawing.
	Direct  bool
	Refresh RefreshRateParam
	Screens []ScreenFrame
}

// ScreenState is the per-frame decision of a screen drawable.
type ScreenState uint8

const (
	StateSkip ScreenState = iota
	StateDirectCompose
	StateMirrorCompose
	StateFullRedraw
)

func (s ScreenState) String() string {
	switch s {
	case StateSkip:
		return "SKIP"
	case StateDirectCompose:
		return "DIRECT_COMPOSE"
	case StateMirrorCompose:
		return "MIRROR_COMPOSE"
	case StateFullRedraw:
		return "FULL_REDRAW"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// DrawSkipType records why a screen skipped.
type DrawSkipType uint8

const (
	SkipNone DrawSkipType = iota
	SkipNoParams
	SkipNoDisplay
	SkipPowerOff
	SkipFrozen
	SkipFrameStrategy
	SkipNoDamage
	SkipNoSurface
	SkipRequestFrameFailed
	SkipMirrorSourceMissing
)

func (t DrawSkipType) String() string {
	switch t {
	case SkipNone:
		return "none"
	case SkipNoParams:
		return "no-params"
	case SkipNoDisplay:
		return "no-display"
	case SkipPowerOff:
		return "power-off"
	case SkipFrozen:
		return "frozen"
	case SkipFrameStrategy:
		return "skip-frame"
	case SkipNoDamage:
		return "no-damage"
	case SkipNoSurface:
		return "no-surface"
	case SkipRequestFrameFailed:
		return "request-frame-failed"
	case SkipMirrorSourceMissing:
		return "mirror-source-missing"
	}
	return fmt.Sprintf("skip(%d)", uint8(t))
}

// ScreenResult is the outcome of one screen drawable's frame.
type ScreenResult struct {
	Screen ScreenID
	State  ScreenState
	Skip   DrawSkipType
	Layers []Layer
	Damage Region
}
