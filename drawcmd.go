package canopy

import "image"

// Canvas is the GPU draw backend a DrawCmdList replays onto.
type Canvas interface {
	Save()
	Restore()
	ClipRect(r image.Rectangle)
	Clear(c Color)
	ClearRect(r image.Rectangle)
	FillRect(r image.Rectangle, c Color)
	DrawBuffer(b BufferHandle, dst image.Rectangle, alpha float64)
	DrawSurface(src FrameSurface, dst image.Rectangle)
}

// OpKind is the type of a recorded draw operation.
type OpKind uint8

const (
	OpSave OpKind = iota
	OpRestore
	OpClip
	OpFill
	OpClearRect
	OpDrawBuffer
)

// DrawOp is one recorded draw operation. Rectangles are in screen space.
type DrawOp struct {
	Kind   OpKind
	Rect   image.Rectangle
	Color  Color
	Buffer BufferHandle
	Alpha  float64
}

// Marker names a split point inside a DrawCmdList.
type Marker uint8

const (
	MarkerBgBegin Marker = iota
	MarkerContent
	MarkerChildren
	MarkerFgBegin
	MarkerEnd
	markerCount
)

// DrawCmdList is the compiled draw-command list of a drawable. Markers split
// it into background, content, children and foreground ranges so a renderer
// can replay the part before a node's children and the part after them
// separately.
type DrawCmdList struct {
	ops     []DrawOp
	markers [markerCount]int
}

// NewDrawCmdList returns an empty list.
func NewDrawCmdList() *DrawCmdList {
	return &DrawCmdList{}
}

// Reset empties l, keeping its storage.
func (l *DrawCmdList) Reset() {
	l.ops = l.ops[:0]
	l.markers = [markerCount]int{}
}

// Append records op.
func (l *DrawCmdList) Append(op DrawOp) {
	l.ops = append(l.ops, op)
}

// Mark records the current end of the list as the position of m.
func (l *DrawCmdList) Mark(m Marker) {
	l.markers[m] = len(l.ops)
}

// Index returns the op index recorded for m.
func (l *DrawCmdList) Index(m Marker) int {
	return l.markers[m]
}

// Len returns the number of recorded ops.
func (l *DrawCmdList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.ops)
}

// Ops returns the recorded ops. The slice must not be modified.
func (l *DrawCmdList) Ops() []DrawOp {
	return l.ops
}

// Span returns the number of ops between two markers.
func (l *DrawCmdList) Span(from, to Marker) int {
	if l == nil {
		return 0
	}
	return l.markers[to] - l.markers[from]
}

// Replay draws ops [start, end) onto c. Out-of-range bounds are clamped.
// It returns the number of ops replayed.
func (l *DrawCmdList) Replay(c Canvas, start, end int) int {
	if l == nil {
		return 0
	}
	start = max(start, 0)
	end = min(end, len(l.ops))
	for i := start; i < end; i++ {
		replayOp(c, &l.ops[i])
	}
	return max(end-start, 0)
}

// ReplayRange draws the ops between two markers.
func (l *DrawCmdList) ReplayRange(c Canvas, from, to Marker) int {
	if l == nil {
		return 0
	}
	return l.Replay(c, l.markers[from], l.markers[to])
}

func replayOp(c Canvas, op *DrawOp) {
	switch op.Kind {
	case OpSave:
		c.Save()
	case OpRestore:
		c.Restore()
	case OpClip:
		c.ClipRect(op.Rect)
	case OpFill:
		c.FillRect(op.Rect, op.Color)
	case OpClearRect:
		c.ClearRect(op.Rect)
	case OpDrawBuffer:
		c.DrawBuffer(op.Buffer, op.Rect, op.Alpha)
	}
}

// clone returns a copy sharing no storage with l.
func (l *DrawCmdList) clone() *DrawCmdList {
	if l == nil {
		return nil
	}
	return &DrawCmdList{ops: append([]DrawOp(nil), l.ops...), markers: l.markers}
}
