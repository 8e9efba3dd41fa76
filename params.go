package canopy

import "image"

// ParamSlot is a bit in a node's set of changed staging fields. The sync
// drain clears the slots it commits.
type ParamSlot uint16

const (
	SlotGeometry ParamSlot = 1 << iota
	SlotAlpha
	SlotVisibility
	SlotContent
	SlotFilter
	SlotBuffer
	SlotChildren
	SlotScreen

	SlotAll ParamSlot = 1<<iota - 1
)

// SurfaceParams is the variant carried by surface nodes.
type SurfaceParams struct {
	Buffer             BufferHandle
	HardwareComposable bool
	IsCursor           bool
	// SolidColor presents the layer as a flat Color instead of a buffer.
	SolidColor bool
	Color      Color
}

// ScreenParams is the variant carried by screen nodes.
type ScreenParams struct {
	Screen            ScreenID
	Width, Height     int
	PowerOn           bool
	Frozen            bool
	MirrorSource      NodeID
	Composite         CompositeType
	ForceMirrorRender bool
	ChildDisplayCount int

	HDREnabled         bool
	HDRBrightnessRatio float32
	BrightnessRatio    float32
	PixelFormat        PixelFormat

	SkipStrategy        SkipStrategy
	SkipInterval        uint32
	ExpectedRefreshRate uint32
	ActiveRefreshRate   uint32
	// AccumulateDirtyInSkipFrame keeps damage gathered during skipped frames
	// instead of rewinding to a full-surface redraw.
	AccumulateDirtyInSkipFrame bool
	// ActiveRect is the visible part of the panel. Damage outside it is
	// cleared to black. Empty means the whole surface.
	ActiveRect image.Rectangle
}

// EffectParams is the variant carried by effect nodes.
type EffectParams struct {
	FilterRadius     int
	FilterCacheValid bool
}

// CanvasParams is the variant carried by canvas nodes.
type CanvasParams struct {
	Background Color
	OpCount    int
}

// LogicalDisplayParams is the variant carried by logical-display nodes.
type LogicalDisplayParams struct {
	Screen ScreenID
	Offset image.Point
}

// RenderParams is the staging/committed parameter record of a node. Exactly
// one variant pointer is set, chosen by Kind. Create one with NewRenderParams.
//
// Fields are exported so the sync drain can deep copy the record.
type RenderParams struct {
	Kind         NodeKind
	ID           NodeID
	Bounds       image.Rectangle
	AbsRect      image.Rectangle
	Alpha        float64
	Visible      bool
	ClipToBounds bool
	Opaque       bool
	ZIndex       int

	Surface *SurfaceParams
	Screen  *ScreenParams
	Effect  *EffectParams
	Canvas  *CanvasParams
	Logical *LogicalDisplayParams
}

// NewRenderParams returns a parameter record for kind with the variant
// allocated and defaulted.
func NewRenderParams(kind NodeKind, id NodeID) *RenderParams {
	p := &RenderParams{Kind: kind, ID: id, Alpha: 1, Visible: true}
	switch kind {
	case KindSurface:
		p.Surface = &SurfaceParams{}
	case KindScreen:
		p.Screen = &ScreenParams{
			PowerOn:            true,
			HDRBrightnessRatio: 1,
			BrightnessRatio:    1,
		}
	case KindEffect:
		p.Effect = &EffectParams{}
	case KindLogicalDisplay:
		p.Logical = &LogicalDisplayParams{}
	default:
		p.Canvas = &CanvasParams{}
	}
	return p
}

// Equal reports whether p and o hold the same values.
func (p *RenderParams) Equal(o *RenderParams) bool {
	if p == nil || o == nil {
		return p == o
	}
	a, b := *p, *o
	a.Surface, a.Screen, a.Effect, a.Canvas, a.Logical = nil, nil, nil, nil, nil
	b.Surface, b.Screen, b.Effect, b.Canvas, b.Logical = nil, nil, nil, nil, nil
	return a == b &&
		eqPtr(p.Surface, o.Surface) &&
		eqPtr(p.Screen, o.Screen) &&
		eqPtr(p.Effect, o.Effect) &&
		eqPtr(p.Canvas, o.Canvas) &&
		eqPtr(p.Logical, o.Logical)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// clone returns a deep copy of p without going through reflection.
func (p *RenderParams) clone() *RenderParams {
	c := *p
	c.Surface = clonePtr(p.Surface)
	c.Screen = clonePtr(p.Screen)
	c.Effect = clonePtr(p.Effect)
	c.Canvas = clonePtr(p.Canvas)
	c.Logical = clonePtr(p.Logical)
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
