package canopy

import (
	"fmt"
	"image/color"
)

// NodeID is the stable identity of a scene node and its drawable.
type NodeID uint64

// ScreenID identifies a physical or virtual output.
type ScreenID uint64

// SenderID identifies a client connection submitting transactions.
type SenderID uint32

// BufferHandle names a producer buffer. Zero means "no buffer".
type BufferHandle uint64

// NodeKind selects the render-parameter variant a node carries.
type NodeKind uint8

const (
	KindCanvas NodeKind = iota
	KindSurface
	KindEffect
	KindScreen
	KindLogicalDisplay
)

func (k NodeKind) String() string {
	switch k {
	case KindCanvas:
		return "canvas"
	case KindSurface:
		return "surface"
	case KindEffect:
		return "effect"
	case KindScreen:
		return "screen"
	case KindLogicalDisplay:
		return "logical-display"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// DirtyStatus is the per-frame dirty state of a node.
type DirtyStatus uint8

const (
	Clean DirtyStatus = iota
	Dirty
)

// Color is an RGBA color with components in [0, 1]. Not premultiplied.
type Color struct {
	R, G, B, A float64
}

var (
	ColorBlack       = Color{0, 0, 0, 1}
	ColorTransparent = Color{}
)

// RGBA returns the premultiplied 8-bit form of c.
func (c Color) RGBA() color.RGBA {
	a := clamp01(c.A)
	return color.RGBA{
		R: uint8(clamp01(c.R)*a*255 + 0.5),
		G: uint8(clamp01(c.G)*a*255 + 0.5),
		B: uint8(clamp01(c.B)*a*255 + 0.5),
		A: uint8(a*255 + 0.5),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PixelFormat is the back-buffer format of a screen.
type PixelFormat uint8

const (
	PixelFormatRGBA8888 PixelFormat = iota
	PixelFormatRGBA1010102
)

func (f PixelFormat) String() string {
	if f == PixelFormatRGBA1010102 {
		return "rgba1010102"
	}
	return "rgba8888"
}

// CompositionType tells the hardware composer how to present a layer.
type CompositionType uint8

const (
	CompositionDevice CompositionType = iota
	CompositionClient
	CompositionSolidColor
)

func (t CompositionType) String() string {
	switch t {
	case CompositionDevice:
		return "device"
	case CompositionClient:
		return "client"
	case CompositionSolidColor:
		return "solid-color"
	}
	return fmt.Sprintf("composition(%d)", uint8(t))
}

// CompositeType describes how a screen obtains its content.
type CompositeType uint8

const (
	// CompositeUniRender draws the screen's own subtree.
	CompositeUniRender CompositeType = iota
	// CompositeWiredMirror redraws the mirror source's tree onto this output.
	CompositeWiredMirror
	// CompositeVirtualMirror copies the source's composed image within the
	// accumulated damage.
	CompositeVirtualMirror
	// CompositeExpand extends a source screen onto a virtual output.
	CompositeExpand
)

// SkipStrategy selects the frame-skip policy of a screen.
type SkipStrategy uint8

const (
	SkipNever SkipStrategy = iota
	SkipByInterval
	SkipByRefreshRate
	SkipByActiveRefreshRate
)
