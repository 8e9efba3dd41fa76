package ebitenbackend

import (
	"image"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/phanxgames/canopy"
)

// whitePixel is scaled and tinted to fill rectangles.
var whitePixel *ebiten.Image

func init() {
	whitePixel = ebiten.NewImage(1, 1)
	whitePixel.Fill(canopy.Color{R: 1, G: 1, B: 1, A: 1}.RGBA())
}

// Canvas draws onto an ebiten image. It implements canopy.Canvas.
type Canvas struct {
	dst   *ebiten.Image
	store *BufferStore
	clip  image.Rectangle
	stack []image.Rectangle
	op    ebiten.DrawImageOptions
}

// NewCanvas returns a canvas over dst resolving buffers through store.
func NewCanvas(dst *ebiten.Image, store *BufferStore) *Canvas {
	return &Canvas{dst: dst, store: store, clip: dst.Bounds()}
}

// ClipBounds returns the current clip rectangle.
func (c *Canvas) ClipBounds() image.Rectangle { return c.clip }

// Depth returns the number of unmatched Save calls.
func (c *Canvas) Depth() int { return len(c.stack) }

func (c *Canvas) Save() {
	c.stack = append(c.stack, c.clip)
}

func (c *Canvas) Restore() {
	if len(c.stack) == 0 {
		return
	}
	c.clip = c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
}

// ClipRect narrows the clip to r.
func (c *Canvas) ClipRect(r image.Rectangle) {
	c.clip = c.clip.Intersect(r)
}

// target returns the destination restricted to r within the clip, or nil.
func (c *Canvas) target(r image.Rectangle) *ebiten.Image {
	r = r.Intersect(c.clip)
	if r.Empty() {
		return nil
	}
	return c.dst.SubImage(r).(*ebiten.Image)
}

func (c *Canvas) Clear(col canopy.Color) {
	if t := c.target(c.clip); t != nil {
		t.Fill(col.RGBA())
	}
}

func (c *Canvas) ClearRect(r image.Rectangle) {
	if t := c.target(r); t != nil {
		t.Clear()
	}
}

func (c *Canvas) FillRect(r image.Rectangle, col canopy.Color) {
	t := c.target(r)
	if t == nil || col.A <= 0 {
		return
	}
	c.op.GeoM.Reset()
	c.op.GeoM.Scale(float64(r.Dx()), float64(r.Dy()))
	c.op.GeoM.Translate(float64(r.Min.X), float64(r.Min.Y))
	c.op.ColorScale.Reset()
	c.op.ColorScale.ScaleWithColor(col.RGBA())
	c.op.Blend = ebiten.BlendSourceOver
	t.DrawImage(whitePixel, &c.op)
}

func (c *Canvas) DrawBuffer(b canopy.BufferHandle, dst image.Rectangle, alpha float64) {
	if c.store == nil {
		return
	}
	c.drawImage(c.store.Image(b), dst, alpha, ebiten.BlendSourceOver)
}

// DrawSurface copies the last presented buffer of src into dst. Surfaces of
// other backends are ignored.
func (c *Canvas) DrawSurface(src canopy.FrameSurface, dst image.Rectangle) {
	s, ok := src.(*Surface)
	if !ok {
		return
	}
	c.drawImage(s.Presented(), dst, 1, ebiten.BlendCopy)
}

func (c *Canvas) drawImage(img *ebiten.Image, dst image.Rectangle, alpha float64, blend ebiten.Blend) {
	if img == nil || alpha <= 0 {
		return
	}
	t := c.target(dst)
	if t == nil {
		return
	}
	sb := img.Bounds()
	if sb.Empty() {
		return
	}
	c.op.GeoM.Reset()
	c.op.GeoM.Translate(-float64(sb.Min.X), -float64(sb.Min.Y))
	c.op.GeoM.Scale(float64(dst.Dx())/float64(sb.Dx()), float64(dst.Dy())/float64(sb.Dy()))
	c.op.GeoM.Translate(float64(dst.Min.X), float64(dst.Min.Y))
	c.op.ColorScale.Reset()
	c.op.ColorScale.ScaleAlpha(float32(alpha))
	c.op.Blend = blend
	t.DrawImage(img, &c.op)
}

var _ canopy.Canvas = (*Canvas)(nil)
