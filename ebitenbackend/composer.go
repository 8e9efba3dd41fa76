package ebitenbackend

import (
	"image"
	"slices"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/phanxgames/canopy"
)

type output struct {
	layers  []canopy.Layer
	powered bool
	commits uint64
}

// Composer is a software hardware composer: it keeps the last committed
// layer list of every output and composes it onto an ebiten image on
// demand. It implements canopy.HardwareComposer.
type Composer struct {
	store *BufferStore

	mu      sync.Mutex
	outputs map[canopy.ScreenID]*output
	fence   canopy.Fence
	op      ebiten.DrawImageOptions
}

// NewComposer returns a composer resolving buffers through store.
func NewComposer(store *BufferStore) *Composer {
	return &Composer{store: store, outputs: make(map[canopy.ScreenID]*output)}
}

func (c *Composer) outputLocked(id canopy.ScreenID) *output {
	o := c.outputs[id]
	if o == nil {
		o = &output{powered: true}
		c.outputs[id] = o
	}
	return o
}

// SetPower turns an output on or off. Outputs start powered.
func (c *Composer) SetPower(id canopy.ScreenID, on bool) {
	c.mu.Lock()
	c.outputLocked(id).powered = on
	c.mu.Unlock()
}

// PowerOn implements canopy.HardwareComposer.
func (c *Composer) PowerOn(id canopy.ScreenID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputLocked(id).powered
}

// Commit implements canopy.HardwareComposer. Every buffer of the new list
// gets the fence of this commit; buffers of the previous list that are no
// longer shown are signalled with the same fence.
func (c *Composer) Commit(id canopy.ScreenID, layers []canopy.Layer) (canopy.ReleaseFences, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.outputLocked(id)
	c.fence++
	fences := make(canopy.ReleaseFences, len(layers))
	for _, l := range layers {
		if l.Buffer != 0 {
			fences[l.Buffer] = c.fence
		}
	}
	for _, l := range o.layers {
		if _, ok := fences[l.Buffer]; !ok && l.Buffer != 0 {
			fences[l.Buffer] = c.fence
		}
	}
	o.layers = slices.Clone(layers)
	slices.SortStableFunc(o.layers, func(a, b canopy.Layer) int { return a.ZOrder - b.ZOrder })
	o.commits++
	return fences, nil
}

// Layers returns the last committed layer list of an output, by z-order.
func (c *Composer) Layers(id canopy.ScreenID) []canopy.Layer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o := c.outputs[id]; o != nil {
		return slices.Clone(o.layers)
	}
	return nil
}

// Commits returns how many commits an output has received.
func (c *Composer) Commits(id canopy.ScreenID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o := c.outputs[id]; o != nil {
		return o.commits
	}
	return 0
}

// Compose draws the last committed layers of an output onto dst. A
// powered-off output is drawn black.
func (c *Composer) Compose(dst *ebiten.Image, id canopy.ScreenID) {
	c.mu.Lock()
	o := c.outputs[id]
	var layers []canopy.Layer
	powered := true
	if o != nil {
		layers = o.layers
		powered = o.powered
	}
	c.mu.Unlock()

	dst.Fill(canopy.ColorBlack.RGBA())
	if !powered {
		return
	}
	for _, l := range layers {
		r := l.DisplayRect
		if r.Empty() {
			r = dst.Bounds()
		}
		switch l.Composition {
		case canopy.CompositionSolidColor:
			col := l.Color
			col.A *= l.Alpha
			c.fill(dst, r, col)
		default:
			c.draw(dst, c.store.Image(l.Buffer), r, l.Alpha)
		}
	}
}

func (c *Composer) fill(dst *ebiten.Image, r image.Rectangle, col canopy.Color) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() || col.A <= 0 {
		return
	}
	c.op.GeoM.Reset()
	c.op.GeoM.Scale(float64(r.Dx()), float64(r.Dy()))
	c.op.GeoM.Translate(float64(r.Min.X), float64(r.Min.Y))
	c.op.ColorScale.Reset()
	c.op.ColorScale.ScaleWithColor(col.RGBA())
	dst.DrawImage(whitePixel, &c.op)
}

func (c *Composer) draw(dst, img *ebiten.Image, r image.Rectangle, alpha float64) {
	if img == nil || alpha <= 0 {
		return
	}
	sb := img.Bounds()
	if sb.Empty() {
		return
	}
	c.op.GeoM.Reset()
	c.op.GeoM.Translate(-float64(sb.Min.X), -float64(sb.Min.Y))
	c.op.GeoM.Scale(float64(r.Dx())/float64(sb.Dx()), float64(r.Dy())/float64(sb.Dy()))
	c.op.GeoM.Translate(float64(r.Min.X), float64(r.Min.Y))
	c.op.ColorScale.Reset()
	c.op.ColorScale.ScaleAlpha(float32(alpha))
	dst.DrawImage(img, &c.op)
}

var _ canopy.HardwareComposer = (*Composer)(nil)
