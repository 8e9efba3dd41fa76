package ebitenbackend

import (
	"image"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/phanxgames/canopy"
)

// bufferKey identifies interchangeable back buffers: same physical size and
// pixel format.
type bufferKey struct {
	w, h   int
	format canopy.PixelFormat
}

// BufferPool recycles screen back buffers. A surface reallocated for a
// format change, or a screen unplugged and plugged back at the same mode,
// gets its old images instead of new ones. Safe for concurrent use.
type BufferPool struct {
	// MaxIdle bounds the idle images kept per mode; extra ones are
	// deallocated. Zero means DefaultDepth.
	MaxIdle int

	mu   sync.Mutex
	idle map[bufferKey][]*ebiten.Image
}

// Get returns a cleared w×h image for format.
func (p *BufferPool) Get(w, h int, format canopy.PixelFormat) *ebiten.Image {
	key := bufferKey{w: w, h: h, format: format}
	p.mu.Lock()
	if stack := p.idle[key]; len(stack) > 0 {
		img := stack[len(stack)-1]
		p.idle[key] = stack[:len(stack)-1]
		p.mu.Unlock()
		img.Clear()
		return img
	}
	p.mu.Unlock()
	return ebiten.NewImageWithOptions(image.Rect(0, 0, w, h), &ebiten.NewImageOptions{Unmanaged: true})
}

// Put returns img, allocated for format, to the pool.
func (p *BufferPool) Put(img *ebiten.Image, format canopy.PixelFormat) {
	if img == nil {
		return
	}
	b := img.Bounds()
	key := bufferKey{w: b.Dx(), h: b.Dy(), format: format}
	limit := p.MaxIdle
	if limit <= 0 {
		limit = DefaultDepth
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle[key]) >= limit {
		img.Deallocate()
		return
	}
	if p.idle == nil {
		p.idle = make(map[bufferKey][]*ebiten.Image)
	}
	p.idle[key] = append(p.idle[key], img)
}

// Idle returns the number of pooled images.
func (p *BufferPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.idle {
		n += len(s)
	}
	return n
}
