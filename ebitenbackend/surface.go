package ebitenbackend

import (
	"fmt"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/phanxgames/canopy"
)

// DefaultDepth is the number of back buffers of a surface.
const DefaultDepth = 3

type backBuffer struct {
	img       *ebiten.Image
	format    canopy.PixelFormat
	handle    canopy.BufferHandle
	presented uint64 // flush count when last presented; 0 if never
}

// Surface is a ring of back buffers for one screen. It implements
// canopy.FrameSurface.
type Surface struct {
	store *BufferStore
	depth int

	mu        sync.Mutex
	pool      *BufferPool
	w, h      int
	format    canopy.PixelFormat
	bufs      []*backBuffer
	next      int
	flushes   uint64
	front     *backBuffer
	damage    canopy.Region
	acquired  bool
	allocated int
}

// NewSurface returns a surface of w×h pixels with depth back buffers,
// registering its buffers in store.
func NewSurface(store *BufferStore, w, h, depth int) *Surface {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Surface{store: store, depth: depth, w: w, h: h, pool: &BufferPool{MaxIdle: depth}}
}

// Size returns the surface size in pixels.
func (s *Surface) Size() (w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w, s.h
}

// Format returns the pixel format of the current buffers.
func (s *Surface) Format() canopy.PixelFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Allocated returns how many back buffers have been created, including
// reallocations.
func (s *Surface) Allocated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocated
}

// RequestFrame implements canopy.FrameSurface. A size change or realloc
// drops every buffer; the next frames then report age 0.
func (s *Surface) RequestFrame(w, h int, format canopy.PixelFormat, realloc bool) (canopy.Frame, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("ebitenbackend: request frame %dx%d: %w", w, h, canopy.ErrNoFrame)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		return nil, fmt.Errorf("ebitenbackend: previous frame not flushed: %w", canopy.ErrNoFrame)
	}
	if realloc || w != s.w || h != s.h || format != s.format {
		s.dropLocked()
		s.w, s.h, s.format = w, h, format
	}
	if len(s.bufs) < s.depth {
		s.bufs = make([]*backBuffer, s.depth)
	}
	b := s.bufs[s.next]
	if b == nil {
		b = &backBuffer{img: s.pool.Get(w, h, format), format: format}
		b.handle = s.store.Put(b.img)
		s.bufs[s.next] = b
		s.allocated++
	}
	age := 0
	if b.presented != 0 {
		age = int(s.flushes - b.presented + 1)
	}
	s.acquired = true
	return &frame{s: s, b: b, age: age, canvas: NewCanvas(b.img, s.store)}, nil
}

func (s *Surface) dropLocked() {
	for _, b := range s.bufs {
		if b == nil {
			continue
		}
		s.store.Forget(b.handle)
		s.pool.Put(b.img, b.format)
	}
	s.bufs = s.bufs[:0]
	s.next = 0
	s.front = nil
}

// Close returns the surface's buffers to its pool. The surface must not be
// used afterwards.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
	s.acquired = false
}

// Presented returns the most recently flushed buffer, or nil.
func (s *Surface) Presented() *ebiten.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.front == nil {
		return nil
	}
	return s.front.img
}

// LastDamage returns the damage of the last flush in top-left-origin
// coordinates.
func (s *Surface) LastDamage() canopy.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.damage.Clone()
}

func (s *Surface) flush(b *backBuffer, damage canopy.Region) canopy.BufferHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired = false
	s.flushes++
	b.presented = s.flushes
	s.front = b
	s.damage = damage.Flipped(s.h)
	if len(s.bufs) > 0 {
		s.next = (s.next + 1) % len(s.bufs)
	}
	return b.handle
}

type frame struct {
	s      *Surface
	b      *backBuffer
	age    int
	canvas *Canvas
	done   bool
}

func (f *frame) Canvas() canopy.Canvas { return f.canvas }

func (f *frame) BufferAge() int { return f.age }

func (f *frame) Flush(damage canopy.Region) (canopy.BufferHandle, error) {
	if f.done {
		return 0, fmt.Errorf("ebitenbackend: frame flushed twice")
	}
	f.done = true
	return f.s.flush(f.b, damage), nil
}

// Factory creates ebiten surfaces for the render thread. Its surfaces share
// one BufferPool, and a screen that gets a new surface hands its old buffers
// to it.
type Factory struct {
	Store *BufferStore
	Depth int
	Pool  *BufferPool

	mu       sync.Mutex
	surfaces map[canopy.ScreenID]*Surface
}

// NewFactory returns a factory registering buffers in store.
func NewFactory(store *BufferStore) *Factory {
	return &Factory{Store: store, Depth: DefaultDepth}
}

// CreateSurface implements canopy.SurfaceFactory.
func (f *Factory) CreateSurface(screen canopy.ScreenID, w, h int) (canopy.FrameSurface, error) {
	if f.Store == nil {
		return nil, fmt.Errorf("ebitenbackend: factory has no buffer store")
	}
	s := NewSurface(f.Store, w, h, f.Depth)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Pool == nil {
		f.Pool = &BufferPool{MaxIdle: s.depth}
	}
	s.pool = f.Pool
	if f.surfaces == nil {
		f.surfaces = make(map[canopy.ScreenID]*Surface)
	}
	if old := f.surfaces[screen]; old != nil {
		old.Close()
	}
	f.surfaces[screen] = s
	return s, nil
}

// Surface returns the last surface created for screen, or nil.
func (f *Factory) Surface(screen canopy.ScreenID) *Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.surfaces[screen]
}

var (
	_ canopy.FrameSurface   = (*Surface)(nil)
	_ canopy.SurfaceFactory = (*Factory)(nil)
)
