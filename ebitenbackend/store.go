package ebitenbackend

import (
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/phanxgames/canopy"
)

// BufferStore maps buffer handles to images. Producer buffers and surface
// back buffers share its handle space so the composer can resolve any layer.
// It is the compositor's BufferReleaser.
type BufferStore struct {
	mu       sync.Mutex
	next     canopy.BufferHandle
	images   map[canopy.BufferHandle]*ebiten.Image
	released map[canopy.BufferHandle]canopy.Fence

	// OnRelease, when set, is called after a producer buffer is handed back.
	OnRelease func(h canopy.BufferHandle, fence canopy.Fence)
}

// NewBufferStore returns an empty store.
func NewBufferStore() *BufferStore {
	return &BufferStore{
		images:   make(map[canopy.BufferHandle]*ebiten.Image),
		released: make(map[canopy.BufferHandle]canopy.Fence),
	}
}

// Put registers img and returns its new handle.
func (s *BufferStore) Put(img *ebiten.Image) canopy.BufferHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.images[s.next] = img
	return s.next
}

// Replace points h at img. It reports false for an unknown handle.
func (s *BufferStore) Replace(h canopy.BufferHandle, img *ebiten.Image) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[h]; !ok {
		return false
	}
	s.images[h] = img
	return true
}

// Image returns the image of h, or nil.
func (s *BufferStore) Image(h canopy.BufferHandle) *ebiten.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[h]
}

// Forget drops h without releasing it.
func (s *BufferStore) Forget(h canopy.BufferHandle) {
	s.mu.Lock()
	delete(s.images, h)
	s.mu.Unlock()
}

// ReleaseBuffer records the release of a producer buffer. The image stays
// readable so a producer may present it again.
func (s *BufferStore) ReleaseBuffer(h canopy.BufferHandle, fence canopy.Fence) {
	s.mu.Lock()
	s.released[h] = fence
	cb := s.OnRelease
	s.mu.Unlock()
	if cb != nil {
		cb(h, fence)
	}
}

// Released reports whether h has been released and with which fence.
func (s *BufferStore) Released(h canopy.BufferHandle) (canopy.Fence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.released[h]
	return f, ok
}

// Reacquire clears the released mark of h before it is presented again.
func (s *BufferStore) Reacquire(h canopy.BufferHandle) {
	s.mu.Lock()
	delete(s.released, h)
	s.mu.Unlock()
}

var _ canopy.BufferReleaser = (*BufferStore)(nil)
