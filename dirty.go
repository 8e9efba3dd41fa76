package canopy

import "image"

// DirtyManager accumulates the damage of one screen and remembers the damage
// of recently presented frames, so a back buffer of a given age can be
// brought up to date by redrawing only what changed since it was last shown.
type DirtyManager struct {
	surface image.Rectangle
	current Region
	history []Region // ring of presented damage, newest at head-1
	head    int
	filled  int
	// rewind forces the next active frame to redraw the whole surface.
	rewind bool
}

// NewDirtyManager returns a manager for a w x h surface remembering depth
// presented frames.
func NewDirtyManager(w, h, depth int) *DirtyManager {
	return &DirtyManager{
		surface: image.Rect(0, 0, w, h),
		history: make([]Region, max(depth, 1)),
	}
}

// Surface returns the surface rectangle.
func (m *DirtyManager) Surface() image.Rectangle { return m.surface }

// SetSurfaceSize changes the surface size. History is discarded and the
// whole surface becomes dirty.
func (m *DirtyManager) SetSurfaceSize(w, h int) {
	r := image.Rect(0, 0, w, h)
	if r == m.surface {
		return
	}
	m.surface = r
	m.clearHistory()
	m.ResetDirtyAsSurfaceSize()
}

// Add merges r, clipped to the surface, into the current damage.
func (m *DirtyManager) Add(r image.Rectangle) {
	m.current.Add(r.Intersect(m.surface))
}

// Merge merges every rectangle of reg into the current damage.
func (m *DirtyManager) Merge(reg Region) {
	for _, r := range reg.Rects {
		m.Add(r)
	}
}

// Current returns the damage accumulated since the last presented frame.
func (m *DirtyManager) Current() Region { return m.current }

// IsCurrentDirty reports whether any damage is pending.
func (m *DirtyManager) IsCurrentDirty() bool { return !m.current.IsEmpty() }

// ResetDirtyAsSurfaceSize makes the whole surface dirty.
func (m *DirtyManager) ResetDirtyAsSurfaceSize() {
	m.current.Reset()
	m.current.Add(m.surface)
}

// ArmRewind makes the next active frame a full-surface redraw.
func (m *DirtyManager) ArmRewind() { m.rewind = true }

// Rewinding reports whether a rewind is armed.
func (m *DirtyManager) Rewinding() bool { return m.rewind }

// ApplyRewind turns an armed rewind into full-surface damage.
func (m *DirtyManager) ApplyRewind() {
	if !m.rewind {
		return
	}
	m.rewind = false
	m.ResetDirtyAsSurfaceSize()
}

// MergeHistory returns the damage a back buffer of the given age needs:
// the current damage plus that of the age-1 frames presented since the
// buffer was last shown. An age of zero, or older than the history, means
// the buffer content is unknown and the whole surface is returned.
func (m *DirtyManager) MergeHistory(bufferAge int) Region {
	if bufferAge <= 0 || bufferAge-1 > m.filled {
		return RegionOf(m.surface)
	}
	out := m.current.Clone()
	for i := 1; i < bufferAge; i++ {
		idx := (m.head - i + len(m.history)) % len(m.history)
		out.Union(m.history[idx])
	}
	return out
}

// Commit records the current damage as presented and clears it.
func (m *DirtyManager) Commit() {
	m.history[m.head] = m.current.Clone()
	m.head = (m.head + 1) % len(m.history)
	m.filled = min(m.filled+1, len(m.history))
	m.current.Reset()
}

// History returns the presented damage, newest first.
func (m *DirtyManager) History() []Region {
	out := make([]Region, 0, m.filled)
	for i := 1; i <= m.filled; i++ {
		out = append(out, m.history[(m.head-i+len(m.history))%len(m.history)])
	}
	return out
}

func (m *DirtyManager) clearHistory() {
	for i := range m.history {
		m.history[i] = Region{}
	}
	m.head = 0
	m.filled = 0
}
