package canopy

import (
	"image"
	"testing"
)

func TestDirtyManagerAddClipsToSurface(t *testing.T) {
	m := NewDirtyManager(100, 50, 3)
	m.Add(image.Rect(90, 40, 120, 60))
	if got := m.Current().Bounds(); got != image.Rect(90, 40, 100, 50) {
		t.Errorf("Current = %v, want clipped to surface", got)
	}
	m.Add(image.Rect(200, 200, 210, 210))
	if m.Current().Len() != 1 {
		t.Error("damage outside the surface should be dropped")
	}
}

func TestDirtyManagerMergeHistory(t *testing.T) {
	m := NewDirtyManager(100, 50, 3)
	full := image.Rect(0, 0, 100, 50)

	m.Add(image.Rect(0, 0, 10, 10))
	m.Commit()
	m.Add(image.Rect(20, 0, 30, 10))
	m.Commit()
	m.Add(image.Rect(40, 0, 50, 10))

	tests := []struct {
		age  int
		want image.Rectangle
		n    int
	}{
		{0, full, 1},
		{1, image.Rect(40, 0, 50, 10), 1},
		{2, image.Rect(20, 0, 50, 10), 2},
		{3, image.Rect(0, 0, 50, 10), 3},
		{4, full, 1},
	}
	for _, tt := range tests {
		got := m.MergeHistory(tt.age)
		if got.Bounds() != tt.want || got.Len() != tt.n {
			t.Errorf("MergeHistory(%d) = %v, want bounds %v in %d rects", tt.age, got.Rects, tt.want, tt.n)
		}
	}
}

func TestDirtyManagerHistoryRing(t *testing.T) {
	m := NewDirtyManager(100, 50, 2)
	for i := range 3 {
		m.Add(image.Rect(i*10, 0, i*10+5, 5))
		m.Commit()
	}
	h := m.History()
	if len(h) != 2 {
		t.Fatalf("History len = %d, want 2", len(h))
	}
	if h[0].Bounds() != image.Rect(20, 0, 25, 5) || h[1].Bounds() != image.Rect(10, 0, 15, 5) {
		t.Errorf("History = %v, want newest first", h)
	}
	if m.IsCurrentDirty() {
		t.Error("Commit should clear the current damage")
	}
}

func TestDirtyManagerResize(t *testing.T) {
	m := NewDirtyManager(100, 50, 2)
	m.Add(image.Rect(0, 0, 5, 5))
	m.Commit()
	m.SetSurfaceSize(200, 100)
	if len(m.History()) != 0 {
		t.Error("resize should discard history")
	}
	if m.Current().Bounds() != image.Rect(0, 0, 200, 100) {
		t.Errorf("Current = %v, want the new surface", m.Current().Bounds())
	}
}

func TestDirtyManagerRewind(t *testing.T) {
	m := NewDirtyManager(100, 50, 2)
	m.ApplyRewind()
	if m.IsCurrentDirty() {
		t.Error("ApplyRewind without ArmRewind should do nothing")
	}
	m.ArmRewind()
	if !m.Rewinding() {
		t.Fatal("Rewinding should be true once armed")
	}
	m.ApplyRewind()
	if m.Rewinding() || m.Current().Bounds() != m.Surface() {
		t.Error("rewind should disarm and dirty the whole surface")
	}
}
