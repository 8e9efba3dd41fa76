package canopy

import (
	"errors"
	"testing"
)

func TestNewSceneRoot(t *testing.T) {
	s := NewScene()
	if s.Root() == nil || s.Root().ID != RootNodeID {
		t.Fatal("scene should own a root node")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if !s.Root().IsPendingSync() {
		t.Error("root should wait for its first sync")
	}
}

func TestCreateNodeDuplicate(t *testing.T) {
	s := NewScene()
	if _, err := s.CreateNode(1, KindCanvas, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateNode(1, KindSurface, "b"); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("err = %v, want ErrDuplicateNode", err)
	}
}

func TestReleaseNodeDestroysOnlyDetached(t *testing.T) {
	s := NewScene()
	n, _ := s.CreateNode(1, KindCanvas, "n")
	s.Root().AddChild(n)
	if err := s.ReleaseNode(1); err != nil {
		t.Fatal(err)
	}
	if s.Node(1) == nil {
		t.Fatal("attached node destroyed")
	}
	s.Root().RemoveChild(n)
	if s.Node(1) != nil {
		t.Error("detached node without owners should be destroyed")
	}
	if s.Diagnostics().NodesDestroyed.Load() != 1 {
		t.Errorf("NodesDestroyed = %d, want 1", s.Diagnostics().NodesDestroyed.Load())
	}
	if err := s.ReleaseNode(1); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("err = %v, want ErrUnknownNode", err)
	}
}

func TestRetainKeepsNodeAlive(t *testing.T) {
	s := NewScene()
	s.CreateNode(1, KindCanvas, "n")
	if err := s.Retain(1); err != nil {
		t.Fatal(err)
	}
	s.ReleaseNode(1)
	if s.Node(1) == nil {
		t.Fatal("retained node destroyed")
	}
	s.ReleaseNode(1)
	if s.Node(1) != nil {
		t.Error("node should be destroyed after its last release")
	}
	if err := s.Retain(99); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Retain unknown = %v", err)
	}
}

func TestDestroyCascadesToUnownedChildren(t *testing.T) {
	s := NewScene()
	p, _ := s.CreateNode(1, KindCanvas, "p")
	owned, _ := s.CreateNode(2, KindCanvas, "owned")
	orphan, _ := s.CreateNode(3, KindCanvas, "orphan")
	p.AddChild(owned)
	p.AddChild(orphan)
	s.ReleaseNode(3)

	s.ReleaseNode(1)
	if s.Node(1) != nil || s.Node(3) != nil {
		t.Error("parent and its unowned child should be destroyed")
	}
	if s.Node(2) == nil || owned.Parent != nil {
		t.Error("owned child should survive detached")
	}
}

func TestDestroyQueuesDrawableAndSkipsSync(t *testing.T) {
	s := NewScene()
	n, _ := s.CreateNode(1, KindSurface, "s")
	n.drawable = s.Registry().OnGenerate(1, KindSurface)
	d := n.drawable
	s.ReleaseNode(1)

	if n.IsPendingSync() || !d.IsStale() {
		t.Error("destroyed node should leave the pending list with a stale drawable")
	}
	s.ReleaseQueue().Seal(1)
	if s.ReleaseQueue().DrainOnce(0) != 1 || !d.IsReleased() {
		t.Error("drawable should be released through the release queue")
	}
}

func TestDestroyDropsBuffer(t *testing.T) {
	s := NewScene()
	rel := newFakeReleaser()
	s.Ledger().SetReleaser(rel)
	n, _ := s.CreateNode(1, KindSurface, "s")
	n.UpdateSurface(func(p *SurfaceParams) { p.Buffer = 77 })
	s.Ledger().Acquire(1, 77)
	s.ReleaseNode(1)
	if rel.count(77) != 1 {
		t.Errorf("buffer released %d times, want 1", rel.count(77))
	}
}

func TestScreensInZOrder(t *testing.T) {
	s := NewScene()
	a, _ := s.CreateNode(1, KindScreen, "a")
	b, _ := s.CreateNode(2, KindScreen, "b")
	c, _ := s.CreateNode(3, KindCanvas, "c")
	s.Root().AddChild(a)
	s.Root().AddChild(b)
	s.Root().AddChild(c)
	a.SetZIndex(1)
	screens := s.Screens()
	if len(screens) != 2 || screens[0] != b || screens[1] != a {
		t.Errorf("Screens = %v, want [b a]", screens)
	}
}

func TestBufferOnlyFrame(t *testing.T) {
	s := NewScene()
	layer, _ := s.CreateNode(1, KindSurface, "layer")
	layer.UpdateSurface(func(p *SurfaceParams) { p.HardwareComposable = true })
	client, _ := s.CreateNode(2, KindSurface, "client")
	s.Pending().Drain(1)
	s.endFrame()

	layer.UpdateSurface(func(p *SurfaceParams) { p.Buffer = 5 })
	if !s.bufferOnlyFrame() {
		t.Error("a layer buffer update alone is a buffer-only frame")
	}
	s.endFrame()

	client.UpdateSurface(func(p *SurfaceParams) { p.Buffer = 6 })
	if s.bufferOnlyFrame() {
		t.Error("a client buffer update needs composition")
	}
	s.endFrame()

	layer.UpdateSurface(func(p *SurfaceParams) { p.Buffer = 7 })
	layer.SetAlpha(0.5)
	if s.bufferOnlyFrame() {
		t.Error("a property change needs composition")
	}
}

func TestEndFrameShrinksActiveSet(t *testing.T) {
	s := NewScene()
	s.CreateNode(1, KindCanvas, "n")
	if s.ActiveNodes() != 1 {
		t.Fatalf("ActiveNodes = %d, want 1", s.ActiveNodes())
	}
	s.RequestForceCommit(ForceFullRepaint)
	s.Pending().Drain(1)
	s.endFrame()
	if s.ActiveNodes() != 0 {
		t.Errorf("ActiveNodes = %d, want 0 after a clean frame", s.ActiveNodes())
	}
	if s.ForceCommitReasons() != 0 {
		t.Error("force reasons last one frame")
	}
}

func TestSceneRequestsVsync(t *testing.T) {
	s := NewScene()
	requests := 0
	s.onVsyncRequest = func() { requests++ }
	n, _ := s.CreateNode(1, KindCanvas, "n")
	if requests == 0 {
		t.Fatal("creating a node should request a vsync")
	}
	s.Pending().Drain(1)
	s.endFrame()
	requests = 0
	n.SetAlpha(0.5)
	if requests != 1 {
		t.Errorf("requests = %d, want 1", requests)
	}
}
