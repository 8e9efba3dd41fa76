package canopy

import (
	"errors"
	"image"
	"slices"
	"testing"
)

// --- Constructor defaults ---

func TestNewNodeDefaults(t *testing.T) {
	for _, kind := range []NodeKind{KindCanvas, KindSurface, KindEffect, KindScreen, KindLogicalDisplay} {
		n := newNode(3, kind, "n")
		if n.Alpha() != 1 || !n.Visible() {
			t.Errorf("%s: alpha %v visible %v", kind, n.Alpha(), n.Visible())
		}
		if n.DirtyStatus() != Dirty || n.dirtySlots != SlotAll {
			t.Errorf("%s: new node should be dirty in every slot", kind)
		}
		if n.Props().Kind != kind || n.Props().ID != 3 {
			t.Errorf("%s: props = %+v", kind, n.Props())
		}
	}
}

// --- Tree manipulation ---

func childIDs(n *Node) []NodeID {
	var out []NodeID
	for _, c := range n.Children() {
		out = append(out, c.ID)
	}
	return out
}

func TestAddChildAtClampsIndex(t *testing.T) {
	s := NewScene()
	p, _ := s.CreateNode(1, KindCanvas, "p")
	a, _ := s.CreateNode(2, KindCanvas, "a")
	b, _ := s.CreateNode(3, KindCanvas, "b")
	c, _ := s.CreateNode(4, KindCanvas, "c")
	p.AddChild(a)
	p.AddChildAt(b, -5)
	p.AddChildAt(c, 99)
	if got := childIDs(p); !slices.Equal(got, []NodeID{3, 2, 4}) {
		t.Errorf("children = %v, want [3 2 4]", got)
	}
	p.AddChildAt(c, 0)
	if got := childIDs(p); !slices.Equal(got, []NodeID{4, 3, 2}) {
		t.Errorf("after move children = %v, want [4 3 2]", got)
	}
}

func TestAddChildReparents(t *testing.T) {
	s := NewScene()
	p1, _ := s.CreateNode(1, KindCanvas, "p1")
	p2, _ := s.CreateNode(2, KindCanvas, "p2")
	c, _ := s.CreateNode(3, KindCanvas, "c")
	p1.AddChild(c)
	p2.AddChild(c)
	if c.Parent != p2 || p1.NumChildren() != 0 || p2.NumChildren() != 1 {
		t.Error("child should move to the new parent")
	}
}

func TestAddChildCyclePanics(t *testing.T) {
	s := NewScene()
	a, _ := s.CreateNode(1, KindCanvas, "a")
	b, _ := s.CreateNode(2, KindCanvas, "b")
	a.AddChild(b)
	defer func() {
		if recover() == nil {
			t.Error("expected a panic")
		}
	}()
	b.AddChild(a)
}

func TestRemoveChildWrongParentPanics(t *testing.T) {
	s := NewScene()
	a, _ := s.CreateNode(1, KindCanvas, "a")
	b, _ := s.CreateNode(2, KindCanvas, "b")
	defer func() {
		if recover() == nil {
			t.Error("expected a panic")
		}
	}()
	a.RemoveChild(b)
}

func TestRemoveFromParentNoParent(t *testing.T) {
	n := newNode(1, KindCanvas, "n")
	n.RemoveFromParent()
	if n.Parent != nil {
		t.Error("Parent should stay nil")
	}
}

func TestSortedChildrenByZIndex(t *testing.T) {
	s := NewScene()
	p, _ := s.CreateNode(1, KindCanvas, "p")
	for id := NodeID(2); id <= 5; id++ {
		c, _ := s.CreateNode(id, KindCanvas, "c")
		p.AddChild(c)
	}
	s.Node(2).SetZIndex(5)
	s.Node(4).SetZIndex(-1)
	var got []NodeID
	for _, c := range p.sortedChildList() {
		got = append(got, c.ID)
	}
	if !slices.Equal(got, []NodeID{4, 3, 5, 2}) {
		t.Errorf("sorted = %v, want [4 3 5 2]", got)
	}
	if !slices.Equal(childIDs(p), []NodeID{2, 3, 4, 5}) {
		t.Error("sorting must not reorder the child list")
	}
}

// --- Properties and dirty tracking ---

func TestSetAlphaClamps(t *testing.T) {
	n := newNode(1, KindCanvas, "n")
	n.SetAlpha(2)
	if n.Alpha() != 1 {
		t.Errorf("Alpha = %v, want 1", n.Alpha())
	}
	n.SetAlpha(-1)
	if n.Alpha() != 0 {
		t.Errorf("Alpha = %v, want 0", n.Alpha())
	}
}

func TestMarkDirtyPropagatesSubtreeFlag(t *testing.T) {
	s := NewScene()
	p, _ := s.CreateNode(1, KindCanvas, "p")
	c, _ := s.CreateNode(2, KindCanvas, "c")
	p.AddChild(c)
	s.Pending().Drain(1)
	p.subtreeDirty = false

	c.SetBounds(image.Rect(0, 0, 5, 5))
	if !p.subtreeDirty {
		t.Error("parent should see a dirty subtree")
	}
	if !c.IsPendingSync() || s.ActiveNodes() == 0 {
		t.Error("dirty node should be pending and active")
	}
}

func TestUnchangedSettersStayClean(t *testing.T) {
	s := NewScene()
	n, _ := s.CreateNode(1, KindCanvas, "n")
	s.Pending().Drain(1)
	n.SetBounds(image.Rectangle{})
	n.SetAlpha(1)
	n.SetVisible(true)
	n.SetZIndex(0)
	if n.DirtyStatus() != Clean || n.IsPendingSync() {
		t.Error("setting a property to its current value must not dirty the node")
	}
}

func TestUpdateSurfaceSlots(t *testing.T) {
	s := NewScene()
	n, _ := s.CreateNode(1, KindSurface, "s")
	n.drawable = s.Registry().OnGenerate(n.ID, n.Kind)
	s.Pending().Drain(1)
	s.endFrame()

	if err := n.UpdateSurface(func(p *SurfaceParams) { p.Buffer = 9 }); err != nil {
		t.Fatal(err)
	}
	if n.dirtySlots != SlotBuffer {
		t.Errorf("buffer change slots = %b, want SlotBuffer", n.dirtySlots)
	}
	if err := n.UpdateSurface(func(p *SurfaceParams) { p.HardwareComposable = true }); err != nil {
		t.Fatal(err)
	}
	if n.dirtySlots&SlotContent == 0 {
		t.Error("a layer flag change should dirty the content slot")
	}
}

func TestUpdateWrongKind(t *testing.T) {
	n := newNode(1, KindCanvas, "c")
	checks := []error{
		n.UpdateSurface(func(*SurfaceParams) {}),
		n.UpdateScreen(func(*ScreenParams) {}),
		n.UpdateEffect(func(*EffectParams) {}),
		n.UpdateLogical(func(*LogicalDisplayParams) {}),
	}
	for i, err := range checks {
		if !errors.Is(err, ErrWrongKind) {
			t.Errorf("check %d: err = %v, want ErrWrongKind", i, err)
		}
	}
	if err := n.UpdateCanvas(func(*CanvasParams) {}); err != nil {
		t.Errorf("UpdateCanvas on a canvas: %v", err)
	}
}

// --- Staging ---

func TestRecomputeStagingCanvas(t *testing.T) {
	n := newNode(1, KindCanvas, "c")
	n.SetBounds(image.Rect(5, 5, 25, 25))
	n.absRect = image.Rect(15, 15, 35, 35)
	n.absAlpha = 0.5
	n.SetClipToBounds(true)
	n.UpdateCanvas(func(c *CanvasParams) { c.Background = ColorBlack })
	n.SetContent([]DrawOp{{Kind: OpFill, Rect: image.Rect(0, 0, 2, 2), Color: Color{1, 1, 1, 1}}})

	p, cmds := RecomputeStaging(n)
	if p.Canvas.OpCount != 1 || !p.ClipToBounds || p.AbsRect != n.absRect {
		t.Errorf("staging = %+v", p)
	}
	ops := cmds.Ops()
	kinds := make([]OpKind, len(ops))
	for i, op := range ops {
		kinds[i] = op.Kind
	}
	want := []OpKind{OpSave, OpClip, OpFill, OpFill, OpRestore}
	if !slices.Equal(kinds, want) {
		t.Fatalf("ops = %v, want %v", kinds, want)
	}
	if ops[2].Color.A != 0.5 {
		t.Errorf("background alpha = %v, want 0.5", ops[2].Color.A)
	}
	if ops[3].Rect != image.Rect(15, 15, 17, 17) {
		t.Errorf("content rect = %v, want translated to (15,15)", ops[3].Rect)
	}
	if cmds.Span(MarkerBgBegin, MarkerContent) != 3 || cmds.Span(MarkerFgBegin, MarkerEnd) != 1 {
		t.Error("markers should split background and foreground")
	}
	if n.Staging() != nil {
		t.Error("RecomputeStaging must not store the record")
	}
}

func TestRecomputeStagingSurface(t *testing.T) {
	n := newNode(1, KindSurface, "s")
	n.absRect = image.Rect(0, 0, 10, 10)
	n.UpdateSurface(func(p *SurfaceParams) { p.Buffer = 42 })
	_, cmds := RecomputeStaging(n)
	if ops := cmds.Ops(); len(ops) != 1 || ops[0].Kind != OpDrawBuffer || ops[0].Buffer != 42 {
		t.Errorf("buffer surface ops = %+v", ops)
	}

	n.UpdateSurface(func(p *SurfaceParams) { p.HardwareComposable = true })
	_, cmds = RecomputeStaging(n)
	if ops := cmds.Ops(); len(ops) != 1 || ops[0].Kind != OpClearRect {
		t.Errorf("hardware layer ops = %+v, want a cleared hole", ops)
	}
}

func TestRecomputeStagingScreenCountsDisplays(t *testing.T) {
	s := NewScene()
	scr, _ := s.CreateNode(1, KindScreen, "scr")
	d1, _ := s.CreateNode(2, KindLogicalDisplay, "d1")
	d2, _ := s.CreateNode(3, KindLogicalDisplay, "d2")
	other, _ := s.CreateNode(4, KindCanvas, "c")
	scr.AddChild(d1)
	scr.AddChild(d2)
	scr.AddChild(other)
	scr.SetBounds(image.Rect(0, 0, 640, 480))

	p, _ := RecomputeStaging(scr)
	if p.Screen.ChildDisplayCount != 2 {
		t.Errorf("ChildDisplayCount = %d, want 2", p.Screen.ChildDisplayCount)
	}
	if p.Screen.Width != 640 || p.Screen.Height != 480 {
		t.Errorf("size = %dx%d, want the bounds", p.Screen.Width, p.Screen.Height)
	}
}
