package canopy

import "image"

// screenCache is what the previous traversal of a screen left behind, for
// subtree reuse and the direct-composition path.
type screenCache struct {
	gen    uint64
	items  []DrawItem
	layers []LayerEntry
}

type damageEntry struct {
	at    int // index of the node's PhaseBefore item
	rects [2]image.Rectangle
}

// walker flattens one screen's subtree into a ScreenFrame.
type walker struct {
	s       *Scene
	gen     uint64
	screen  *Node
	prev    *screenCache
	sf      *ScreenFrame
	damage  []damageEntry
	filters []int // item indices of changed filter nodes
}

// collectFrame walks every screen in z-order and returns one ScreenFrame per
// screen. Node absolute rects and alphas are brought up to date; nodes whose
// absolute geometry changed are marked dirty so the sync drain restages them.
func (s *Scene) collectFrame(gen uint64) []ScreenFrame {
	if s.frames == nil {
		s.frames = make(map[NodeID]*screenCache)
	}
	screens := s.Screens()
	out := make([]ScreenFrame, 0, len(screens))
	seen := make(map[NodeID]struct{}, len(screens))
	for _, scr := range screens {
		seen[scr.ID] = struct{}{}
		out = append(out, s.walkScreen(scr, gen))
	}
	for id := range s.frames {
		if _, ok := seen[id]; !ok {
			delete(s.frames, id)
		}
	}
	return out
}

func (s *Scene) walkScreen(scr *Node, gen uint64) ScreenFrame {
	prev := s.frames[scr.ID]
	if prev == nil {
		prev = &screenCache{}
	}
	w := &walker{
		s:      s,
		gen:    gen,
		screen: scr,
		prev:   prev,
		sf:     &ScreenFrame{Screen: scr.props.Screen.Screen, Node: scr.ID},
	}
	size := image.Rect(0, 0, scr.bounds.Dx(), scr.bounds.Dy())
	if sp := scr.props.Screen; sp.Width > 0 || sp.Height > 0 {
		size = image.Rect(0, 0, sp.Width, sp.Height)
	}
	w.visitScreen(scr, size)
	w.resolveDamage()

	if reg := s.screenDamage[scr.ID]; reg != nil {
		w.sf.Dirty.Union(reg.Intersect(size))
		delete(s.screenDamage, scr.ID)
	}
	s.frames[scr.ID] = &screenCache{gen: gen, items: w.sf.DrawItems, layers: w.sf.Layers}
	return *w.sf
}

// visitScreen places the screen at the origin of its own output.
func (w *walker) visitScreen(scr *Node, size image.Rectangle) {
	w.ensureDrawable(scr)
	if scr.absRect != size {
		scr.absRect = size
		scr.markDirty(SlotGeometry)
	}
	scr.absAlpha = 1
	if scr.dirty == Dirty && scr.dirtySlots&(SlotScreen|SlotGeometry) != 0 {
		w.damage = append(w.damage, damageEntry{at: 0, rects: [2]image.Rectangle{size}})
	}
	scr.drawStart = 0
	scr.drawGen = w.gen
	w.sf.DrawItems = append(w.sf.DrawItems, DrawItem{Node: scr.ID, Phase: PhaseBefore})
	for _, c := range scr.sortedChildList() {
		w.visit(c, image.Point{}, 1, size)
	}
	if scr.clipToBounds {
		w.sf.DrawItems = append(w.sf.DrawItems, DrawItem{Node: scr.ID, Phase: PhaseAfter})
	}
	scr.drawCount = len(w.sf.DrawItems)
	scr.subtreeDirty = false
	scr.newlyAttached = false
}

func (w *walker) visit(n *Node, origin image.Point, alpha float64, clip image.Rectangle) {
	if !n.visible {
		damageSubtree(n, w.screen)
		n.drawCount = 0
		n.subtreeDirty = false
		n.newlyAttached = false
		return
	}

	abs := n.bounds.Add(origin)
	a := alpha * n.alpha
	if abs != n.absRect {
		n.absRect = abs
		n.markDirty(SlotGeometry)
	}
	if a != n.absAlpha {
		n.absAlpha = a
		n.markDirty(SlotAlpha)
	}
	vis := abs.Intersect(clip)

	if w.canReuse(n, vis) {
		w.reuse(n)
		return
	}

	w.ensureDrawable(n)
	at := len(w.sf.DrawItems)
	// Child-list changes damage through the children themselves, and a new
	// buffer on a hardware layer never touches the client target.
	slots := n.dirtySlots &^ SlotChildren
	if n.isHardwareLayer() {
		slots &^= SlotBuffer
	}
	changed := n.dirty == Dirty && slots != 0
	if changed || n.drawnRect != vis || n.newlyAttached {
		w.damage = append(w.damage, damageEntry{at: at, rects: [2]image.Rectangle{n.drawnRect, vis}})
	}
	n.drawnRect = vis
	if n.hasVisibleFilter() && (n.dirty == Dirty || n.subtreeDirty || !n.props.Effect.FilterCacheValid) {
		w.filters = append(w.filters, at)
	}

	n.drawStart = at
	n.drawGen = w.gen
	w.sf.DrawItems = append(w.sf.DrawItems, DrawItem{Node: n.ID, Phase: PhaseBefore})
	w.collect(n, changed)

	childClip := clip
	if n.clipToBounds {
		childClip = clip.Intersect(abs)
	}
	for _, c := range n.sortedChildList() {
		w.visit(c, abs.Min, a, childClip)
	}
	if n.clipToBounds {
		w.sf.DrawItems = append(w.sf.DrawItems, DrawItem{Node: n.ID, Phase: PhaseAfter})
	}
	n.drawCount = len(w.sf.DrawItems) - at
	n.subtreeDirty = false
	n.newlyAttached = false
}

// canReuse reports whether n's subtree can be copied from the previous
// frame: nothing in it changed, it applies no visible filter, it is not
// newly attached and it was drawn on this screen last frame.
func (w *walker) canReuse(n *Node, vis image.Rectangle) bool {
	return n.dirty == Clean && !n.subtreeDirty && !n.newlyAttached && !n.hasVisibleFilter() &&
		n.drawGen != 0 && n.drawGen == w.prev.gen && n.drawnRect == vis &&
		n.drawCount > 0 && n.drawStart+n.drawCount <= len(w.prev.items) &&
		w.prev.items[n.drawStart].Node == n.ID
}

// reuse copies n's items from the previous frame and refreshes the
// bookkeeping of the nodes they name.
func (w *walker) reuse(n *Node) {
	start := len(w.sf.DrawItems)
	shift := start - n.drawStart
	w.sf.DrawItems = append(w.sf.DrawItems, w.prev.items[n.drawStart:n.drawStart+n.drawCount]...)
	w.reuseSubtree(n, shift)
}

func (w *walker) reuseSubtree(n *Node, shift int) {
	if !n.visible || n.drawCount == 0 {
		return
	}
	n.drawStart += shift
	n.drawGen = w.gen
	w.collect(n, false)
	for _, c := range n.children {
		w.reuseSubtree(c, shift)
	}
}

// collect records the hardware layer and pinned buffer of a surface node.
func (w *walker) collect(n *Node, changed bool) {
	sp := n.props.Surface
	if sp == nil {
		return
	}
	if sp.Buffer != 0 {
		w.sf.Buffers = append(w.sf.Buffers, sp.Buffer)
	}
	if sp.HardwareComposable {
		w.sf.Layers = append(w.sf.Layers, LayerEntry{Screen: w.sf.Screen, Node: n.ID, Drawable: n.drawable})
		if sp.IsCursor && (changed || n.dirty == Dirty) {
			w.sf.HardCursorNeedCommit = true
		}
	}
}

// ensureDrawable generates the node's drawable on its first visit, or after
// its previous drawable was released, and schedules a full restage.
func (w *walker) ensureDrawable(n *Node) {
	if n.drawable != nil && !n.drawable.IsReleased() {
		return
	}
	n.drawable = w.s.registry.OnGenerate(n.ID, n.Kind)
	n.markDirty(SlotAll)
}

// resolveDamage turns the recorded damage into the screen's dirty region.
// Items are walked top-down; damage lying under an opaque node drawn above
// it is dropped, and so is a filter change that is completely covered.
func (w *walker) resolveDamage() {
	items := w.sf.DrawItems
	var opaque Region
	di := len(w.damage) - 1
	fi := len(w.filters) - 1
	for i := len(items) - 1; i >= 0; i-- {
		for ; di >= 0 && w.damage[di].at >= i; di-- {
			for _, r := range w.damage[di].rects {
				if r.Empty() {
					continue
				}
				w.sf.Dirty.Union(opaque.Subtract(r))
			}
		}
		it := items[i]
		n := w.s.nodes[it.Node]
		if n == nil || it.Phase != PhaseBefore {
			continue
		}
		for ; fi >= 0 && w.filters[fi] >= i; fi-- {
			if !opaque.Covers(n.drawnRect) {
				w.sf.FilterCacheInvalid = true
			}
		}
		if n.opaque && n.absAlpha >= 1 && !n.isHardwareLayer() && !n.hasVisibleFilter() {
			opaque.Add(n.drawnRect)
		}
	}
	for ; di >= 0; di-- {
		for _, r := range w.damage[di].rects {
			w.sf.Dirty.Add(r)
		}
	}
}

// directFrames rebuilds the ScreenFrames of the previous traversal without
// walking the tree, for frames whose only changes are hardware-layer
// buffers. Layer drawables are committed by the sync drain as usual.
func (s *Scene) directFrames() []ScreenFrame {
	screens := s.Screens()
	out := make([]ScreenFrame, 0, len(screens))
	for _, scr := range screens {
		c := s.frames[scr.ID]
		if c == nil {
			continue
		}
		sf := ScreenFrame{Screen: scr.props.Screen.Screen, Node: scr.ID, DrawItems: c.items, Layers: c.layers}
		for _, e := range c.layers {
			n := s.nodes[e.Node]
			if n == nil || n.props.Surface == nil {
				continue
			}
			if h := n.props.Surface.Buffer; h != 0 {
				sf.Buffers = append(sf.Buffers, h)
			}
			if _, ok := s.bufferUpdates[e.Node]; ok && n.props.Surface.IsCursor {
				sf.HardCursorNeedCommit = true
			}
		}
		out = append(out, sf)
	}
	return out
}

// hasDirectFrames reports whether every screen has a previous traversal to
// re-submit.
func (s *Scene) hasDirectFrames() bool {
	screens := s.Screens()
	if len(screens) == 0 {
		return false
	}
	for _, scr := range screens {
		if s.frames[scr.ID] == nil {
			return false
		}
	}
	return true
}
