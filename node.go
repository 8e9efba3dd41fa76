package canopy

import (
	"fmt"
	"image"
	"slices"
)

// Node is the update-thread element of the scene tree. A single flat struct
// serves every node kind; kind-specific properties live in the variant
// records of props.
//
// Nodes are owned by a Scene and must only be touched from the goroutine
// running the compositor main loop.
type Node struct {
	// Identity
	ID   NodeID
	Name string
	Kind NodeKind

	// Hierarchy
	Parent   *Node
	children []*Node

	// Properties
	zIndex       int
	bounds       image.Rectangle
	alpha        float64
	visible      bool
	clipToBounds bool
	opaque       bool
	content      []DrawOp
	props        *RenderParams

	// Computed during traversal
	absRect  image.Rectangle
	absAlpha float64
	// drawnRect is the screen-space area the node covered when last drawn;
	// it becomes damage when the node moves, hides or leaves the tree.
	drawnRect image.Rectangle
	drawGen   uint64
	drawStart int
	drawCount int

	// Sync state
	dirty              DirtyStatus
	dirtySlots         ParamSlot
	subtreeDirty       bool
	newlyAttached      bool
	addedToPendingSync bool
	staging            *RenderParams
	stagingCmds        *DrawCmdList
	spareCmds          *DrawCmdList
	drawable           *Drawable

	// Lifecycle
	refCount  int
	destroyed bool
	scene     *Scene

	childrenSorted bool
	sortedChildren []*Node
}

// nodeDefaults sets the field values shared by every constructor.
func nodeDefaults(n *Node) {
	n.alpha = 1
	n.absAlpha = 1
	n.visible = true
	n.dirty = Dirty
	n.dirtySlots = SlotAll
	n.newlyAttached = true
	n.childrenSorted = true
	n.props = NewRenderParams(n.Kind, n.ID)
}

func newNode(id NodeID, kind NodeKind, name string) *Node {
	n := &Node{ID: id, Kind: kind, Name: name}
	nodeDefaults(n)
	return n
}

// --- Tree manipulation ---

// AddChild appends child to this node's children.
// If child already has a parent, it is removed from that parent first.
// Panics if child is nil or child is an ancestor of this node (cycle).
func (n *Node) AddChild(child *Node) {
	n.AddChildAt(child, len(n.children))
}

// AddChildAt inserts child at the given index.
// Same reparenting and cycle-check behavior as AddChild.
func (n *Node) AddChildAt(child *Node, index int) {
	if child == nil {
		panic("canopy: cannot add nil child")
	}
	if isAncestor(child, n) {
		panic("canopy: adding child would create a cycle")
	}
	if child.Parent == n {
		n.removeChildByPtr(child)
	} else if child.Parent != nil {
		child.Parent.detach(child)
	}
	index = min(max(index, 0), len(n.children))
	child.Parent = n
	n.children = slices.Insert(n.children, index, child)
	n.childrenSorted = false
	markSubtreeAttached(child)
	n.markDirty(SlotChildren)
	if n.scene != nil {
		n.scene.noteStructural()
		if n.scene.debug {
			debugCheckTreeDepth(child)
			debugCheckChildCount(n)
		}
	}
}

// RemoveChild detaches child from this node. The area the child's subtree
// last covered becomes damage on its screen.
// Panics if child.Parent != n.
func (n *Node) RemoveChild(child *Node) {
	if child.Parent != n {
		panic("canopy: child's parent is not this node")
	}
	n.detach(child)
	if n.scene != nil {
		n.scene.maybeDestroy(child)
	}
}

// detach unlinks child and turns its drawn area into damage.
func (n *Node) detach(child *Node) {
	if scr := n.screenAncestor(); scr != nil {
		damageSubtree(child, scr)
	}
	n.removeChildByPtr(child)
	child.Parent = nil
	n.childrenSorted = false
	n.markDirty(SlotChildren)
	if n.scene != nil {
		n.scene.noteStructural()
	}
}

// RemoveFromParent detaches this node from its parent.
// No-op if this node has no parent.
func (n *Node) RemoveFromParent() {
	if n.Parent == nil {
		return
	}
	n.Parent.RemoveChild(n)
}

// Children returns the child list. The returned slice MUST NOT be mutated by the caller.
func (n *Node) Children() []*Node {
	return n.children
}

// NumChildren returns the number of children.
func (n *Node) NumChildren() int {
	return len(n.children)
}

// ZIndex returns the node's z-order among its siblings.
func (n *Node) ZIndex() int { return n.zIndex }

// SetZIndex sets the node's z-order and marks the parent's children as unsorted.
func (n *Node) SetZIndex(z int) {
	if n.zIndex == z {
		return
	}
	n.zIndex = z
	if n.Parent != nil {
		n.Parent.childrenSorted = false
		n.Parent.markDirty(SlotChildren)
	}
	n.markDirty(SlotGeometry)
}

// sortedChildList returns children ordered by ZIndex, ties kept in insertion
// order. The buffer is reused between calls.
func (n *Node) sortedChildList() []*Node {
	if n.childrenSorted && len(n.sortedChildren) == len(n.children) {
		return n.sortedChildren
	}
	n.sortedChildren = append(n.sortedChildren[:0], n.children...)
	slices.SortStableFunc(n.sortedChildren, func(a, b *Node) int {
		return a.zIndex - b.zIndex
	})
	n.childrenSorted = true
	return n.sortedChildren
}

// --- Common properties ---

// Bounds returns the node rectangle relative to its parent's origin.
func (n *Node) Bounds() image.Rectangle { return n.bounds }

// SetBounds moves or resizes the node.
func (n *Node) SetBounds(r image.Rectangle) {
	r = r.Canon()
	if n.bounds == r {
		return
	}
	n.bounds = r
	n.markDirty(SlotGeometry)
}

// Alpha returns the node's own opacity.
func (n *Node) Alpha() float64 { return n.alpha }

// SetAlpha sets the node's opacity, clamped to [0, 1].
func (n *Node) SetAlpha(a float64) {
	a = clamp01(a)
	if n.alpha == a {
		return
	}
	n.alpha = a
	n.markDirty(SlotAlpha)
}

// Visible reports whether the node is drawn.
func (n *Node) Visible() bool { return n.visible }

// SetVisible shows or hides the node and its subtree.
func (n *Node) SetVisible(v bool) {
	if n.visible == v {
		return
	}
	n.visible = v
	n.markDirty(SlotVisibility)
}

// SetClipToBounds clips the subtree to the node's bounds.
func (n *Node) SetClipToBounds(v bool) {
	if n.clipToBounds == v {
		return
	}
	n.clipToBounds = v
	n.markDirty(SlotGeometry)
}

// SetOpaque declares that the node fully covers its bounds, letting the
// traversal cull what lies beneath it.
func (n *Node) SetOpaque(v bool) {
	if n.opaque == v {
		return
	}
	n.opaque = v
	n.markDirty(SlotContent)
}

// SetContent replaces the recorded content of a canvas node. Op rectangles
// are relative to the node's origin.
func (n *Node) SetContent(ops []DrawOp) {
	n.content = append(n.content[:0], ops...)
	n.markDirty(SlotContent)
}

// Props returns the node's current property record. It must not be modified;
// use the Update* methods instead.
func (n *Node) Props() *RenderParams { return n.props }

// --- Variant properties ---

// UpdateSurface edits the surface variant of a surface node.
func (n *Node) UpdateSurface(fn func(*SurfaceParams)) error {
	if n.props.Surface == nil {
		return fmt.Errorf("%w: %s node %d has no surface params", ErrWrongKind, n.Kind, n.ID)
	}
	before := *n.props.Surface
	fn(n.props.Surface)
	after := *n.props.Surface
	if before == after {
		return nil
	}
	slot := SlotContent
	if before.Buffer != after.Buffer && before.HardwareComposable == after.HardwareComposable &&
		before.IsCursor == after.IsCursor && before.SolidColor == after.SolidColor {
		slot = SlotBuffer
	}
	n.markDirty(slot)
	return nil
}

// UpdateScreen edits the screen variant of a screen node.
func (n *Node) UpdateScreen(fn func(*ScreenParams)) error {
	if n.props.Screen == nil {
		return fmt.Errorf("%w: %s node %d has no screen params", ErrWrongKind, n.Kind, n.ID)
	}
	before := *n.props.Screen
	fn(n.props.Screen)
	if before != *n.props.Screen {
		n.markDirty(SlotScreen)
	}
	return nil
}

// UpdateEffect edits the effect variant of an effect node.
func (n *Node) UpdateEffect(fn func(*EffectParams)) error {
	if n.props.Effect == nil {
		return fmt.Errorf("%w: %s node %d has no effect params", ErrWrongKind, n.Kind, n.ID)
	}
	before := *n.props.Effect
	fn(n.props.Effect)
	if before != *n.props.Effect {
		n.markDirty(SlotFilter)
	}
	return nil
}

// UpdateCanvas edits the canvas variant of a canvas node.
func (n *Node) UpdateCanvas(fn func(*CanvasParams)) error {
	if n.props.Canvas == nil {
		return fmt.Errorf("%w: %s node %d has no canvas params", ErrWrongKind, n.Kind, n.ID)
	}
	before := *n.props.Canvas
	fn(n.props.Canvas)
	if before != *n.props.Canvas {
		n.markDirty(SlotContent)
	}
	return nil
}

// UpdateLogical edits the variant of a logical-display node.
func (n *Node) UpdateLogical(fn func(*LogicalDisplayParams)) error {
	if n.props.Logical == nil {
		return fmt.Errorf("%w: %s node %d has no logical display params", ErrWrongKind, n.Kind, n.ID)
	}
	before := *n.props.Logical
	fn(n.props.Logical)
	if before != *n.props.Logical {
		n.markDirty(SlotGeometry)
	}
	return nil
}

// hasVisibleFilter reports whether the node applies a filter that samples
// what lies beneath it, which forbids skipping its subtree.
func (n *Node) hasVisibleFilter() bool {
	return n.visible && n.props.Effect != nil && n.props.Effect.FilterRadius > 0
}

// isHardwareLayer reports whether the node is presented as its own layer.
func (n *Node) isHardwareLayer() bool {
	return n.props.Surface != nil && n.props.Surface.HardwareComposable
}

// --- Dirty tracking ---

// DirtyStatus returns the node's dirty state for the current frame.
func (n *Node) DirtyStatus() DirtyStatus { return n.dirty }

// MarkDirty flags the node for staging recomputation. Idempotent within a
// frame: only the first Clean to Dirty transition registers the node with
// the pending-sync registry and the active-node set.
func (n *Node) MarkDirty() {
	n.markDirty(SlotContent)
}

func (n *Node) markDirty(slot ParamSlot) {
	n.dirtySlots |= slot
	if n.scene != nil {
		n.scene.noteSlots(n, slot)
	}
	if n.dirty == Dirty {
		return
	}
	n.dirty = Dirty
	for p := n.Parent; p != nil && !p.subtreeDirty; p = p.Parent {
		p.subtreeDirty = true
	}
	n.AddToPendingSyncList()
	if n.scene != nil {
		n.scene.activate(n)
	}
}

// AddToPendingSyncList registers the node with the pending-sync registry at
// most once per frame.
func (n *Node) AddToPendingSyncList() {
	if n.addedToPendingSync || n.scene == nil || n.destroyed {
		return
	}
	n.addedToPendingSync = true
	n.scene.pending.Add(n)
}

// IsPendingSync reports whether the node waits for the next sync drain.
func (n *Node) IsPendingSync() bool { return n.addedToPendingSync }

// Staging returns the last recomputed staging parameters, or nil.
func (n *Node) Staging() *RenderParams { return n.staging }

// updateStaging recomputes the staging record and command list, recycling
// the list handed back by the previous drain.
func (n *Node) updateStaging() {
	cmds := n.spareCmds
	n.spareCmds = nil
	if cmds == nil {
		cmds = NewDrawCmdList()
	}
	n.staging = recomputeStagingInto(n, cmds)
	n.stagingCmds = cmds
	n.dirty = Clean
}

// RecomputeStaging builds the staging parameters and compiled draw commands
// for n from its current properties. It never touches the drawable.
func RecomputeStaging(n *Node) (*RenderParams, *DrawCmdList) {
	cmds := NewDrawCmdList()
	return recomputeStagingInto(n, cmds), cmds
}

func recomputeStagingInto(n *Node, cmds *DrawCmdList) *RenderParams {
	p := n.props.clone()
	p.ID = n.ID
	p.Kind = n.Kind
	p.Bounds = n.bounds
	p.AbsRect = n.absRect
	p.Alpha = n.alpha
	p.Visible = n.visible
	p.ClipToBounds = n.clipToBounds
	p.Opaque = n.opaque
	p.ZIndex = n.zIndex
	if p.Canvas != nil {
		p.Canvas.OpCount = len(n.content)
	}
	if s := p.Screen; s != nil {
		if s.Width == 0 && s.Height == 0 {
			s.Width, s.Height = n.bounds.Dx(), n.bounds.Dy()
		}
		s.ChildDisplayCount = 0
		for _, c := range n.children {
			if c.Kind == KindLogicalDisplay {
				s.ChildDisplayCount++
			}
		}
	}

	cmds.Reset()
	abs := n.absRect
	alpha := n.absAlpha

	cmds.Mark(MarkerBgBegin)
	if n.clipToBounds {
		cmds.Append(DrawOp{Kind: OpSave})
		cmds.Append(DrawOp{Kind: OpClip, Rect: abs})
	}
	if p.Canvas != nil && p.Canvas.Background.A > 0 {
		bg := p.Canvas.Background
		bg.A *= alpha
		cmds.Append(DrawOp{Kind: OpFill, Rect: abs, Color: bg})
	}

	cmds.Mark(MarkerContent)
	switch {
	case p.Surface != nil:
		s := p.Surface
		switch {
		case s.HardwareComposable:
			// Presented as its own layer; leave a hole in the client target.
			cmds.Append(DrawOp{Kind: OpClearRect, Rect: abs})
		case s.Buffer != 0:
			cmds.Append(DrawOp{Kind: OpDrawBuffer, Rect: abs, Buffer: s.Buffer, Alpha: alpha})
		}
	case len(n.content) > 0:
		origin := abs.Min
		for _, op := range n.content {
			op.Rect = op.Rect.Add(origin)
			switch op.Kind {
			case OpFill:
				op.Color.A *= alpha
			case OpDrawBuffer:
				op.Alpha *= alpha
			}
			cmds.Append(op)
		}
	}

	cmds.Mark(MarkerChildren)
	cmds.Mark(MarkerFgBegin)
	if n.clipToBounds {
		cmds.Append(DrawOp{Kind: OpRestore})
	}
	cmds.Mark(MarkerEnd)
	return p
}

// --- Helpers ---

// isAncestor reports whether candidate is an ancestor of node.
func isAncestor(candidate, node *Node) bool {
	for p := node; p != nil; p = p.Parent {
		if p == candidate {
			return true
		}
	}
	return false
}

// removeChildByPtr removes child from n.children without clearing child.Parent.
// Uses copy+nil to avoid retaining a dangling pointer in the backing array.
func (n *Node) removeChildByPtr(child *Node) {
	for i, c := range n.children {
		if c == child {
			copy(n.children[i:], n.children[i+1:])
			n.children[len(n.children)-1] = nil
			n.children = n.children[:len(n.children)-1]
			return
		}
	}
}

// markSubtreeAttached flags node and its descendants as newly attached so
// the next traversal visits and damages them.
func markSubtreeAttached(node *Node) {
	node.newlyAttached = true
	node.drawGen = 0
	node.markDirty(SlotGeometry)
	for _, child := range node.children {
		markSubtreeAttached(child)
	}
}

// screenAncestor returns the nearest screen node at or above n.
func (n *Node) screenAncestor() *Node {
	for p := n; p != nil; p = p.Parent {
		if p.Kind == KindScreen {
			return p
		}
	}
	return nil
}

// damageSubtree adds the last drawn area of node and its descendants to the
// pending damage of screen and forgets it.
func damageSubtree(node, screen *Node) {
	if !node.drawnRect.Empty() && screen.scene != nil {
		screen.scene.addScreenDamage(screen, node.drawnRect)
		node.drawnRect = image.Rectangle{}
	}
	for _, child := range node.children {
		damageSubtree(child, screen)
	}
}
