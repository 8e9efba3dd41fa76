package canopy

import (
	"fmt"
	"image"
)

// RootNodeID is the id of the root node every Scene creates.
const RootNodeID NodeID = ^NodeID(0)

// Scene is the update-thread owner of the node tree. It holds the id-keyed
// node table, the pending-sync registry, the active-node set and the
// per-frame change flags the main loop inspects.
type Scene struct {
	root  *Node
	nodes map[NodeID]*Node
	debug bool

	pending  *PendingSync
	registry *DrawableRegistry
	release  *ReleaseQueue
	ledger   *BufferLedger
	diag     *Diagnostics
	anims    *animationSet

	// active holds nodes that are dirty this frame or still animating.
	active map[NodeID]*Node

	// Per-frame change tracking, cleared by endFrame.
	frameSlots          ParamSlot
	structural          bool
	clientBufferChanged bool
	bufferUpdates       map[NodeID]struct{}
	force               ForceCommitReason
	screenDamage        map[NodeID]*Region

	// frames caches the previous traversal of each screen.
	frames map[NodeID]*screenCache

	onVsyncRequest func()
}

// NewScene creates a scene with a pre-created root node and its own
// drawable registry, release queue, buffer ledger and diagnostics.
func NewScene() *Scene {
	diag := NewDiagnostics()
	registry := NewDrawableRegistry(diag)
	return newScene(registry, NewReleaseQueue(registry, diag), NewBufferLedger(nil, diag), diag)
}

func newScene(registry *DrawableRegistry, release *ReleaseQueue, ledger *BufferLedger, diag *Diagnostics) *Scene {
	s := &Scene{
		nodes:         make(map[NodeID]*Node),
		registry:      registry,
		release:       release,
		ledger:        ledger,
		diag:          diag,
		anims:         newAnimationSet(),
		active:        make(map[NodeID]*Node),
		bufferUpdates: make(map[NodeID]struct{}),
		screenDamage:  make(map[NodeID]*Region),
		frames:        make(map[NodeID]*screenCache),
	}
	s.pending = NewPendingSync(registry, diag)
	root := newNode(RootNodeID, KindCanvas, "root")
	root.refCount = 1
	root.scene = s
	s.root = root
	s.nodes[root.ID] = root
	root.AddToPendingSyncList()
	return s
}

// Root returns the scene's root node.
func (s *Scene) Root() *Node {
	return s.root
}

// SetDebugMode enables tree-shape warnings and per-frame timing logs.
func (s *Scene) SetDebugMode(enabled bool) {
	s.debug = enabled
}

// Pending returns the pending-sync registry.
func (s *Scene) Pending() *PendingSync { return s.pending }

// Registry returns the drawable registry.
func (s *Scene) Registry() *DrawableRegistry { return s.registry }

// Diagnostics returns the shared diagnostic counters.
func (s *Scene) Diagnostics() *Diagnostics { return s.diag }

// Ledger returns the buffer ledger.
func (s *Scene) Ledger() *BufferLedger { return s.ledger }

// ReleaseQueue returns the release-batch queue.
func (s *Scene) ReleaseQueue() *ReleaseQueue { return s.release }

// CreateNode creates and registers a detached node holding one reference.
// Exactly one node may exist per id.
func (s *Scene) CreateNode(id NodeID, kind NodeKind, name string) (*Node, error) {
	if _, ok := s.nodes[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateNode, id)
	}
	n := newNode(id, kind, name)
	n.refCount = 1
	n.scene = s
	s.nodes[id] = n
	n.AddToPendingSyncList()
	s.activate(n)
	return n, nil
}

// Node returns the node registered under id, or nil.
func (s *Scene) Node(id NodeID) *Node {
	return s.nodes[id]
}

// Len returns the number of live nodes, the root included.
func (s *Scene) Len() int {
	return len(s.nodes)
}

// Retain adds an owning reference to the node.
func (s *Scene) Retain(id NodeID) error {
	n := s.nodes[id]
	if n == nil {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	n.refCount++
	return nil
}

// ReleaseNode drops an owning reference. A node whose last reference is gone
// is destroyed once it is also detached from the tree.
func (s *Scene) ReleaseNode(id NodeID) error {
	n := s.nodes[id]
	if n == nil {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	if n.refCount > 0 {
		n.refCount--
	}
	s.maybeDestroy(n)
	return nil
}

// Screens returns the screen nodes attached to the root, in z-order.
func (s *Scene) Screens() []*Node {
	var out []*Node
	for _, c := range s.root.sortedChildList() {
		if c.Kind == KindScreen {
			out = append(out, c)
		}
	}
	return out
}

// RequestForceCommit sets force-commit reasons for the current frame.
func (s *Scene) RequestForceCommit(r ForceCommitReason) {
	s.force |= r
	s.requestVsync()
}

// ForceCommitReasons returns the reasons set for the current frame.
func (s *Scene) ForceCommitReasons() ForceCommitReason { return s.force }

func (s *Scene) maybeDestroy(n *Node) {
	if n.destroyed || n == s.root || n.refCount > 0 || n.Parent != nil {
		return
	}
	s.destroy(n)
}

// destroy unregisters n and hands its drawable to the release queue.
// Children lose their parent; those without owners are destroyed as well.
func (s *Scene) destroy(n *Node) {
	n.destroyed = true
	if n.addedToPendingSync {
		s.pending.SkipSync(n)
	}
	delete(s.nodes, n.ID)
	delete(s.active, n.ID)
	delete(s.screenDamage, n.ID)
	delete(s.bufferUpdates, n.ID)
	s.anims.remove(n.ID)
	if n.props.Surface != nil && n.props.Surface.Buffer != 0 {
		s.ledger.Drop(n.ID)
	}
	s.release.AddNode(n.ID, n.drawable)
	n.drawable = nil

	children := n.children
	n.children = nil
	n.sortedChildren = nil
	for _, c := range children {
		c.Parent = nil
		s.maybeDestroy(c)
	}
	n.scene = nil
	s.diag.NodesDestroyed.Add(1)
}

func (s *Scene) activate(n *Node) {
	s.active[n.ID] = n
	s.requestVsync()
}

// ActiveNodes returns the number of nodes in the active set.
func (s *Scene) ActiveNodes() int { return len(s.active) }

func (s *Scene) noteSlots(n *Node, slot ParamSlot) {
	s.frameSlots |= slot
	if slot&SlotBuffer != 0 {
		if n.isHardwareLayer() {
			s.bufferUpdates[n.ID] = struct{}{}
		} else {
			s.clientBufferChanged = true
		}
	}
}

func (s *Scene) noteStructural() {
	s.structural = true
}

func (s *Scene) addScreenDamage(screen *Node, r image.Rectangle) {
	reg := s.screenDamage[screen.ID]
	if reg == nil {
		reg = &Region{}
		s.screenDamage[screen.ID] = reg
	}
	reg.Add(r)
	s.requestVsync()
}

func (s *Scene) requestVsync() {
	if s.onVsyncRequest != nil {
		s.onVsyncRequest()
	}
}

// bufferOnlyFrame reports whether every change this frame is a buffer update
// of a hardware-composable surface.
func (s *Scene) bufferOnlyFrame() bool {
	return s.frameSlots == SlotBuffer && !s.structural && !s.clientBufferChanged &&
		len(s.screenDamage) == 0 && len(s.bufferUpdates) > 0
}

// endFrame clears the per-frame flags and drops nodes that are neither
// dirty nor animating from the active set.
func (s *Scene) endFrame() {
	s.frameSlots = 0
	s.structural = false
	s.clientBufferChanged = false
	s.force = 0
	clear(s.bufferUpdates)
	for id, n := range s.active {
		if n.dirty == Clean && !s.anims.has(id) {
			delete(s.active, id)
		}
	}
}
