package canopy

import (
	"fmt"
	"image"
	"slices"
	"sync"
	"time"

	"github.com/tanema/gween/ease"
)

// Command is one scene mutation carried by a transaction.
type Command interface {
	apply(c *Compositor) error
}

// TransactionData is one client transaction. Index counts from 1 per sender
// and must increase by one with every transaction.
type TransactionData struct {
	Sender    SenderID
	Index     uint64
	Timestamp time.Time
	Commands  []Command
}

func (c *Compositor) node(id NodeID) (*Node, error) {
	n := c.scene.Node(id)
	if n == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return n, nil
}

// CreateNode creates a detached node.
type CreateNode struct {
	ID   NodeID
	Kind NodeKind
	Name string
}

func (cmd CreateNode) apply(c *Compositor) error {
	_, err := c.scene.CreateNode(cmd.ID, cmd.Kind, cmd.Name)
	return err
}

// DestroyNode detaches a node and drops the client's reference to it.
type DestroyNode struct {
	ID NodeID
}

func (cmd DestroyNode) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	n.RemoveFromParent()
	if n.destroyed {
		return nil
	}
	return c.scene.ReleaseNode(cmd.ID)
}

// AddChild attaches Child under Parent at Index; a negative Index appends.
type AddChild struct {
	Parent, Child NodeID
	Index         int
}

func (cmd AddChild) apply(c *Compositor) error {
	p, err := c.node(cmd.Parent)
	if err != nil {
		return err
	}
	ch, err := c.node(cmd.Child)
	if err != nil {
		return err
	}
	if isAncestor(ch, p) {
		return fmt.Errorf("canopy: adding %d under %d would create a cycle", cmd.Child, cmd.Parent)
	}
	if cmd.Index < 0 {
		p.AddChild(ch)
	} else {
		p.AddChildAt(ch, cmd.Index)
	}
	return nil
}

// RemoveChild detaches Child from Parent.
type RemoveChild struct {
	Parent, Child NodeID
}

func (cmd RemoveChild) apply(c *Compositor) error {
	p, err := c.node(cmd.Parent)
	if err != nil {
		return err
	}
	ch, err := c.node(cmd.Child)
	if err != nil {
		return err
	}
	if ch.Parent != p {
		return fmt.Errorf("canopy: node %d is not a child of %d", cmd.Child, cmd.Parent)
	}
	p.RemoveChild(ch)
	return nil
}

// SetBounds moves or resizes a node.
type SetBounds struct {
	ID     NodeID
	Bounds image.Rectangle
}

func (cmd SetBounds) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	n.SetBounds(cmd.Bounds)
	return nil
}

// SetAlpha sets a node's opacity.
type SetAlpha struct {
	ID    NodeID
	Alpha float64
}

func (cmd SetAlpha) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	n.SetAlpha(cmd.Alpha)
	return nil
}

// SetVisible shows or hides a node.
type SetVisible struct {
	ID      NodeID
	Visible bool
}

func (cmd SetVisible) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	n.SetVisible(cmd.Visible)
	return nil
}

// SetZIndex reorders a node among its siblings.
type SetZIndex struct {
	ID NodeID
	Z  int
}

func (cmd SetZIndex) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	n.SetZIndex(cmd.Z)
	return nil
}

// SetClip toggles clipping of a node's subtree to its bounds.
type SetClip struct {
	ID   NodeID
	Clip bool
}

func (cmd SetClip) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	n.SetClipToBounds(cmd.Clip)
	return nil
}

// SetOpaque declares whether a node fully covers its bounds.
type SetOpaque struct {
	ID     NodeID
	Opaque bool
}

func (cmd SetOpaque) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	n.SetOpaque(cmd.Opaque)
	return nil
}

// SetBackground sets the background color of a canvas node.
type SetBackground struct {
	ID    NodeID
	Color Color
}

func (cmd SetBackground) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	return n.UpdateCanvas(func(p *CanvasParams) { p.Background = cmd.Color })
}

// SetContent replaces the recorded content of a canvas node.
type SetContent struct {
	ID  NodeID
	Ops []DrawOp
}

func (cmd SetContent) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	n.SetContent(cmd.Ops)
	return nil
}

// SetFilter sets the filter radius of an effect node. Zero disables it.
type SetFilter struct {
	ID     NodeID
	Radius int
}

func (cmd SetFilter) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	return n.UpdateEffect(func(p *EffectParams) {
		p.FilterRadius = cmd.Radius
		p.FilterCacheValid = false
	})
}

// SetBuffer presents a new producer buffer on a surface node. The node's
// previous buffer goes back to its producer once no frame holds it.
type SetBuffer struct {
	ID     NodeID
	Buffer BufferHandle
}

func (cmd SetBuffer) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	if err := n.UpdateSurface(func(p *SurfaceParams) { p.Buffer = cmd.Buffer }); err != nil {
		return err
	}
	c.scene.ledger.Acquire(cmd.ID, cmd.Buffer)
	return nil
}

// SetHardwareLayer selects whether a surface is presented as its own layer.
type SetHardwareLayer struct {
	ID      NodeID
	Enabled bool
	Cursor  bool
}

func (cmd SetHardwareLayer) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	if err := n.UpdateSurface(func(p *SurfaceParams) {
		p.HardwareComposable = cmd.Enabled
		p.IsCursor = cmd.Enabled && cmd.Cursor
	}); err != nil {
		return err
	}
	c.scene.RequestForceCommit(ForceHardwareLayer)
	return nil
}

// SetSolidColor presents a hardware surface as a flat color.
type SetSolidColor struct {
	ID      NodeID
	Enabled bool
	Color   Color
}

func (cmd SetSolidColor) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	return n.UpdateSurface(func(p *SurfaceParams) {
		p.SolidColor = cmd.Enabled
		p.Color = cmd.Color
	})
}

// ConfigureScreen sets the output, size and frame-pacing policy of a screen
// node.
type ConfigureScreen struct {
	ID                  NodeID
	Screen              ScreenID
	Width, Height       int
	PixelFormat         PixelFormat
	SkipStrategy        SkipStrategy
	SkipInterval        uint32
	ExpectedRefreshRate uint32
	ActiveRefreshRate   uint32
	AccumulateDirty     bool
	ActiveRect          image.Rectangle
}

func (cmd ConfigureScreen) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	return n.UpdateScreen(func(p *ScreenParams) {
		p.Screen = cmd.Screen
		p.Width, p.Height = cmd.Width, cmd.Height
		p.PixelFormat = cmd.PixelFormat
		p.SkipStrategy = cmd.SkipStrategy
		p.SkipInterval = cmd.SkipInterval
		p.ExpectedRefreshRate = cmd.ExpectedRefreshRate
		p.ActiveRefreshRate = cmd.ActiveRefreshRate
		p.AccumulateDirtyInSkipFrame = cmd.AccumulateDirty
		p.ActiveRect = cmd.ActiveRect
	})
}

// SetScreenPower turns an output on or off.
type SetScreenPower struct {
	ID NodeID
	On bool
}

func (cmd SetScreenPower) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	return n.UpdateScreen(func(p *ScreenParams) { p.PowerOn = cmd.On })
}

// SetScreenFrozen freezes or thaws an output's content.
type SetScreenFrozen struct {
	ID     NodeID
	Frozen bool
}

func (cmd SetScreenFrozen) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	return n.UpdateScreen(func(p *ScreenParams) { p.Frozen = cmd.Frozen })
}

// SetMirror makes a screen mirror Source. A zero Source stops mirroring.
type SetMirror struct {
	ID        NodeID
	Source    NodeID
	Composite CompositeType
	Force     bool
}

func (cmd SetMirror) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	if cmd.Source != 0 {
		src, err := c.node(cmd.Source)
		if err != nil {
			return err
		}
		if src.Kind != KindScreen {
			return fmt.Errorf("%w: mirror source %d is a %s node", ErrWrongKind, cmd.Source, src.Kind)
		}
	}
	return n.UpdateScreen(func(p *ScreenParams) {
		p.MirrorSource = cmd.Source
		p.Composite = cmd.Composite
		p.ForceMirrorRender = cmd.Force
		if cmd.Source == 0 {
			p.Composite = CompositeUniRender
		}
	})
}

// SetHDR switches a screen's HDR mode and brightness ratios.
type SetHDR struct {
	ID              NodeID
	Enabled         bool
	HDRRatio        float32
	BrightnessRatio float32
}

func (cmd SetHDR) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	return n.UpdateScreen(func(p *ScreenParams) {
		p.HDREnabled = cmd.Enabled
		p.HDRBrightnessRatio = cmd.HDRRatio
		p.BrightnessRatio = cmd.BrightnessRatio
	})
}

// MoveCursor repositions a hardware cursor. The frame carrying the move is
// never skipped.
type MoveCursor struct {
	ID   NodeID
	X, Y int
}

func (cmd MoveCursor) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	b := n.Bounds()
	n.SetBounds(b.Add(image.Pt(cmd.X, cmd.Y).Sub(b.Min)))
	c.scene.RequestForceCommit(ForceCursorMove)
	return nil
}

// RequestRepaint forces the next frame to redraw every screen entirely.
type RequestRepaint struct{}

func (RequestRepaint) apply(c *Compositor) error {
	c.scene.RequestForceCommit(ForceFullRepaint)
	return nil
}

// AnimProperty names the node property an Animate command drives.
type AnimProperty uint8

const (
	AnimAlpha AnimProperty = iota
	AnimPosition
	AnimSize
)

// Animate starts a property animation on a node, advanced on every vsync.
type Animate struct {
	ID       NodeID
	Property AnimProperty
	// X is the target alpha, x position or width; Y the target y or height.
	X, Y     float64
	Duration time.Duration
	Ease     ease.TweenFunc
}

func (cmd Animate) apply(c *Compositor) error {
	n, err := c.node(cmd.ID)
	if err != nil {
		return err
	}
	fn := cmd.Ease
	if fn == nil {
		fn = ease.OutQuad
	}
	var g *TweenGroup
	switch cmd.Property {
	case AnimAlpha:
		g = TweenAlpha(n, cmd.X, cmd.Duration, fn)
	case AnimPosition:
		g = TweenPosition(n, int(cmd.X), int(cmd.Y), cmd.Duration, fn)
	case AnimSize:
		g = TweenSize(n, int(cmd.X), int(cmd.Y), cmd.Duration, fn)
	default:
		return fmt.Errorf("canopy: unknown animation property %d", cmd.Property)
	}
	c.AddAnimation(cmd.ID, g)
	return nil
}

// senderQueue orders the transactions of one sender.
type senderQueue struct {
	last         uint64
	pending      map[uint64]*TransactionData
	waitingSince time.Time
}

// TransactionQueue reorders transactions per sender. Push may be called from
// any goroutine; Collect is called by the main loop.
type TransactionQueue struct {
	mu      sync.Mutex
	senders map[SenderID]*senderQueue
	diag    *Diagnostics
}

// NewTransactionQueue returns an empty queue.
func NewTransactionQueue(diag *Diagnostics) *TransactionQueue {
	return &TransactionQueue{senders: make(map[SenderID]*senderQueue), diag: diag}
}

// Push queues td. A transaction whose index was already applied or queued
// is a duplicate and is dropped; Push reports whether td was kept.
func (q *TransactionQueue) Push(td *TransactionData) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	sq := q.senders[td.Sender]
	if sq == nil {
		sq = &senderQueue{pending: make(map[uint64]*TransactionData)}
		q.senders[td.Sender] = sq
	}
	if _, dup := sq.pending[td.Index]; dup || td.Index <= sq.last {
		q.diag.DuplicateTransactions.Add(1)
		Logger().Warn("duplicate transaction dropped", "sender", td.Sender, "index", td.Index, "last", sq.last)
		return false
	}
	sq.pending[td.Index] = td
	return true
}

// Pending returns the number of queued transactions.
func (q *TransactionQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, sq := range q.senders {
		n += len(sq.pending)
	}
	return n
}

// Collect returns, per sender in sender order, the transactions that are
// next in sequence. A sender whose next index has been missing for maxWait
// is advanced to its lowest queued index.
func (q *TransactionQueue) Collect(now time.Time, maxWait time.Duration) []*TransactionData {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]SenderID, 0, len(q.senders))
	for id := range q.senders {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []*TransactionData
	for _, id := range ids {
		sq := q.senders[id]
		for {
			progressed := false
			for td, ok := sq.pending[sq.last+1]; ok; td, ok = sq.pending[sq.last+1] {
				delete(sq.pending, sq.last+1)
				sq.last++
				out = append(out, td)
				progressed = true
			}
			if progressed {
				// A new gap starts its own wait.
				sq.waitingSince = time.Time{}
			}
			if len(sq.pending) == 0 {
				sq.waitingSince = time.Time{}
				break
			}
			if sq.waitingSince.IsZero() {
				sq.waitingSince = now
				break
			}
			if now.Sub(sq.waitingSince) < maxWait {
				break
			}
			next := lowestIndex(sq.pending)
			q.diag.ForcedAdvances.Add(1)
			q.diag.emit(DiagnosticEvent{Kind: EventForcedAdvance, Time: now, Count: int(next - sq.last - 1),
				Message: fmt.Sprintf("sender %d skipped to %d", id, next)})
			Logger().Warn("transaction gap, advancing", "sender", id, "expected", sq.last+1, "next", next)
			sq.last = next - 1
			sq.waitingSince = time.Time{}
		}
	}
	return out
}

// Ready removes and returns the transactions of sender that are next in
// sequence. Unlike Collect it never advances over a gap.
func (q *TransactionQueue) Ready(sender SenderID) []*TransactionData {
	q.mu.Lock()
	defer q.mu.Unlock()
	sq := q.senders[sender]
	if sq == nil {
		return nil
	}
	var out []*TransactionData
	for td, ok := sq.pending[sq.last+1]; ok; td, ok = sq.pending[sq.last+1] {
		delete(sq.pending, sq.last+1)
		sq.last++
		out = append(out, td)
	}
	if len(out) > 0 {
		sq.waitingSince = time.Time{}
	}
	return out
}

// Forget drops the state of a disconnected sender.
func (q *TransactionQueue) Forget(sender SenderID) {
	q.mu.Lock()
	delete(q.senders, sender)
	q.mu.Unlock()
}

func lowestIndex(m map[uint64]*TransactionData) uint64 {
	first := true
	var lo uint64
	for k := range m {
		if first || k < lo {
			lo, first = k, false
		}
	}
	return lo
}
