package canopy

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Compositor is the vsync-driven main loop. Every frame it takes in client
// transactions, advances animations, walks the tree, drains the pending
// syncs and posts the frame to the render thread.
//
// OnVsync, ApplyTransaction, AddAnimation and every Scene or Node method
// must run on the main goroutine; other goroutines reach it through Post.
type Compositor struct {
	clock     Clock
	scene     *Scene
	txq       *TransactionQueue
	unmarshal *UnmarshalWorker
	render    *RenderThread
	display   *DisplayThread
	looper    *Looper

	cfgMu sync.Mutex
	cfg   Config

	seq        uint64
	inFrame    bool
	wantVsync  atomic.Bool
	onRequest  func()
	lastParams *FrameParams
}

// Options wires a Compositor to its outputs.
type Options struct {
	Config   Config
	Clock    Clock
	Composer HardwareComposer
	Surfaces SurfaceFactory
	Releaser BufferReleaser
	Sinks    []DiagnosticSink
}

// NewCompositor builds a compositor with its scene, transaction queue,
// unmarshal worker, render thread and display thread.
func NewCompositor(opts Options) *Compositor {
	cfg := opts.Config
	if cfg.RefreshRate == 0 {
		cfg = DefaultConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	diag := NewDiagnostics()
	for _, s := range opts.Sinks {
		diag.AddSink(s)
	}
	registry := NewDrawableRegistry(diag)
	ledger := NewBufferLedger(opts.Releaser, diag)
	scene := newScene(registry, NewReleaseQueue(registry, diag), ledger, diag)
	scene.SetDebugMode(cfg.Debug)

	c := &Compositor{
		clock:  clock,
		scene:  scene,
		txq:    NewTransactionQueue(diag),
		looper: NewLooper("main", cfg.Pipeline.QueueCapacity, clock),
		cfg:    cfg,
	}
	c.unmarshal = NewUnmarshalWorker(c.txq, diag, cfg.Pipeline.QueueCapacity)
	c.display = NewDisplayThread(opts.Composer, ledger, diag, cfg, clock)
	c.render = NewRenderThread(registry, ledger, diag, cfg, opts.Surfaces, c.display, clock)
	scene.onVsyncRequest = c.sceneRequest
	return c
}

// sceneRequest is the scene's vsync request hook. Changes made while a
// frame is being produced are part of that frame.
func (c *Compositor) sceneRequest() {
	if !c.inFrame {
		c.RequestVsync()
	}
}

// Scene returns the scene tree. Main goroutine only.
func (c *Compositor) Scene() *Scene { return c.scene }

// Diagnostics returns the shared counters.
func (c *Compositor) Diagnostics() *Diagnostics { return c.scene.diag }

// Transactions returns the per-sender transaction queue.
func (c *Compositor) Transactions() *TransactionQueue { return c.txq }

// Unmarshal returns the payload decoding worker.
func (c *Compositor) Unmarshal() *UnmarshalWorker { return c.unmarshal }

// RenderThread returns the render thread.
func (c *Compositor) RenderThread() *RenderThread { return c.render }

// DisplayThread returns the display thread.
func (c *Compositor) DisplayThread() *DisplayThread { return c.display }

// Looper returns the main goroutine's task loop.
func (c *Compositor) Looper() *Looper { return c.looper }

// Config returns the configuration in effect.
func (c *Compositor) Config() Config {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.cfg
}

// SetConfig applies a reloaded configuration. Queue capacities and the
// damage history depth keep their startup values.
func (c *Compositor) SetConfig(cfg Config) {
	c.cfgMu.Lock()
	c.cfg = cfg
	c.cfgMu.Unlock()
	c.display.SetConfig(cfg.Scheduler)
	_ = c.Post(func() { c.scene.SetDebugMode(cfg.Debug) })
}

// Post runs fn on the main goroutine.
func (c *Compositor) Post(fn func()) error {
	return c.looper.Post(PriorityNormal, fn)
}

// OnRequestVsync registers the callback asking the vsync source for the
// next vsync.
func (c *Compositor) OnRequestVsync(fn func()) {
	c.onRequest = fn
}

// RequestVsync asks for a frame. Safe from any goroutine.
func (c *Compositor) RequestVsync() {
	if c.wantVsync.Swap(true) {
		return
	}
	if c.onRequest != nil {
		c.onRequest()
	}
}

// VsyncRequested reports whether a frame has been requested since the last
// vsync.
func (c *Compositor) VsyncRequested() bool { return c.wantVsync.Load() }

// Submit hands a raw transaction payload from sender to the unmarshal worker
// and requests a frame.
func (c *Compositor) Submit(sender SenderID, payload []byte) error {
	if err := c.unmarshal.Submit(sender, payload); err != nil {
		return err
	}
	c.RequestVsync()
	return nil
}

// Enqueue queues a decoded transaction and requests a frame. Safe from any
// goroutine.
func (c *Compositor) Enqueue(td *TransactionData) {
	if c.txq.Push(td) {
		c.RequestVsync()
	}
}

// ApplyTransaction applies td at once if it is next in its sender's
// sequence, followed by any queued transactions of that sender it unblocks.
// An out-of-order td waits in the queue like one passed to Enqueue, and a
// duplicate is dropped. It returns the number of transactions applied.
func (c *Compositor) ApplyTransaction(td *TransactionData) int {
	if !c.txq.Push(td) {
		return 0
	}
	ready := c.txq.Ready(td.Sender)
	for _, r := range ready {
		c.applyTransaction(r)
	}
	if c.txq.Pending() > 0 {
		c.RequestVsync()
	}
	return len(ready)
}

// applyTransaction runs every command of td in order. A failing command is
// logged and counted; the rest still apply.
func (c *Compositor) applyTransaction(td *TransactionData) {
	for i, cmd := range td.Commands {
		if err := cmd.apply(c); err != nil {
			c.scene.diag.CommandErrors.Add(1)
			Logger().Warn("command failed", "sender", td.Sender, "index", td.Index, "command", i,
				"type", fmt.Sprintf("%T", cmd), "err", err)
		}
	}
	c.scene.diag.TransactionsApplied.Add(1)
}

// AddAnimation runs a on every vsync until it finishes or the node is
// destroyed.
func (c *Compositor) AddAnimation(id NodeID, a Animator) {
	c.scene.anims.add(id, a)
	if n := c.scene.Node(id); n != nil {
		c.scene.activate(n)
	}
	c.RequestVsync()
}

// Animations returns the number of running animators.
func (c *Compositor) Animations() int { return c.scene.anims.len() }

// LastFrame returns the parameters of the last frame posted to the render
// thread, or nil.
func (c *Compositor) LastFrame() *FrameParams { return c.lastParams }

// OnVsync runs one frame:
//
//  1. wait, bounded, for the display thread to drop below its commit threshold
//  2. wait, bounded, for in-flight payload decoding
//  3. apply the transactions next in sequence
//  4. advance animations
//  5. walk the tree, or reuse the previous walk when only hardware-layer
//     buffers changed
//  6. wait, bounded, for the render thread, then drain the pending syncs
//  7. pin buffers, seal the release batch and post the frame
//
// It returns the posted frame, or nil when there is no screen to draw.
func (c *Compositor) OnVsync(ctx context.Context, ts time.Time, vsyncID uint64) *FrameParams {
	c.wantVsync.Store(false)
	c.inFrame = true
	defer func() { c.inFrame = false }()
	cfg := c.Config()
	s := c.scene
	c.seq++
	seq := c.seq
	var stats debugStats

	start := c.clock.Now()
	if !c.display.WaitCapacity(ctx, cfg.Pipeline.CapacityWait.Std()) {
		s.diag.CapacityWaitTimeouts.Add(1)
		Logger().Warn("display thread over capacity, drawing anyway", "unexecuted", c.display.Unexecuted())
	}
	if !c.unmarshal.WaitIdle(ctx, cfg.Pipeline.UnmarshalWait.Std()) {
		s.diag.UnmarshalWaitTimeouts.Add(1)
		Logger().Warn("unmarshal timed out, applying ready transactions", "inflight", c.unmarshal.Inflight())
	}
	maxWait := time.Duration(cfg.Pipeline.TransactionWaitFrames) * cfg.Period()
	for _, td := range c.txq.Collect(ts, maxWait) {
		c.applyTransaction(td)
		stats.transactions++
	}
	if c.txq.Pending() > 0 {
		// Gapped senders are re-examined next frame.
		defer c.RequestVsync()
	}
	afterIntake := c.clock.Now()
	stats.intakeTime = afterIntake.Sub(start)

	needVsync, _ := s.anims.tick(ts)
	afterAnim := c.clock.Now()
	stats.animTime = afterAnim.Sub(afterIntake)

	var screens []ScreenFrame
	direct := s.bufferOnlyFrame() && s.hasDirectFrames()
	if direct {
		screens = s.directFrames()
	} else {
		screens = s.collectFrame(seq)
	}
	stats.direct = direct
	stats.screens = len(screens)
	afterWalk := c.clock.Now()
	stats.traverseTime = afterWalk.Sub(afterAnim)

	if !c.render.WaitIdle(ctx, cfg.Pipeline.RenderIdleWait.Std()) {
		s.diag.RenderWaitTimeouts.Add(1)
		Logger().Warn("render thread busy, syncing anyway", "seq", seq)
	}
	stats.sync = s.pending.Drain(seq)
	if stats.sync.Deferred > 0 {
		// Deferred commits retry on the next drain.
		defer c.RequestVsync()
	}
	stats.syncTime = c.clock.Now().Sub(afterWalk)

	for _, sf := range screens {
		s.ledger.Hold(sf.Buffers)
	}
	s.release.Seal(seq)

	var fp *FrameParams
	if len(screens) > 0 {
		fp = &FrameParams{
			Seq:         seq,
			Timestamp:   ts,
			Force:       s.force,
			GlobalDirty: s.force&ForceFullRepaint != 0,
			Direct:      direct,
			Refresh: RefreshRateParam{
				Rate:            cfg.RefreshRate,
				VsyncID:         vsyncID,
				FrameTimestamp:  ts,
				ActualTimestamp: ts,
			},
			Screens: screens,
		}
		if err := c.render.PostFrame(fp); err != nil {
			Logger().Error("post frame", "seq", seq, "err", err)
		}
		c.lastParams = fp
	}

	s.endFrame()
	s.diag.Frames.Add(1)
	c.debugLog(seq, stats)
	if needVsync {
		c.RequestVsync()
	}
	return fp
}

// Dump writes the node tree, the pending work and the counters to w.
// Main goroutine only.
func (c *Compositor) Dump(w io.Writer) error {
	if err := dumpNode(w, c.scene.root, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "pending sync: %d, active: %d, animations: %d, transactions: %d, release batches: %d\n",
		c.scene.pending.Len(), c.scene.ActiveNodes(), c.scene.anims.len(), c.txq.Pending(),
		c.scene.release.Pending()); err != nil {
		return err
	}
	return c.scene.diag.Dump(w)
}

func dumpNode(w io.Writer, n *Node, depth int) error {
	status := "clean"
	if n.dirty == Dirty {
		status = "dirty"
	}
	if _, err := fmt.Fprintf(w, "%*s%d %s %q bounds=%v abs=%v alpha=%.2f visible=%t %s\n",
		depth*2, "", n.ID, n.Kind, n.Name, n.bounds, n.absRect, n.alpha, n.visible, status); err != nil {
		return err
	}
	for _, ch := range slices.Clone(n.sortedChildList()) {
		if err := dumpNode(w, ch, depth+1); err != nil {
			return err
		}
	}
	return nil
}
