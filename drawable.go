package canopy

import (
	"sync/atomic"

	"github.com/jinzhu/copier"
)

// accessGuard enforces that a drawable is never read while the sync drain
// writes it. Readers share; the sync is exclusive. Neither side waits: a
// conflicting access is refused and reported.
type accessGuard struct {
	state atomic.Int32 // >0 readers, -1 sync in progress
}

const guardSyncing = -1

func (g *accessGuard) beginSync() bool {
	return g.state.CompareAndSwap(0, guardSyncing)
}

func (g *accessGuard) endSync() {
	g.state.Store(0)
}

func (g *accessGuard) beginRead() bool {
	for {
		s := g.state.Load()
		if s == guardSyncing {
			return false
		}
		if g.state.CompareAndSwap(s, s+1) {
			return true
		}
	}
}

func (g *accessGuard) endRead() {
	g.state.Add(-1)
}

// Drawable is the render-thread counterpart of a node. It holds the
// committed parameters and draw commands written by the sync drain. It
// refers to its node by id only.
type Drawable struct {
	id   NodeID
	kind NodeKind
	diag *Diagnostics

	guard      accessGuard
	params     *RenderParams
	cmds       *DrawCmdList
	syncedAt   atomic.Uint64
	syncCount  atomic.Uint64
	stale      atomic.Bool
	released   atomic.Bool
	// layerCreated is set when the drawable was turned into a hardware layer
	// this frame.
	layerCreated atomic.Bool
}

func newDrawable(id NodeID, kind NodeKind, diag *Diagnostics) *Drawable {
	return &Drawable{id: id, kind: kind, diag: diag}
}

// ID returns the id of the node this drawable mirrors.
func (d *Drawable) ID() NodeID { return d.id }

// Kind returns the node kind.
func (d *Drawable) Kind() NodeKind { return d.kind }

// IsStale reports whether the node's last staging change was abandoned
// without being committed.
func (d *Drawable) IsStale() bool { return d.stale.Load() }

// IsReleased reports whether the drawable went through a release batch.
func (d *Drawable) IsReleased() bool { return d.released.Load() }

// LayerCreated reports whether a hardware layer was created from the
// drawable this frame.
func (d *Drawable) LayerCreated() bool { return d.layerCreated.Load() }

// SyncCount returns how many commits the drawable has received.
func (d *Drawable) SyncCount() uint64 { return d.syncCount.Load() }

// SyncedFrame returns the frame sequence of the last commit.
func (d *Drawable) SyncedFrame() uint64 { return d.syncedAt.Load() }

// Read calls fn with the committed parameters and commands. If a sync is in
// progress the read is refused, counted as an access violation, and Read
// returns false. fn must not retain its arguments.
func (d *Drawable) Read(fn func(p *RenderParams, cmds *DrawCmdList)) bool {
	if !d.guard.beginRead() {
		d.reportViolation("read during sync")
		return false
	}
	defer d.guard.endRead()
	fn(d.params, d.cmds)
	return true
}

// Params returns a private copy of the committed parameters, or nil when
// nothing has been committed or the drawable is being synced.
func (d *Drawable) Params() *RenderParams {
	var out *RenderParams
	d.Read(func(p *RenderParams, _ *DrawCmdList) {
		if p != nil {
			out = p.clone()
		}
	})
	return out
}

// commit performs the single per-frame write: staging is deep copied into a
// fresh committed record and the command lists are swapped. It returns the
// list previously owned by the drawable, for reuse by the node, and false
// when a reader holds the drawable.
func (d *Drawable) commit(staging *RenderParams, cmds *DrawCmdList, frame uint64) (*DrawCmdList, bool) {
	if !d.guard.beginSync() {
		d.reportViolation("sync during read")
		return nil, false
	}
	defer d.guard.endSync()

	next := &RenderParams{}
	if err := copier.CopyWithOption(next, staging, copier.Option{DeepCopy: true}); err != nil {
		Logger().Error("copy staging params", "node", d.id, "err", err)
		next = staging.clone()
	}
	d.params = next
	old := d.cmds
	d.cmds = cmds
	d.syncedAt.Store(frame)
	d.syncCount.Add(1)
	d.stale.Store(false)
	return old, true
}

// release drops the committed state. Called from a release batch.
func (d *Drawable) release() bool {
	if d.released.Swap(true) {
		return false
	}
	if d.guard.beginSync() {
		d.params = nil
		d.cmds = nil
		d.guard.endSync()
	}
	return true
}

func (d *Drawable) reportViolation(what string) {
	if d.diag == nil {
		return
	}
	d.diag.AccessViolations.Add(1)
	d.diag.emit(DiagnosticEvent{Kind: EventAccessViolation, Node: d.id, Message: what})
	Logger().Warn("drawable access violation", "node", d.id, "op", what)
}
