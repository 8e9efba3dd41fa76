package canopy

// SyncResult summarizes one drain.
type SyncResult struct {
	Committed int
	Missing   int
	Deferred  int
}

// PendingSync is the set of nodes whose staging changes have not reached
// their drawables. It is owned by the update goroutine and drained exactly
// once per frame, after traversal and before the render goroutine reads
// drawables for that frame.
type PendingSync struct {
	nodes    []*Node
	deferred []*Node
	registry *DrawableRegistry
	diag     *Diagnostics
}

// NewPendingSync returns an empty registry that resolves drawables through
// registry.
func NewPendingSync(registry *DrawableRegistry, diag *Diagnostics) *PendingSync {
	return &PendingSync{registry: registry, diag: diag}
}

// Add queues n. Callers go through Node.AddToPendingSyncList, which
// guarantees one entry per node per frame.
func (p *PendingSync) Add(n *Node) {
	p.nodes = append(p.nodes, n)
}

// Len returns the number of queued nodes.
func (p *PendingSync) Len() int {
	return len(p.nodes)
}

// Drain commits every queued node into its drawable: staging is copied to
// the committed parameters, the command lists are swapped, the node's dirty
// slots are cleared and its pending flag is reset.
//
// A node without a live drawable is dropped without error. A node whose
// drawable is being read stays queued for the next frame.
func (p *PendingSync) Drain(frame uint64) SyncResult {
	var res SyncResult
	for _, n := range p.nodes {
		if !n.addedToPendingSync || n.destroyed {
			continue
		}
		if n.dirty == Dirty || n.staging == nil {
			n.updateStaging()
		}
		d := p.registry.Lookup(n.ID)
		if d == nil {
			n.addedToPendingSync = false
			res.Missing++
			continue
		}
		old, ok := d.commit(n.staging, n.stagingCmds, frame)
		if !ok {
			p.deferred = append(p.deferred, n)
			res.Deferred++
			continue
		}
		if old != nil {
			old.Reset()
		}
		n.spareCmds = old
		n.stagingCmds = nil
		n.dirtySlots = 0
		n.addedToPendingSync = false
		res.Committed++
	}
	clear(p.nodes)
	p.nodes, p.deferred = append(p.nodes[:0], p.deferred...), p.deferred[:0]

	p.diag.SyncCommits.Add(int64(res.Committed))
	p.diag.SyncMisses.Add(int64(res.Missing))
	p.diag.DeferredSyncs.Add(int64(res.Deferred))
	return res
}

// SkipSync abandons a queued node without committing it, for a node removed
// or destroyed mid-frame. Its drawable, if any, is marked stale.
func (p *PendingSync) SkipSync(n *Node) {
	if !n.addedToPendingSync {
		return
	}
	n.addedToPendingSync = false
	for i, q := range p.nodes {
		if q == n {
			p.nodes = append(p.nodes[:i], p.nodes[i+1:]...)
			break
		}
	}
	if d := p.registry.Lookup(n.ID); d != nil {
		d.stale.Store(true)
	}
	p.diag.StaleSkips.Add(1)
}
