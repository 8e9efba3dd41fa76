package canopy

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"
)

// RenderThread draws posted frames on its own looper. It owns the screen
// drawables; nothing else touches them.
type RenderThread struct {
	looper    *Looper
	registry  *DrawableRegistry
	ledger    *BufferLedger
	diag      *Diagnostics
	cfg       Config
	factory   SurfaceFactory
	committer LayerCommitter

	screens map[NodeID]*ScreenDrawable

	mu      sync.Mutex
	busy    int
	idle    chan struct{}
	results []ScreenResult
}

// NewRenderThread returns a render thread committing through committer.
// factory may be nil, in which case surfaces are attached with SetSurface.
func NewRenderThread(registry *DrawableRegistry, ledger *BufferLedger, diag *Diagnostics, cfg Config,
	factory SurfaceFactory, committer LayerCommitter, clock Clock) *RenderThread {
	return &RenderThread{
		looper:    NewLooper("render", cfg.Pipeline.QueueCapacity, clock),
		registry:  registry,
		ledger:    ledger,
		diag:      diag,
		cfg:       cfg,
		factory:   factory,
		committer: committer,
		screens:   make(map[NodeID]*ScreenDrawable),
		idle:      make(chan struct{}),
	}
}

// Looper returns the render thread's task loop.
func (rt *RenderThread) Looper() *Looper { return rt.looper }

// Run draws frames until ctx is done.
func (rt *RenderThread) Run(ctx context.Context) error { return rt.looper.Run(ctx) }

// PostFrame queues fp for drawing. On failure the frame's buffers are
// unpinned at once.
func (rt *RenderThread) PostFrame(fp *FrameParams) error {
	rt.mu.Lock()
	rt.busy++
	rt.mu.Unlock()
	err := rt.looper.Post(PriorityHigh, func() {
		rt.DrawFrame(fp)
		rt.done()
	})
	if err != nil {
		for _, sf := range fp.Screens {
			rt.ledger.Unhold(sf.Buffers, nil)
		}
		rt.done()
		return fmt.Errorf("canopy: post frame %d: %w", fp.Seq, err)
	}
	return nil
}

func (rt *RenderThread) done() {
	rt.mu.Lock()
	rt.busy--
	if rt.busy == 0 {
		close(rt.idle)
		rt.idle = make(chan struct{})
	}
	rt.mu.Unlock()
}

// WaitIdle waits, at most timeout, until every posted frame has been drawn.
func (rt *RenderThread) WaitIdle(ctx context.Context, timeout time.Duration) bool {
	rt.mu.Lock()
	if rt.busy == 0 {
		rt.mu.Unlock()
		return true
	}
	idle := rt.idle
	rt.mu.Unlock()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// LastResults returns the outcome of the most recently drawn frame.
func (rt *RenderThread) LastResults() []ScreenResult {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return slices.Clone(rt.results)
}

// DrawFrame runs every screen of fp. Mirror sources are drawn before their
// mirrors. Must be called on the render goroutine.
func (rt *RenderThread) DrawFrame(fp *FrameParams) []ScreenResult {
	type job struct {
		sf     *ScreenFrame
		sd     *ScreenDrawable
		mirror bool
		// borrowed are the source's buffers a mirror draws from.
		borrowed []BufferHandle
	}
	jobs := make([]job, 0, len(fp.Screens))
	seen := make(map[NodeID]*ScreenFrame, len(fp.Screens))
	for i := range fp.Screens {
		sf := &fp.Screens[i]
		seen[sf.Node] = sf
		sd := rt.screen(sf.Node)
		if sd == nil {
			rt.ledger.Unhold(sf.Buffers, nil)
			continue
		}
		mirror := false
		if p := sd.drawable.Params(); p != nil && p.Screen != nil {
			mirror = p.Screen.MirrorSource != 0
			rt.ensureSurface(sd, p.Screen)
		}
		jobs = append(jobs, job{sf: sf, sd: sd, mirror: mirror})
	}
	for id := range rt.screens {
		if _, ok := seen[id]; !ok {
			delete(rt.screens, id)
		}
	}
	slices.SortStableFunc(jobs, func(a, b job) int {
		switch {
		case a.mirror == b.mirror:
			return 0
		case a.mirror:
			return 1
		}
		return -1
	})

	// A source unpins its buffers once drawn or committed; mirrors drawn
	// after it keep them alive until they have copied them.
	for i := range jobs {
		j := &jobs[i]
		if !j.mirror {
			continue
		}
		p := j.sd.drawable.Params()
		if src := seen[p.Screen.MirrorSource]; src != nil && len(src.Buffers) > 0 {
			j.borrowed = src.Buffers
			rt.ledger.Hold(j.borrowed)
		}
	}

	results := make([]ScreenResult, 0, len(jobs))
	for _, j := range jobs {
		var res ScreenResult
		if fp.Direct {
			res = j.sd.DirectCompose(fp, j.sf)
		} else {
			res = j.sd.OnDraw(fp, j.sf)
		}
		rt.ledger.Unhold(j.borrowed, nil)
		results = append(results, res)
	}
	rt.mu.Lock()
	rt.results = results
	rt.mu.Unlock()
	return results
}

// Screen returns the screen drawable of a screen node, or nil. Must be
// called on the render goroutine.
func (rt *RenderThread) Screen(node NodeID) *ScreenDrawable {
	return rt.screens[node]
}

func (rt *RenderThread) screen(node NodeID) *ScreenDrawable {
	if sd := rt.screens[node]; sd != nil && !sd.drawable.IsReleased() {
		return sd
	}
	d := rt.registry.Lookup(node)
	if d == nil {
		return nil
	}
	sd := newScreenDrawable(node, d, rt.registry, rt.ledger, rt.diag, rt.cfg)
	sd.committer = rt.committer
	sd.peers = func(id NodeID) *ScreenDrawable { return rt.screens[id] }
	rt.screens[node] = sd
	return sd
}

func (rt *RenderThread) ensureSurface(sd *ScreenDrawable, sp *ScreenParams) {
	if sd.surface != nil || rt.factory == nil || sp.Width <= 0 || sp.Height <= 0 {
		return
	}
	s, err := rt.factory.CreateSurface(sp.Screen, sp.Width, sp.Height)
	if err != nil {
		Logger().Warn("create surface", "screen", sp.Screen, "err", err)
		return
	}
	sd.surface = s
}

// DumpScreens writes the damage history of every screen. Must be called on
// the render goroutine.
func (rt *RenderThread) DumpScreens(w io.Writer) error {
	ids := make([]NodeID, 0, len(rt.screens))
	for id := range rt.screens {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		sd := rt.screens[id]
		res := sd.lastResult
		if _, err := fmt.Fprintf(w, "screen node %d output %d: %s", id, res.Screen, res.State); err != nil {
			return err
		}
		if res.State == StateSkip {
			if _, err := fmt.Fprintf(w, " (%s)", res.Skip); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, " layers=%d\n", len(res.Layers)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "  current: %v\n", sd.dirty.Current().Rects); err != nil {
			return err
		}
		for i, h := range sd.dirty.History() {
			if _, err := fmt.Fprintf(w, "  history[%d]: %v\n", i, h.Rects); err != nil {
				return err
			}
		}
	}
	return nil
}
