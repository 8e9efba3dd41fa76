package canopy

import "image"

// ScreenDrawable is the render-goroutine side of a screen node. Each frame
// it decides whether its output is skipped, re-composed from the previous
// layer list, composed from a mirror source or fully redrawn, and hands the
// resulting layers to a LayerCommitter.
type ScreenDrawable struct {
	node     NodeID
	drawable *Drawable
	registry *DrawableRegistry
	ledger   *BufferLedger
	diag     *Diagnostics
	cfg      SkipConfig

	dirty   *DirtyManager
	skip    skipFrameState
	surface FrameSurface

	committer LayerCommitter
	// peers resolves another screen node to its screen drawable, for
	// mirroring.
	peers func(NodeID) *ScreenDrawable

	lastFormat  PixelFormat
	formatSet   bool
	hdrOn       bool
	hdrSet      bool
	brightness  float32
	hdrRatio    float32
	lastTarget  BufferHandle
	frozen      bool
	lastResult  ScreenResult
	frameItems  []DrawItem
	frameLayers []LayerEntry
	frameDamage Region
	// mirrored is the source's hardware layers as last drawn into this
	// mirror's target.
	mirrored []Layer
}

func newScreenDrawable(node NodeID, d *Drawable, registry *DrawableRegistry, ledger *BufferLedger,
	diag *Diagnostics, cfg Config) *ScreenDrawable {
	return &ScreenDrawable{
		node:       node,
		drawable:   d,
		registry:   registry,
		ledger:     ledger,
		diag:       diag,
		cfg:        cfg.Skip,
		dirty:      NewDirtyManager(0, 0, cfg.Pipeline.DirtyHistory),
		brightness: 1,
		hdrRatio:   1,
	}
}

// Node returns the id of the screen node.
func (sd *ScreenDrawable) Node() NodeID { return sd.node }

// Dirty returns the screen's damage manager.
func (sd *ScreenDrawable) Dirty() *DirtyManager { return sd.dirty }

// Surface returns the screen's back-buffer chain, or nil.
func (sd *ScreenDrawable) Surface() FrameSurface { return sd.surface }

// SetSurface attaches the back-buffer chain frames are drawn into.
func (sd *ScreenDrawable) SetSurface(s FrameSurface) { sd.surface = s }

// LastResult returns the outcome of the most recent frame.
func (sd *ScreenDrawable) LastResult() ScreenResult { return sd.lastResult }

// BrightnessRatio returns the SDR brightness ratio in effect.
func (sd *ScreenDrawable) BrightnessRatio() float32 { return sd.brightness }

// HDRBrightnessRatio returns the HDR brightness ratio in effect; 1 when the
// screen is not in HDR.
func (sd *ScreenDrawable) HDRBrightnessRatio() float32 { return sd.hdrRatio }

// OnDraw runs the screen's per-frame state machine. sf must belong to this
// screen. The buffers pinned by sf are unpinned on every path: at once when
// the screen skips or draws them into the client target, by the committer
// for those presented as hardware layers.
func (sd *ScreenDrawable) OnDraw(fp *FrameParams, sf *ScreenFrame) ScreenResult {
	res := ScreenResult{Screen: sf.Screen}
	sd.frameItems, sd.frameLayers = sf.DrawItems, sf.Layers
	sd.frameDamage = Region{}

	params := sd.drawable.Params()
	if params == nil || params.Screen == nil {
		return sd.finishSkip(res, sf, SkipNoParams)
	}
	sp := params.Screen
	sd.frozen = sp.Frozen
	sd.dirty.SetSurfaceSize(sp.Width, sp.Height)
	sd.dirty.Merge(sf.Dirty)

	if sp.ChildDisplayCount == 0 {
		return sd.finishSkip(res, sf, SkipNoDisplay)
	}
	for _, e := range sf.Layers {
		if e.Drawable != nil {
			e.Drawable.layerCreated.Store(false)
		}
	}

	src := sd.mirrorSource(sp)
	if !sp.PowerOn && !(src != nil && sp.ForceMirrorRender) {
		return sd.finishSkip(res, sf, SkipPowerOff)
	}
	if sp.Frozen || (src != nil && src.frozen) {
		return sd.finishSkip(res, sf, SkipFrozen)
	}

	skip, resetDirty := sd.skip.skipFrame(fp.Timestamp, fp.Refresh.Rate, sp, sd.cfg)
	if skip {
		if resetDirty || !sp.AccumulateDirtyInSkipFrame {
			sd.dirty.ArmRewind()
		}
		return sd.finishSkip(res, sf, SkipFrameStrategy)
	}
	if resetDirty {
		sd.dirty.ResetDirtyAsSurfaceSize()
	}
	sd.dirty.ApplyRewind()

	if sp.MirrorSource != 0 && sp.Composite != CompositeUniRender {
		return sd.drawMirror(res, fp, sf, sp, src)
	}

	hdrChanged := sd.updateHDR(sp)
	if !sd.dirty.IsCurrentDirty() && !fp.GlobalDirty && !sf.FilterCacheInvalid && !hdrChanged {
		if fp.Force == 0 && !sf.HardCursorNeedCommit {
			return sd.finishSkip(res, sf, SkipNoDamage)
		}
		return sd.directCompose(res, fp, sf, sp)
	}
	return sd.fullRedraw(res, fp, sf, sp)
}

// DirectCompose re-submits the previous client target with the current
// hardware layers, for frames whose only changes are hardware buffers.
func (sd *ScreenDrawable) DirectCompose(fp *FrameParams, sf *ScreenFrame) ScreenResult {
	res := ScreenResult{Screen: sf.Screen}
	sd.frameItems, sd.frameLayers = sf.DrawItems, sf.Layers
	sd.frameDamage = Region{}
	params := sd.drawable.Params()
	if params == nil || params.Screen == nil {
		return sd.finishSkip(res, sf, SkipNoParams)
	}
	sp := params.Screen
	src := sd.mirrorSource(sp)
	if !sp.PowerOn && !(src != nil && sp.ForceMirrorRender) {
		return sd.finishSkip(res, sf, SkipPowerOff)
	}
	if sp.Frozen || (src != nil && src.frozen) {
		return sd.finishSkip(res, sf, SkipFrozen)
	}
	if sp.MirrorSource != 0 && sp.Composite != CompositeUniRender {
		// The source's layers may have changed under the mirror.
		return sd.drawMirror(res, fp, sf, sp, src)
	}
	return sd.directCompose(res, fp, sf, sp)
}

func (sd *ScreenDrawable) mirrorSource(sp *ScreenParams) *ScreenDrawable {
	if sp.MirrorSource == 0 || sd.peers == nil {
		return nil
	}
	return sd.peers(sp.MirrorSource)
}

// updateHDR folds the brightness ratios and reports an HDR on/off change.
// Outside HDR the HDR ratio is applied as plain brightness.
func (sd *ScreenDrawable) updateHDR(sp *ScreenParams) bool {
	if sp.HDREnabled {
		sd.hdrRatio = sp.HDRBrightnessRatio
		sd.brightness = sp.BrightnessRatio
	} else {
		sd.brightness = sp.HDRBrightnessRatio
		sd.hdrRatio = 1
	}
	changed := sd.hdrSet && sd.hdrOn != sp.HDREnabled
	sd.hdrOn, sd.hdrSet = sp.HDREnabled, true
	return changed
}

func (sd *ScreenDrawable) finishSkip(res ScreenResult, sf *ScreenFrame, why DrawSkipType) ScreenResult {
	sd.ledger.Unhold(sf.Buffers, nil)
	res.State = StateSkip
	res.Skip = why
	sd.diag.FramesSkipped.Add(1)
	if why != SkipNoDamage {
		sd.diag.emit(DiagnosticEvent{Kind: EventFrameSkipped, Screen: sf.Screen, Node: sd.node, Message: why.String()})
	}
	Logger().Debug("screen skipped", "screen", sf.Screen, "reason", why)
	sd.lastResult = res
	return res
}

func (sd *ScreenDrawable) directCompose(res ScreenResult, fp *FrameParams, sf *ScreenFrame, sp *ScreenParams) ScreenResult {
	var layers []Layer
	if sd.lastTarget != 0 {
		layers = append(layers, sd.targetLayer(sp))
	}
	layers = sd.createLayers(layers, sf)
	sd.submit(sp, layers, fp, sf)
	res.State = StateDirectCompose
	res.Layers = layers
	sd.diag.DirectCompositions.Add(1)
	sd.lastResult = res
	return res
}

func (sd *ScreenDrawable) fullRedraw(res ScreenResult, fp *FrameParams, sf *ScreenFrame, sp *ScreenParams) ScreenResult {
	format := sp.PixelFormat
	if sd.hdrOn {
		format = PixelFormatRGBA1010102
	}
	realloc := sd.formatSet && format != sd.lastFormat
	sd.lastFormat, sd.formatSet = format, true

	frame, skip := sd.requestFrame(sp, format, realloc)
	if skip != SkipNone {
		return sd.finishSkip(res, sf, skip)
	}

	surface := sd.dirty.Surface()
	damage := sd.dirty.MergeHistory(frame.BufferAge())
	if fp.Force&ForceFullRepaint != 0 {
		damage = RegionOf(surface)
	}
	c := frame.Canvas()
	paint(c, damage, surface, func(clip image.Rectangle) {
		sd.drawItems(c, sf.DrawItems, clip)
	})
	sd.clearOutsideActive(c, damage, sp)

	flipped := damage.Flipped(sp.Height)
	target, err := frame.Flush(flipped)
	if err != nil {
		Logger().Warn("flush client target", "screen", sf.Screen, "err", err)
		sd.diag.RequestFrameFailures.Add(1)
		return sd.finishSkip(res, sf, SkipRequestFrameFailed)
	}
	sd.lastTarget = target
	sd.frameDamage = damage
	sd.dirty.Commit()

	layers := sd.createLayers([]Layer{sd.targetLayer(sp)}, sf)
	sd.submit(sp, layers, fp, sf)
	res.State = StateFullRedraw
	res.Layers = layers
	res.Damage = flipped
	sd.diag.FullRedraws.Add(1)
	sd.lastResult = res
	return res
}

func (sd *ScreenDrawable) drawMirror(res ScreenResult, fp *FrameParams, sf *ScreenFrame, sp *ScreenParams, src *ScreenDrawable) ScreenResult {
	if src == nil {
		return sd.finishSkip(res, sf, SkipMirrorSourceMissing)
	}
	// A mirror has no content of its own; the source's damage is its damage.
	layers := sourceLayers(src.frameLayers)
	sd.dirty.Merge(sd.toMirrorRegion(src.frameDamage, src, sp))
	sd.dirty.Merge(sd.toMirrorRegion(layerDamage(sd.mirrored, layers), src, sp))

	surface := sd.dirty.Surface()
	var damage Region
	if sp.Composite == CompositeWiredMirror {
		damage = RegionOf(surface)
	} else if !sd.dirty.IsCurrentDirty() && fp.Force == 0 {
		return sd.finishSkip(res, sf, SkipNoDamage)
	}

	frame, skip := sd.requestFrame(sp, sp.PixelFormat, false)
	if skip != SkipNone {
		return sd.finishSkip(res, sf, skip)
	}
	if sp.Composite != CompositeWiredMirror {
		damage = sd.dirty.MergeHistory(frame.BufferAge())
	}
	c := frame.Canvas()
	paint(c, damage, surface, func(clip image.Rectangle) {
		switch sp.Composite {
		case CompositeWiredMirror:
			// Wired outputs redraw the source's tree at their own resolution.
			sd.drawItems(c, src.frameItems, clip)
		default:
			if src.surface != nil {
				c.DrawSurface(src.surface, surface)
			}
		}
		// The source's client target has holes under its hardware layers.
		for _, l := range layers {
			dst := sd.toMirror(l.DisplayRect, src, sp)
			if !dst.Overlaps(clip) {
				continue
			}
			if l.Composition == CompositionSolidColor {
				c.FillRect(dst, l.Color)
			} else {
				c.DrawBuffer(l.Buffer, dst, l.Alpha)
			}
		}
	})
	sd.clearOutsideActive(c, damage, sp)

	flipped := damage.Flipped(sp.Height)
	target, err := frame.Flush(flipped)
	if err != nil {
		Logger().Warn("flush mirror target", "screen", sf.Screen, "err", err)
		sd.diag.RequestFrameFailures.Add(1)
		return sd.finishSkip(res, sf, SkipRequestFrameFailed)
	}
	sd.lastTarget = target
	sd.frameDamage = damage
	sd.mirrored = layers
	sd.dirty.Commit()

	out := []Layer{sd.targetLayer(sp)}
	sd.submit(sp, out, fp, sf)
	res.State = StateMirrorCompose
	res.Layers = out
	res.Damage = flipped
	sd.diag.MirrorCompositions.Add(1)
	sd.lastResult = res
	return res
}

func (sd *ScreenDrawable) requestFrame(sp *ScreenParams, format PixelFormat, realloc bool) (Frame, DrawSkipType) {
	if sd.surface == nil {
		Logger().Warn("screen has no surface", "node", sd.node, "screen", sp.Screen)
		return nil, SkipNoSurface
	}
	frame, err := sd.surface.RequestFrame(sp.Width, sp.Height, format, realloc)
	if err != nil || frame == nil {
		// Damage stays accumulated; the next vsync retries.
		sd.diag.RequestFrameFailures.Add(1)
		Logger().Warn("request frame", "screen", sp.Screen, "err", err)
		return nil, SkipRequestFrameFailed
	}
	return frame, SkipNone
}

// clearOutsideActive paints the damage lying outside the panel's active
// area black.
func (sd *ScreenDrawable) clearOutsideActive(c Canvas, damage Region, sp *ScreenParams) {
	if sp.ActiveRect.Empty() {
		return
	}
	active := RegionOf(sp.ActiveRect)
	for _, r := range damage.Rects {
		for _, out := range active.Subtract(r).Rects {
			c.FillRect(out, ColorBlack)
		}
	}
}

// drawItems replays the committed command lists of a flattened draw order.
// Items that miss the clip are culled, except clipping nodes, whose save and
// restore must stay paired across the two phases.
func (sd *ScreenDrawable) drawItems(c Canvas, items []DrawItem, clip image.Rectangle) {
	for _, it := range items {
		d := sd.registry.Lookup(it.Node)
		if d == nil {
			continue
		}
		d.Read(func(p *RenderParams, cmds *DrawCmdList) {
			if p == nil || cmds == nil {
				return
			}
			if !p.ClipToBounds && !p.AbsRect.Overlaps(clip) {
				return
			}
			if it.Phase == PhaseBefore {
				cmds.ReplayRange(c, MarkerBgBegin, MarkerChildren)
			} else {
				cmds.ReplayRange(c, MarkerFgBegin, MarkerEnd)
			}
		})
	}
}

func (sd *ScreenDrawable) targetLayer(sp *ScreenParams) Layer {
	return Layer{
		ZOrder:      0,
		Node:        sd.node,
		Buffer:      sd.lastTarget,
		Composition: CompositionClient,
		DisplayRect: image.Rect(0, 0, sp.Width, sp.Height),
		Alpha:       1,
	}
}

// createLayers appends one layer per hardware-composable drawable of the
// frame and flags those drawables.
func (sd *ScreenDrawable) createLayers(layers []Layer, sf *ScreenFrame) []Layer {
	for _, e := range sf.Layers {
		l, ok := layerOf(e, len(layers)+1)
		if !ok {
			continue
		}
		e.Drawable.layerCreated.Store(true)
		layers = append(layers, l)
	}
	return layers
}

// layerOf builds the layer of a hardware-composable drawable from its
// committed params. It reports false for a hidden or non-surface drawable.
func layerOf(e LayerEntry, z int) (Layer, bool) {
	if e.Drawable == nil {
		return Layer{}, false
	}
	var l Layer
	ok := false
	e.Drawable.Read(func(p *RenderParams, _ *DrawCmdList) {
		if p == nil || p.Surface == nil || !p.Visible {
			return
		}
		l = Layer{
			ZOrder:      z,
			Node:        e.Node,
			Buffer:      p.Surface.Buffer,
			Composition: CompositionDevice,
			DisplayRect: p.AbsRect,
			Alpha:       p.Alpha,
			Cursor:      p.Surface.IsCursor,
		}
		if p.Surface.SolidColor {
			l.Composition = CompositionSolidColor
			l.Buffer = 0
			l.Color = p.Surface.Color
		}
		ok = true
	})
	return l, ok
}

// sourceLayers returns the hardware layers a mirror composites over its
// source's image, bottom first.
func sourceLayers(entries []LayerEntry) []Layer {
	var out []Layer
	for _, e := range entries {
		if l, ok := layerOf(e, len(out)+1); ok {
			out = append(out, l)
		}
	}
	return out
}

// layerDamage returns the area where cur differs from prev: the old and new
// rects of every changed layer and the rects of layers that came or went.
func layerDamage(prev, cur []Layer) Region {
	var out Region
	old := make(map[NodeID]Layer, len(prev))
	for _, l := range prev {
		old[l.Node] = l
	}
	for _, l := range cur {
		p, ok := old[l.Node]
		delete(old, l.Node)
		if ok && p.Buffer == l.Buffer && p.DisplayRect == l.DisplayRect && p.Alpha == l.Alpha &&
			p.Color == l.Color && p.Composition == l.Composition {
			continue
		}
		out.Add(l.DisplayRect)
		if ok {
			out.Add(p.DisplayRect)
		}
	}
	for _, p := range old {
		out.Add(p.DisplayRect)
	}
	return out
}

// toMirror maps a rect of src into this screen. Virtual mirrors scale the
// source image to their own size; wired mirrors redraw at source
// coordinates.
func (sd *ScreenDrawable) toMirror(r image.Rectangle, src *ScreenDrawable, sp *ScreenParams) image.Rectangle {
	from := src.dirty.Surface()
	if sp.Composite == CompositeWiredMirror || from.Dx() <= 0 || from.Dy() <= 0 ||
		(from.Dx() == sp.Width && from.Dy() == sp.Height) {
		return r
	}
	w, h := from.Dx(), from.Dy()
	return image.Rect(
		r.Min.X*sp.Width/w, r.Min.Y*sp.Height/h,
		(r.Max.X*sp.Width+w-1)/w, (r.Max.Y*sp.Height+h-1)/h,
	)
}

func (sd *ScreenDrawable) toMirrorRegion(r Region, src *ScreenDrawable, sp *ScreenParams) Region {
	var out Region
	for _, rect := range r.Rects {
		out.Add(sd.toMirror(rect, src, sp))
	}
	return out
}

// paint runs draw once per damage rect, clipped to it and cleared first, so
// the area between disjoint rects keeps its previous pixels.
func paint(c Canvas, damage Region, surface image.Rectangle, draw func(clip image.Rectangle)) {
	for _, r := range damage.Rects {
		clip := r.Intersect(surface)
		if clip.Empty() {
			continue
		}
		c.Save()
		c.ClipRect(clip)
		c.ClearRect(clip)
		draw(clip)
		c.Restore()
	}
}

// submit hands the layers over. Pinned buffers that did not become hardware
// layers were consumed by the client target and are unpinned here; the rest
// are unpinned by the committer once presented.
func (sd *ScreenDrawable) submit(sp *ScreenParams, layers []Layer, fp *FrameParams, sf *ScreenFrame) {
	pinned := make(map[BufferHandle]int, len(sf.Buffers))
	for _, h := range sf.Buffers {
		pinned[h]++
	}
	for i := range layers {
		l := &layers[i]
		if l.Composition == CompositionDevice && pinned[l.Buffer] > 0 {
			pinned[l.Buffer]--
			l.pinned = true
		}
	}
	var consumed []BufferHandle
	for h, n := range pinned {
		for range n {
			consumed = append(consumed, h)
		}
	}
	sd.ledger.Unhold(consumed, nil)

	if sd.committer == nil {
		var held []BufferHandle
		for _, l := range layers {
			if l.pinned {
				held = append(held, l.Buffer)
			}
		}
		sd.ledger.Unhold(held, nil)
		return
	}
	sd.committer.CommitAndReleaseLayers(sp.Screen, layers, fp.Refresh)
}
