package canopy

import (
	"context"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"
)

// --- manualClock ---

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// --- recordingCanvas ---

type canvasCall struct {
	Op     string
	Rect   image.Rectangle
	Color  Color
	Buffer BufferHandle
	Src    FrameSurface
}

type recordingCanvas struct {
	calls []canvasCall
}

func (c *recordingCanvas) Save()                      { c.calls = append(c.calls, canvasCall{Op: "save"}) }
func (c *recordingCanvas) Restore()                   { c.calls = append(c.calls, canvasCall{Op: "restore"}) }
func (c *recordingCanvas) ClipRect(r image.Rectangle) { c.calls = append(c.calls, canvasCall{Op: "clip", Rect: r}) }
func (c *recordingCanvas) Clear(col Color)            { c.calls = append(c.calls, canvasCall{Op: "clear", Color: col}) }
func (c *recordingCanvas) ClearRect(r image.Rectangle) {
	c.calls = append(c.calls, canvasCall{Op: "clear-rect", Rect: r})
}
func (c *recordingCanvas) FillRect(r image.Rectangle, col Color) {
	c.calls = append(c.calls, canvasCall{Op: "fill", Rect: r, Color: col})
}
func (c *recordingCanvas) DrawBuffer(b BufferHandle, dst image.Rectangle, _ float64) {
	c.calls = append(c.calls, canvasCall{Op: "buffer", Rect: dst, Buffer: b})
}
func (c *recordingCanvas) DrawSurface(src FrameSurface, dst image.Rectangle) {
	c.calls = append(c.calls, canvasCall{Op: "surface", Rect: dst, Src: src})
}

// ops returns the call names in order.
func (c *recordingCanvas) ops() []string {
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.Op
	}
	return out
}

func (c *recordingCanvas) count(op string) int {
	n := 0
	for _, call := range c.calls {
		if call.Op == op {
			n++
		}
	}
	return n
}

// --- fakeSurface ---

type fakeFrame struct {
	s      *fakeSurface
	canvas *recordingCanvas
	age    int
	damage Region
}

func (f *fakeFrame) Canvas() Canvas  { return f.canvas }
func (f *fakeFrame) BufferAge() int  { return f.age }
func (f *fakeFrame) Flush(damage Region) (BufferHandle, error) {
	f.damage = damage.Clone()
	if f.s.flushErr != nil {
		return 0, f.s.flushErr
	}
	f.s.flushed++
	return f.s.base + BufferHandle(f.s.flushed), nil
}

type fakeSurface struct {
	base     BufferHandle
	age      int
	fail     bool
	flushErr error
	requests int
	reallocs int
	flushed  int
	frames   []*fakeFrame
	lastW    int
	lastH    int
	format   PixelFormat
}

func newFakeSurface(base BufferHandle) *fakeSurface {
	return &fakeSurface{base: base, age: 1}
}

func (s *fakeSurface) RequestFrame(w, h int, format PixelFormat, realloc bool) (Frame, error) {
	s.requests++
	if realloc {
		s.reallocs++
	}
	if s.fail {
		return nil, ErrNoFrame
	}
	s.lastW, s.lastH, s.format = w, h, format
	f := &fakeFrame{s: s, canvas: &recordingCanvas{}, age: s.age}
	s.frames = append(s.frames, f)
	return f, nil
}

func (s *fakeSurface) lastFrame() *fakeFrame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

type fakeFactory struct {
	surfaces map[ScreenID]*fakeSurface
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{surfaces: make(map[ScreenID]*fakeSurface)}
}

func (f *fakeFactory) CreateSurface(screen ScreenID, _, _ int) (FrameSurface, error) {
	if s := f.surfaces[screen]; s != nil {
		return s, nil
	}
	s := newFakeSurface(BufferHandle(screen) * 1000000)
	f.surfaces[screen] = s
	return s, nil
}

// --- fakeComposer ---

type fakeCommit struct {
	output ScreenID
	layers []Layer
}

type fakeComposer struct {
	mu      sync.Mutex
	commits []fakeCommit
	off     map[ScreenID]bool
	fence   Fence
	err     error
	// clock and took simulate a slow controller.
	clock *manualClock
	took  time.Duration
}

func newFakeComposer() *fakeComposer {
	return &fakeComposer{off: make(map[ScreenID]bool)}
}

func (hw *fakeComposer) Commit(output ScreenID, layers []Layer) (ReleaseFences, error) {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	if hw.clock != nil && hw.took > 0 {
		hw.clock.Advance(hw.took)
	}
	hw.commits = append(hw.commits, fakeCommit{output: output, layers: append([]Layer(nil), layers...)})
	hw.fence++
	fences := make(ReleaseFences, len(layers))
	for _, l := range layers {
		if l.Buffer != 0 {
			fences[l.Buffer] = hw.fence
		}
	}
	return fences, hw.err
}

func (hw *fakeComposer) PowerOn(output ScreenID) bool {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return !hw.off[output]
}

func (hw *fakeComposer) commitCount() int {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return len(hw.commits)
}

func (hw *fakeComposer) last() fakeCommit {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	if len(hw.commits) == 0 {
		return fakeCommit{}
	}
	return hw.commits[len(hw.commits)-1]
}

// --- fakeReleaser ---

type fakeReleaser struct {
	mu       sync.Mutex
	released map[BufferHandle]int
	fences   map[BufferHandle]Fence
	order    []BufferHandle
}

func newFakeReleaser() *fakeReleaser {
	return &fakeReleaser{released: make(map[BufferHandle]int), fences: make(map[BufferHandle]Fence)}
}

func (r *fakeReleaser) ReleaseBuffer(h BufferHandle, fence Fence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released[h]++
	r.fences[h] = fence
	r.order = append(r.order, h)
}

func (r *fakeReleaser) count(h BufferHandle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released[h]
}

// --- recordingSink ---

type recordingSink struct {
	mu     sync.Mutex
	events []DiagnosticEvent
}

func (s *recordingSink) Emit(ev DiagnosticEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) kinds(k EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

// --- harness ---

// harness drives a Compositor frame by frame on the test goroutine: the
// main, render and display loopers are pumped by hand.
type harness struct {
	t        *testing.T
	c        *Compositor
	clock    *manualClock
	hw       *fakeComposer
	surfaces *fakeFactory
	releaser *fakeReleaser
	sink     *recordingSink
	vsync    uint64
	txIndex  uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Scheduler.DelayMode = false
	return newHarnessWith(t, cfg)
}

func newHarnessWith(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    newManualClock(),
		hw:       newFakeComposer(),
		surfaces: newFakeFactory(),
		releaser: newFakeReleaser(),
		sink:     &recordingSink{},
	}
	h.c = NewCompositor(Options{
		Config:   cfg,
		Clock:    h.clock,
		Composer: h.hw,
		Surfaces: h.surfaces,
		Releaser: h.releaser,
		Sinks:    []DiagnosticSink{h.sink},
	})
	return h
}

// txn wraps cmds in the harness sender's next transaction.
func (h *harness) txn(cmds ...Command) *TransactionData {
	h.txIndex++
	return &TransactionData{Sender: testSender, Index: h.txIndex, Commands: cmds}
}

func (h *harness) apply(cmds ...Command) {
	h.t.Helper()
	before := h.c.Diagnostics().CommandErrors.Load()
	if n := h.c.ApplyTransaction(h.txn(cmds...)); n != 1 {
		h.t.Fatalf("applied %d transactions, want 1", n)
	}
	if after := h.c.Diagnostics().CommandErrors.Load(); after != before {
		h.t.Fatalf("transaction had %d failing commands", after-before)
	}
}

// frame runs one vsync through the main loop, the render thread and the
// display thread and returns the screen results, or nil when no frame was
// posted.
func (h *harness) frame() []ScreenResult {
	h.t.Helper()
	h.clock.Advance(h.c.Config().Period())
	h.vsync++
	fp := h.c.OnVsync(context.Background(), h.clock.Now(), h.vsync)
	h.c.RenderThread().Looper().RunPending()
	h.c.DisplayThread().Looper().RunPending()
	if fp == nil {
		return nil
	}
	return h.c.RenderThread().LastResults()
}

// result returns the result of output in the last frame.
func (h *harness) result(results []ScreenResult, output ScreenID) ScreenResult {
	h.t.Helper()
	for _, r := range results {
		if r.Screen == output {
			return r
		}
	}
	h.t.Fatalf("no result for screen %d in %v", output, results)
	return ScreenResult{}
}

// Node ids of the standard test scene.
const (
	testScreen  NodeID = 1
	testDisplay NodeID = 2
	testBack    NodeID = 3
	testBox     NodeID = 4
	testOutput  ScreenID = 1
	testSender  SenderID = 9
)

// setupScreen builds a 100x50 screen showing an opaque full-screen
// background canvas and a 10x10 box, and draws the first frame.
func (h *harness) setupScreen() {
	h.t.Helper()
	h.apply(
		CreateNode{ID: testScreen, Kind: KindScreen, Name: "screen"},
		CreateNode{ID: testDisplay, Kind: KindLogicalDisplay, Name: "display"},
		CreateNode{ID: testBack, Kind: KindCanvas, Name: "back"},
		CreateNode{ID: testBox, Kind: KindCanvas, Name: "box"},
		AddChild{Parent: RootNodeID, Child: testScreen, Index: -1},
		AddChild{Parent: testScreen, Child: testDisplay, Index: -1},
		AddChild{Parent: testDisplay, Child: testBack, Index: -1},
		AddChild{Parent: testDisplay, Child: testBox, Index: -1},
		ConfigureScreen{ID: testScreen, Screen: testOutput, Width: 100, Height: 50},
		SetBounds{ID: testDisplay, Bounds: image.Rect(0, 0, 100, 50)},
		SetBounds{ID: testBack, Bounds: image.Rect(0, 0, 100, 50)},
		SetOpaque{ID: testBack, Opaque: true},
		SetBackground{ID: testBack, Color: Color{0, 0, 1, 1}},
		SetBounds{ID: testBox, Bounds: image.Rect(10, 10, 20, 20)},
		SetBackground{ID: testBox, Color: Color{1, 0, 0, 1}},
	)
	res := h.result(h.frame(), testOutput)
	if res.State != StateFullRedraw {
		h.t.Fatalf("first frame state = %s (%s), want FULL_REDRAW", res.State, res.Skip)
	}
}

func (h *harness) surface(output ScreenID) *fakeSurface {
	h.t.Helper()
	s := h.surfaces.surfaces[output]
	if s == nil {
		h.t.Fatalf("no surface for screen %d", output)
	}
	return s
}

func regionString(r Region) string {
	return fmt.Sprint(r.Rects)
}
