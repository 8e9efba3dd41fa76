package canopy

import (
	"context"
	"image"
	"runtime"
	"testing"
)

// setupBenchCompositor creates a compositor with one 1280x720 screen holding
// n canvas nodes laid out on a grid.
func setupBenchCompositor(n int) (*Compositor, *manualClock) {
	cfg := DefaultConfig()
	cfg.Scheduler.DelayMode = false
	clock := newManualClock()
	c := NewCompositor(Options{
		Config:   cfg,
		Clock:    clock,
		Composer: newFakeComposer(),
		Surfaces: newFakeFactory(),
	})
	cmds := []Command{
		CreateNode{ID: testScreen, Kind: KindScreen},
		AddChild{Parent: RootNodeID, Child: testScreen, Index: -1},
		ConfigureScreen{ID: testScreen, Screen: testOutput, Width: 1280, Height: 720},
	}
	for i := range n {
		id := NodeID(100 + i)
		x, y := (i%100)*12, (i/100)*12
		cmds = append(cmds,
			CreateNode{ID: id, Kind: KindCanvas},
			AddChild{Parent: testScreen, Child: id, Index: -1},
			SetBounds{ID: id, Bounds: image.Rect(x, y, x+10, y+10)},
			SetBackground{ID: id, Color: ColorBlack},
		)
	}
	c.ApplyTransaction(&TransactionData{Sender: 1, Index: 1, Commands: cmds})
	return c, clock
}

func benchFrame(c *Compositor, clock *manualClock, id uint64) {
	clock.Advance(c.Config().Period())
	c.OnVsync(context.Background(), clock.Now(), id)
	c.RenderThread().Looper().RunPending()
	c.DisplayThread().Looper().RunPending()
}

// --- Frame Benchmarks ---

func BenchmarkFrame_5000Nodes_Static(b *testing.B) {
	c, clock := setupBenchCompositor(5000)
	benchFrame(c, clock, 0) // warmup

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		benchFrame(c, clock, uint64(i+1))
	}
}

func BenchmarkFrame_5000Nodes_OneMoving(b *testing.B) {
	c, clock := setupBenchCompositor(5000)
	benchFrame(c, clock, 0)
	n := c.Scene().Node(100)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		x := i % 50
		n.SetBounds(image.Rect(x, 0, x+10, 10))
		benchFrame(c, clock, uint64(i+1))
	}
}

func BenchmarkFrame_5000Nodes_AllDirty(b *testing.B) {
	c, clock := setupBenchCompositor(5000)
	benchFrame(c, clock, 0)
	children := c.Scene().Node(testScreen).Children()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		alpha := 0.5 + float64(i%2)*0.5
		for _, child := range children {
			child.SetAlpha(alpha)
		}
		benchFrame(c, clock, uint64(i+1))
	}
}

func BenchmarkDrain_1000Nodes(b *testing.B) {
	s := NewScene()
	nodes := make([]*Node, 1000)
	drawables := make([]*Drawable, 1000)
	for i := range nodes {
		nodes[i], _ = s.CreateNode(NodeID(i+1), KindCanvas, "n")
		drawables[i] = s.Registry().OnGenerate(nodes[i].ID, KindCanvas)
	}
	s.Pending().Drain(0)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for _, n := range nodes {
			n.SetAlpha(float64(i%2) * 0.5)
		}
		s.Pending().Drain(uint64(i + 1))
	}
	runtime.KeepAlive(drawables)
}
