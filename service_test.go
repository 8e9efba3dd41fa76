package canopy

import (
	"context"
	"image"
	"testing"
	"time"
)

func TestServiceRunsFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.DelayMode = false
	hw := newFakeComposer()
	rel := newFakeReleaser()
	c := NewCompositor(Options{
		Config:   cfg,
		Composer: hw,
		Surfaces: newFakeFactory(),
		Releaser: rel,
	})
	c.Enqueue(&TransactionData{Sender: 1, Index: 1, Commands: []Command{
		CreateNode{ID: testScreen, Kind: KindScreen},
		CreateNode{ID: testBox, Kind: KindCanvas},
		AddChild{Parent: RootNodeID, Child: testScreen, Index: -1},
		AddChild{Parent: testScreen, Child: testBox, Index: -1},
		ConfigureScreen{ID: testScreen, Screen: testOutput, Width: 64, Height: 64},
		SetBounds{ID: testBox, Bounds: image.Rect(0, 0, 8, 8)},
		SetBackground{ID: testBox, Color: ColorBlack},
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc := NewService(c, NewTickerVsync(240))
	errc := make(chan error, 1)
	go func() { errc <- svc.Run(ctx) }()

	for hw.commitCount() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("no commit reached the composer")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := hw.last().output; got != testOutput {
		t.Errorf("committed output %d, want %d", got, testOutput)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run = %v", err)
	}
}
