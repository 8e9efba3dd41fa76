package canopy

import (
	"context"
	"testing"
	"time"
)

func TestReleaseQueueBatches(t *testing.T) {
	diag := NewDiagnostics()
	reg := NewDrawableRegistry(diag)
	q := NewReleaseQueue(reg, diag)

	q.Seal(1)
	if q.Pending() != 0 {
		t.Fatal("empty batch should not be sealed")
	}

	d1 := reg.OnGenerate(1, KindCanvas)
	d2 := reg.OnGenerate(2, KindCanvas)
	q.AddNode(1, d1)
	q.Seal(2)
	q.AddNode(2, d2)
	q.AddNode(3, nil)
	q.Seal(3)
	if q.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", q.Pending())
	}

	if n := q.DrainOnce(1); n != 1 {
		t.Errorf("DrainOnce(1) = %d, want 1", n)
	}
	if !d1.IsReleased() || d2.IsReleased() {
		t.Error("only the oldest batch should be released")
	}
	if reg.Lookup(1) != nil {
		t.Error("released drawable still registered")
	}
	if n := q.DrainOnce(0); n != 1 {
		t.Errorf("DrainOnce(0) = %d, want 1", n)
	}
	if got := diag.DrawablesReleased.Load(); got != 2 {
		t.Errorf("DrawablesReleased = %d, want 2", got)
	}
}

func TestReleaseQueueReleasesOnce(t *testing.T) {
	diag := NewDiagnostics()
	reg := NewDrawableRegistry(diag)
	q := NewReleaseQueue(reg, diag)
	d := reg.OnGenerate(1, KindCanvas)
	q.AddNode(1, d)
	q.AddNode(1, d)
	q.Seal(1)
	if n := q.DrainOnce(0); n != 1 {
		t.Errorf("released %d, want 1", n)
	}
	if d.Params() != nil {
		t.Error("released drawable keeps its params")
	}
}

func TestReleaseQueueRunDrainsOnStop(t *testing.T) {
	diag := NewDiagnostics()
	reg := NewDrawableRegistry(diag)
	q := NewReleaseQueue(reg, diag)
	q.AddNode(1, reg.OnGenerate(1, KindCanvas))
	q.Seal(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Run(ctx, time.Hour, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q.Pending() != 0 {
		t.Error("Run should drain everything when stopped")
	}
}
