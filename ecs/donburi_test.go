package ecs

import (
	"testing"

	"github.com/phanxgames/canopy"

	"github.com/yohamta/donburi"
)

func TestNewDonburiSink(t *testing.T) {
	world := donburi.NewWorld()
	sink := NewDonburiSink(world)
	if sink == nil {
		t.Fatal("NewDonburiSink returned nil")
	}
}

func TestSink_FlushPublishes(t *testing.T) {
	world := donburi.NewWorld()
	sink := NewDonburiSink(world)

	var received []canopy.DiagnosticEvent
	DiagnosticEventType.Subscribe(world, func(w donburi.World, e canopy.DiagnosticEvent) {
		received = append(received, e)
	})

	sink.Emit(canopy.DiagnosticEvent{Kind: canopy.EventAccessViolation, Node: 42})
	sink.Emit(canopy.DiagnosticEvent{Kind: canopy.EventHardwareTimeout, Screen: 1, Count: 15})

	// Nothing reaches the world before Flush.
	DiagnosticEventType.ProcessEvents(world)
	if len(received) != 0 {
		t.Fatalf("received %d events before Flush, want 0", len(received))
	}

	if n := sink.Flush(); n != 2 {
		t.Fatalf("Flush = %d, want 2", n)
	}
	DiagnosticEventType.ProcessEvents(world)

	if len(received) != 2 {
		t.Fatalf("expected 2 events, got %d", len(received))
	}
	if received[0].Kind != canopy.EventAccessViolation || received[0].Node != 42 {
		t.Errorf("event 0: %+v", received[0])
	}
	if received[1].Kind != canopy.EventHardwareTimeout || received[1].Count != 15 {
		t.Errorf("event 1: %+v", received[1])
	}
}

func TestSink_ImplementsDiagnosticSink(t *testing.T) {
	world := donburi.NewWorld()
	var sink canopy.DiagnosticSink = NewDonburiSink(world)
	_ = sink // compile-time interface check
}

func TestSink_FromDiagnostics(t *testing.T) {
	world := donburi.NewWorld()
	sink := NewDonburiSink(world)

	var count int
	DiagnosticEventType.Subscribe(world, func(w donburi.World, e canopy.DiagnosticEvent) {
		count++
	})

	scene := canopy.NewScene()
	scene.Diagnostics().AddSink(sink)
	// Releasing an already returned buffer emits a double-release event.
	scene.Ledger().Acquire(7, 100)
	scene.Ledger().Drop(7)
	scene.Ledger().Release(100)

	sink.Flush()
	DiagnosticEventType.ProcessEvents(world)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
