package canopy

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestLooperPriorityOrder(t *testing.T) {
	l := NewLooper("test", 0, newManualClock())
	var order []string
	post := func(p Priority, name string) {
		if err := l.Post(p, func() { order = append(order, name) }); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	post(PriorityLow, "low")
	post(PriorityNormal, "normal-1")
	post(PriorityImmediate, "immediate")
	post(PriorityNormal, "normal-2")
	post(PriorityHigh, "high")

	if n := l.RunPending(); n != 5 {
		t.Fatalf("RunPending = %d, want 5", n)
	}
	want := []string{"immediate", "high", "normal-1", "normal-2", "low"}
	if !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestLooperDelayed(t *testing.T) {
	clock := newManualClock()
	l := NewLooper("test", 0, clock)
	var order []int
	l.PostDelayed(PriorityNormal, 10*time.Millisecond, func() { order = append(order, 10) })
	l.PostDelayed(PriorityNormal, 5*time.Millisecond, func() { order = append(order, 5) })

	if n := l.RunPending(); n != 0 {
		t.Fatalf("ran %d tasks before they were due", n)
	}
	clock.Advance(5 * time.Millisecond)
	l.RunPending()
	clock.Advance(5 * time.Millisecond)
	l.RunPending()
	if !slices.Equal(order, []int{5, 10}) {
		t.Errorf("order = %v, want [5 10]", order)
	}
}

func TestLooperNestedPost(t *testing.T) {
	l := NewLooper("test", 0, newManualClock())
	ran := 0
	l.Post(PriorityNormal, func() {
		ran++
		l.Post(PriorityNormal, func() { ran++ })
	})
	if n := l.RunPending(); n != 2 || ran != 2 {
		t.Errorf("RunPending = %d, ran = %d, want 2", n, ran)
	}
}

func TestLooperCapacity(t *testing.T) {
	l := NewLooper("test", 2, newManualClock())
	l.Post(PriorityNormal, func() {})
	l.PostDelayed(PriorityNormal, time.Second, func() {})
	if err := l.Post(PriorityNormal, func() {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Post on a full looper = %v, want ErrQueueFull", err)
	}
	if l.Len() != 2 {
		t.Errorf("Len = %d, want 2", l.Len())
	}
}

func TestLooperRunAndStop(t *testing.T) {
	l := NewLooper("test", 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	done := make(chan struct{})
	if err := l.PostDelayed(PriorityNormal, time.Millisecond, func() { close(done) }); err != nil {
		t.Fatalf("PostDelayed: %v", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("delayed task never ran")
	}

	l.Stop()
	if err := <-errc; err != nil {
		t.Errorf("Run = %v", err)
	}
	if err := l.Post(PriorityNormal, func() {}); !errors.Is(err, ErrLooperStopped) {
		t.Errorf("Post after Stop = %v, want ErrLooperStopped", err)
	}
}
