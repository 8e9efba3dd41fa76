package canopy

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testPayload = `{"index": 1, "commands": [{"op": "create", "id": 5, "kind": "canvas"}]}`

func TestUnmarshalInlineBeforeRun(t *testing.T) {
	diag := NewDiagnostics()
	q := NewTransactionQueue(diag)
	u := NewUnmarshalWorker(q, diag, 4)

	if err := u.Submit(3, []byte(testPayload)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := q.Collect(time.Now(), time.Second)
	if len(got) != 1 || got[0].Sender != 3 {
		t.Fatalf("queued = %v, want one transaction from sender 3", got)
	}
	if u.Inflight() != 0 {
		t.Errorf("Inflight = %d, want 0", u.Inflight())
	}
}

func TestUnmarshalRejectsBadPayload(t *testing.T) {
	diag := NewDiagnostics()
	q := NewTransactionQueue(diag)
	u := NewUnmarshalWorker(q, diag, 4)

	if err := u.Submit(1, []byte("not json")); err == nil {
		t.Error("inline decode should report the error")
	}
	if diag.CommandErrors.Load() != 1 {
		t.Errorf("CommandErrors = %d, want 1", diag.CommandErrors.Load())
	}
	if q.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", q.Pending())
	}
}

func TestUnmarshalRun(t *testing.T) {
	diag := NewDiagnostics()
	q := NewTransactionQueue(diag)
	u := NewUnmarshalWorker(q, diag, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- u.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !u.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("worker did not start")
		}
		time.Sleep(time.Millisecond)
	}
	if err := u.Submit(2, []byte(testPayload)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !u.WaitIdle(ctx, 2*time.Second) {
		t.Fatal("WaitIdle timed out")
	}
	if q.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", q.Pending())
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestUnmarshalQueueFull(t *testing.T) {
	diag := NewDiagnostics()
	u := NewUnmarshalWorker(NewTransactionQueue(diag), diag, 1)
	// Running without a consumer: the buffer fills up.
	u.running.Store(true)

	if err := u.Submit(1, []byte(testPayload)); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := u.Submit(1, []byte(testPayload)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Submit = %v, want ErrQueueFull", err)
	}
	if u.Inflight() != 1 {
		t.Errorf("Inflight = %d, want 1", u.Inflight())
	}
	if u.WaitIdle(context.Background(), 10*time.Millisecond) {
		t.Error("WaitIdle should time out with a payload in flight")
	}
}

func TestUnmarshalStopDrainsAndRejects(t *testing.T) {
	diag := NewDiagnostics()
	q := NewTransactionQueue(diag)
	u := NewUnmarshalWorker(q, diag, 4)
	u.running.Store(true)
	if err := u.Submit(2, []byte(testPayload)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := u.Run(ctx); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if q.Pending() != 1 || u.Inflight() != 0 {
		t.Errorf("Pending = %d, Inflight = %d, want the accepted payload decoded", q.Pending(), u.Inflight())
	}

	if err := u.Submit(2, []byte(testPayload)); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Submit after Run = %v, want ErrWorkerStopped", err)
	}
	if u.Inflight() != 0 {
		t.Errorf("Inflight = %d, want 0", u.Inflight())
	}
	if !u.WaitIdle(context.Background(), 10*time.Millisecond) {
		t.Error("WaitIdle should not wait on a rejected payload")
	}
}
