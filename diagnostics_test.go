package canopy

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestDiagnosticsEmitStampsTime(t *testing.T) {
	d := NewDiagnostics()
	sink := &recordingSink{}
	d.AddSink(sink)
	d.emit(DiagnosticEvent{Kind: EventLoadWarning})
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.emit(DiagnosticEvent{Kind: EventLoadWarning, Time: at})

	if sink.kinds(EventLoadWarning) != 2 {
		t.Fatalf("events = %d, want 2", len(sink.events))
	}
	if sink.events[0].Time.IsZero() {
		t.Error("emit should stamp events without a time")
	}
	if !sink.events[1].Time.Equal(at) {
		t.Error("emit must keep an explicit time")
	}
}

func TestDiagnosticsSnapshotAndDump(t *testing.T) {
	d := NewDiagnostics()
	d.Frames.Add(3)
	d.DoubleReleases.Add(1)

	values := make(map[string]int64)
	for _, c := range d.Snapshot() {
		values[c.Name] = c.Value
	}
	if values["frames.total"] != 3 || values["buffers.double_releases"] != 1 {
		t.Errorf("snapshot = %v", values)
	}

	var buf bytes.Buffer
	if err := d.Dump(&buf); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(d.Snapshot()) {
		t.Errorf("dump has %d lines, want one per counter", len(lines))
	}
	if !strings.Contains(buf.String(), "frames.total") {
		t.Errorf("dump = %q", buf.String())
	}
}

func TestEventKindString(t *testing.T) {
	if EventHardwareTimeout.String() != "hardware-timeout" {
		t.Errorf("String = %q", EventHardwareTimeout.String())
	}
	if EventKind(99).String() != "event(99)" {
		t.Errorf("unknown kind = %q", EventKind(99).String())
	}
}
