package ebitenbackend

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello", "hello"},
		{"after-spawn", "after-spawn"},
		{"frame.01", "frame.01"},
		{"has spaces", "has_spaces"},
		{"path/to/thing", "path_to_thing"},
		{"special!@#$%", "special_____"},
		{"", "unlabeled"},
		{"   ", "unlabeled"},
	}
	for _, tt := range tests {
		got := sanitizeLabel(tt.in)
		if got != tt.want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnpremultiply(t *testing.T) {
	pixels := []byte{
		128, 64, 0, 128, // half alpha
		10, 20, 30, 255, // opaque
		0, 0, 0, 0, // transparent
	}
	img := unpremultiply(pixels, 3, 1)
	want := []byte{255, 127, 0, 128, 10, 20, 30, 255, 0, 0, 0, 0}
	for i, w := range want {
		if img.Pix[i] != w {
			t.Errorf("Pix[%d] = %d, want %d", i, img.Pix[i], w)
		}
	}
}

func TestScreenshotPath(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	got := screenshotPath("shots", "after move", at)
	want := filepath.Join("shots", "20240309_140506_after_move.png")
	if got != want {
		t.Errorf("screenshotPath = %q, want %q", got, want)
	}
}

func TestPreviewScreenshotQueue(t *testing.T) {
	p := NewPreview(t.Context(), NewComposer(NewBufferStore()), PreviewConfig{})
	p.Screenshot("a")
	p.Screenshot("b")
	if len(p.queue) != 2 || p.queue[0] != "a" || p.queue[1] != "b" {
		t.Errorf("queue = %v, want [a b]", p.queue)
	}
	if p.cfg.ScreenshotDir != "screenshots" {
		t.Errorf("ScreenshotDir = %q, want %q", p.cfg.ScreenshotDir, "screenshots")
	}
	if w, h := p.Layout(0, 0); w != 640 || h != 480 {
		t.Errorf("Layout = %dx%d, want 640x480", w, h)
	}
}
