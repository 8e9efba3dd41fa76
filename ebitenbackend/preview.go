package ebitenbackend

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/phanxgames/canopy"
)

// PreviewConfig configures a preview window.
type PreviewConfig struct {
	Title         string
	Width, Height int
	// Output is the screen shown in the window.
	Output canopy.ScreenID
	// ScreenshotDir receives PNGs queued with Screenshot. Defaults to
	// "screenshots".
	ScreenshotDir string
}

// Preview is an ebiten.Game showing one output of a Composer.
type Preview struct {
	ctx      context.Context
	composer *Composer
	cfg      PreviewConfig

	vsync *GameVsync

	mu    sync.Mutex
	queue []string
}

// NewPreview returns a preview of cfg.Output that exits when ctx is done.
func NewPreview(ctx context.Context, composer *Composer, cfg PreviewConfig) *Preview {
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = "screenshots"
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 640, 480
	}
	return &Preview{ctx: ctx, composer: composer, cfg: cfg}
}

// AttachVsync makes every update tick v.
func (p *Preview) AttachVsync(v *GameVsync) { p.vsync = v }

// Screenshot queues a capture of the next drawn frame.
func (p *Preview) Screenshot(label string) {
	p.mu.Lock()
	p.queue = append(p.queue, label)
	p.mu.Unlock()
}

// Update implements ebiten.Game.
func (p *Preview) Update() error {
	if p.ctx.Err() != nil {
		return ebiten.Termination
	}
	if p.vsync != nil {
		p.vsync.tick(time.Now())
	}
	return nil
}

// Draw implements ebiten.Game.
func (p *Preview) Draw(screen *ebiten.Image) {
	p.composer.Compose(screen, p.cfg.Output)
	p.flushScreenshots(screen)
}

// Layout implements ebiten.Game.
func (p *Preview) Layout(_, _ int) (int, int) {
	return p.cfg.Width, p.cfg.Height
}

func (p *Preview) flushScreenshots(screen *ebiten.Image) {
	p.mu.Lock()
	labels := p.queue
	p.queue = nil
	p.mu.Unlock()
	if len(labels) == 0 {
		return
	}
	if err := os.MkdirAll(p.cfg.ScreenshotDir, 0o755); err != nil {
		canopy.Logger().Warn("screenshot", "dir", p.cfg.ScreenshotDir, "err", err)
		return
	}
	img := Capture(screen)
	now := time.Now()
	for _, label := range labels {
		path := screenshotPath(p.cfg.ScreenshotDir, label, now)
		if err := writePNG(path, img); err != nil {
			canopy.Logger().Warn("screenshot", "err", err)
			continue
		}
		canopy.Logger().Info("screenshot saved", "path", path)
	}
}

// Run opens the preview window and blocks until it is closed or ctx is done.
// It must be called from the main goroutine.
func (p *Preview) Run() error {
	ebiten.SetWindowTitle(p.cfg.Title)
	ebiten.SetWindowSize(p.cfg.Width, p.cfg.Height)
	return ebiten.RunGame(p)
}
