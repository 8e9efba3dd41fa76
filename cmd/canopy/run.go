package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phanxgames/canopy"
	"github.com/phanxgames/canopy/dumpserver"
	"github.com/phanxgames/canopy/ebitenbackend"
)

type runOptions struct {
	config  string
	rate    uint32
	width   int
	height  int
	preview bool
	dump    string
	debug   bool
}

func newRunCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the compositor with a demo scene",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.config, "config", "", "TOML config file, reloaded on change")
	f.Uint32Var(&o.rate, "rate", 0, "refresh rate in Hz (overrides the config)")
	f.IntVar(&o.width, "width", 640, "screen width")
	f.IntVar(&o.height, "height", 480, "screen height")
	f.BoolVar(&o.preview, "preview", false, "show the output in a window")
	f.StringVar(&o.dump, "dump", "", "serve state dumps on this address, e.g. :7070")
	f.BoolVar(&o.debug, "debug", false, "log per-frame statistics")
	return cmd
}

func run(ctx context.Context, o runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := canopy.DefaultConfig()
	if o.config != "" {
		var err error
		if cfg, err = canopy.LoadConfig(o.config); err != nil {
			return err
		}
	}
	if o.rate != 0 {
		cfg.RefreshRate = o.rate
	}
	cfg.Debug = cfg.Debug || o.debug
	if err := cfg.Validate(); err != nil {
		return err
	}

	store := ebitenbackend.NewBufferStore()
	composer := ebitenbackend.NewComposer(store)
	c := canopy.NewCompositor(canopy.Options{
		Config:   cfg,
		Composer: composer,
		Surfaces: ebitenbackend.NewFactory(store),
		Releaser: store,
	})

	d := newDemo(c, store, o.width, o.height)
	d.setup()

	var vsync canopy.VsyncSource = canopy.NewTickerVsync(cfg.RefreshRate)
	var preview *ebitenbackend.Preview
	if o.preview {
		gv := ebitenbackend.NewGameVsync()
		preview = ebitenbackend.NewPreview(ctx, composer, ebitenbackend.PreviewConfig{
			Title:  "canopy",
			Width:  o.width,
			Height: o.height,
			Output: demoOutput,
		})
		preview.AttachVsync(gv)
		vsync = gv
	}

	svc := canopy.NewService(c, vsync)
	svc.ConfigPath = o.config

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 3)
	go func() { errc <- svc.Run(ctx) }()
	go func() { errc <- d.run(ctx) }()
	if o.dump != "" {
		go func() { errc <- dumpserver.ListenAndServe(ctx, o.dump, "/dump", dumpserver.New(c)) }()
	}

	if preview != nil {
		// ebiten owns the main goroutine until the window closes.
		err := preview.Run()
		cancel()
		return err
	}
	select {
	case err := <-errc:
		cancel()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}
