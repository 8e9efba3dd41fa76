// Package canopy is the scene-graph core of a display compositor.
//
// Clients describe what each output shows as a tree of [Node] values owned
// by a [Scene]. A vsync-driven main loop ([Compositor.OnVsync]) applies their
// transactions, advances animations and walks the tree; every node changed
// during the frame is committed to its render-side [Drawable] in a single
// drain of the [PendingSync] registry. The frame is then posted to the
// [RenderThread], whose [ScreenDrawable] values decide per output whether to
// skip, re-submit the previous layers, compose from a mirror source or
// redraw, and finally to the [DisplayThread], which aligns each commit to
// vsync before handing it to the [HardwareComposer].
//
// # Threads
//
// Four goroutines cooperate, each with its own [Looper]:
//
//   - main: nodes, transactions, animations, traversal, sync drain
//   - render: screen drawables and their back buffers
//   - display: delayed hardware commits
//   - unmarshal: transaction payload decoding
//
// Nodes are only touched on the main goroutine. Drawables are written once
// per frame by the drain and read by the render goroutine; the two never
// overlap, and an attempt to do so is refused and reported through
// [Diagnostics] rather than blocking.
//
//	c := canopy.NewCompositor(canopy.Options{
//		Config:   canopy.DefaultConfig(),
//		Composer: composer,
//		Surfaces: surfaces,
//	})
//	svc := canopy.NewService(c, canopy.NewTickerVsync(60))
//	err := svc.Run(ctx)
//
// # Buffers
//
// Producer buffers are tracked by a [BufferLedger] from the transaction that
// presents them until the frame that last shows them has been committed,
// then returned to their producer exactly once with the composer's release
// fence.
//
// # Configuration
//
// Policy constants live in [Config], loaded from TOML with [LoadConfig] and
// reloaded at runtime by [WatchConfig].
//
// # Logging
//
// canopy is silent by default. Install a [log/slog] logger with [SetLogger].
//
// # Subpackages
//
//   - canopy/ebitenbackend: [Ebitengine] surfaces and a windowed preview composer
//   - canopy/dumpserver: websocket endpoint for state dumps and remote transactions
//   - canopy/ecs: [Donburi] sink for diagnostic events
//
// [Ebitengine]: https://ebitengine.org
// [Donburi]: https://github.com/yohamta/donburi
package canopy
