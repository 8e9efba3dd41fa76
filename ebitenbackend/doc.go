// Package ebitenbackend renders canopy screens with Ebitengine.
//
// A [Factory] gives every screen a [Surface]: a ring of offscreen back
// buffers that reports EGL-style buffer ages so partial redraws stay
// correct. Frames draw through a [Canvas] backed by [ebiten.Image]. Producer
// buffers and flushed back buffers are registered in one [BufferStore],
// which is also the compositor's buffer releaser.
//
// [Composer] stands in for the display hardware. It keeps the last layer
// list of every output and a [Preview] window draws one of them:
//
//	store := ebitenbackend.NewBufferStore()
//	composer := ebitenbackend.NewComposer(store)
//	c := canopy.NewCompositor(canopy.Options{
//		Composer: composer,
//		Surfaces: ebitenbackend.NewFactory(store),
//		Releaser: store,
//	})
//	preview := ebitenbackend.NewPreview(ctx, composer, ebitenbackend.PreviewConfig{Output: 1})
//	vsync := ebitenbackend.NewGameVsync()
//	preview.AttachVsync(vsync)
//	go canopy.NewService(c, vsync).Run(ctx)
//	err := preview.Run()
package ebitenbackend
