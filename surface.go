package canopy

// FrameSurface is the back-buffer chain of one screen.
type FrameSurface interface {
	// RequestFrame returns the next back buffer. realloc asks the surface to
	// drop its buffers first, after a pixel-format change. ErrNoFrame (or
	// any error) makes the screen skip the frame and retry on the next vsync.
	RequestFrame(w, h int, format PixelFormat, realloc bool) (Frame, error)
}

// Frame is one acquired back buffer.
type Frame interface {
	Canvas() Canvas
	// BufferAge is the number of frames since this buffer was last
	// presented; zero when its content is undefined.
	BufferAge() int
	// Flush finishes drawing. damage is in bottom-left-origin surface
	// coordinates. The returned handle names the buffer as a client target
	// layer.
	Flush(damage Region) (BufferHandle, error)
}

// SurfaceFactory creates the surface of a screen.
type SurfaceFactory interface {
	CreateSurface(screen ScreenID, w, h int) (FrameSurface, error)
}

// LayerCommitter accepts a screen's finished layer list.
type LayerCommitter interface {
	CommitAndReleaseLayers(output ScreenID, layers []Layer, param RefreshRateParam)
}
