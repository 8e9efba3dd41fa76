package canopy

import "errors"

var (
	// ErrQueueFull is returned when a bounded task or transaction queue is at capacity.
	ErrQueueFull = errors.New("canopy: queue full")
	// ErrLooperStopped is returned when posting to a looper that has been stopped.
	ErrLooperStopped = errors.New("canopy: looper stopped")
	// ErrWorkerStopped is returned when submitting to a worker whose Run has returned.
	ErrWorkerStopped = errors.New("canopy: worker stopped")
	// ErrDuplicateNode is returned when a node id is registered twice.
	ErrDuplicateNode = errors.New("canopy: duplicate node id")
	// ErrUnknownNode is returned by commands that reference a node id that does
	// not exist. Callers treat it as "nothing to do".
	ErrUnknownNode = errors.New("canopy: unknown node")
	// ErrNoFrame is returned by a FrameSurface that cannot provide a back buffer.
	ErrNoFrame = errors.New("canopy: no frame buffer available")
	// ErrWrongKind is returned when a command targets a node of the wrong kind.
	ErrWrongKind = errors.New("canopy: command not valid for node kind")
)
