package canopy

import (
	"fmt"
	"sync"
)

// Fence is a release fence returned by the hardware composer. NoFence means
// the buffer may be reused immediately.
type Fence int64

const NoFence Fence = -1

// ReleaseFences maps each consumed buffer to the fence its producer must
// wait on before reuse.
type ReleaseFences map[BufferHandle]Fence

// BufferReleaser hands a buffer back to its producer. ReleaseBuffer is
// called with the ledger locked and must not call back into it.
type BufferReleaser interface {
	ReleaseBuffer(h BufferHandle, fence Fence)
}

type bufferState struct {
	owner      NodeID
	holds      int
	superseded bool
	fence      Fence
}

// releasedHistory bounds how many released handles are remembered for
// double-release detection.
const releasedHistory = 1024

// BufferLedger tracks producer buffers from acquisition to release so each
// one goes back to its producer exactly once. A buffer is released when it
// has been superseded (a newer buffer arrived or its node was destroyed) and
// no in-flight frame holds it.
type BufferLedger struct {
	mu       sync.Mutex
	buffers  map[BufferHandle]*bufferState
	current  map[NodeID]BufferHandle
	// released remembers the most recently released handles; tombs counts
	// each handle's occurrences in the ring.
	released []BufferHandle
	next     int
	tombs    map[BufferHandle]int
	releaser BufferReleaser
	diag     *Diagnostics
}

// NewBufferLedger returns an empty ledger. releaser may be nil.
func NewBufferLedger(releaser BufferReleaser, diag *Diagnostics) *BufferLedger {
	return &BufferLedger{
		buffers:  make(map[BufferHandle]*bufferState),
		current:  make(map[NodeID]BufferHandle),
		tombs:    make(map[BufferHandle]int),
		releaser: releaser,
		diag:     diag,
	}
}

// SetReleaser replaces the producer callback.
func (l *BufferLedger) SetReleaser(r BufferReleaser) {
	l.mu.Lock()
	l.releaser = r
	l.mu.Unlock()
}

// Acquire records h as node's current buffer. The node's previous buffer is
// superseded.
func (l *BufferLedger) Acquire(node NodeID, h BufferHandle) {
	if h == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.current[node]
	if prev == h {
		return
	}
	if st, ok := l.buffers[h]; ok {
		// Already live under another owner: take it over.
		if l.current[st.owner] == h {
			delete(l.current, st.owner)
		}
		st.owner = node
		st.superseded = false
	} else {
		l.buffers[h] = &bufferState{owner: node, fence: NoFence}
		l.diag.BuffersAcquired.Add(1)
	}
	l.current[node] = h
	if prev != 0 {
		l.supersedeLocked(prev)
	}
}

// Drop supersedes node's current buffer, for a destroyed node.
func (l *BufferLedger) Drop(node NodeID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.current[node]; ok {
		delete(l.current, node)
		l.supersedeLocked(h)
	}
}

// Hold pins buffers for an in-flight frame.
func (l *BufferLedger) Hold(hs []BufferHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range hs {
		if st, ok := l.buffers[h]; ok {
			st.holds++
		}
	}
}

// Unhold releases the pins taken by Hold once the frame has been submitted
// or abandoned. fences may be nil.
func (l *BufferLedger) Unhold(hs []BufferHandle, fences ReleaseFences) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range hs {
		st, ok := l.buffers[h]
		if !ok || st.holds == 0 {
			continue
		}
		st.holds--
		if f, ok := fences[h]; ok {
			st.fence = f
		}
		if st.holds == 0 && st.superseded {
			l.releaseLocked(h, st)
		}
	}
}

// Release returns h to its producer now. Releasing a buffer twice is counted
// and otherwise ignored.
func (l *BufferLedger) Release(h BufferHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.buffers[h]
	if !ok {
		if l.tombs[h] > 0 {
			l.diag.DoubleReleases.Add(1)
			l.diag.emit(DiagnosticEvent{Kind: EventDoubleRelease, Message: fmt.Sprintf("buffer %d", h)})
		}
		return
	}
	if l.current[st.owner] == h {
		delete(l.current, st.owner)
	}
	l.releaseLocked(h, st)
}

// Outstanding returns the number of acquired buffers not yet released.
func (l *BufferLedger) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffers)
}

// Current returns node's current buffer, or 0.
func (l *BufferLedger) Current(node NodeID) BufferHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current[node]
}

func (l *BufferLedger) supersedeLocked(h BufferHandle) {
	st, ok := l.buffers[h]
	if !ok {
		return
	}
	st.superseded = true
	if st.holds == 0 {
		l.releaseLocked(h, st)
	}
}

// releaseLocked forgets h and hands it back to its producer. Only the last
// releasedHistory handles are kept, so a producer reusing a handle id starts
// from a clean entry.
func (l *BufferLedger) releaseLocked(h BufferHandle, st *bufferState) {
	delete(l.buffers, h)
	l.remember(h)
	l.diag.BuffersReleased.Add(1)
	if l.releaser != nil {
		l.releaser.ReleaseBuffer(h, st.fence)
	}
}

func (l *BufferLedger) remember(h BufferHandle) {
	if len(l.released) < releasedHistory {
		l.released = append(l.released, h)
	} else {
		old := l.released[l.next]
		if l.tombs[old]--; l.tombs[old] <= 0 {
			delete(l.tombs, old)
		}
		l.released[l.next] = h
		l.next = (l.next + 1) % releasedHistory
	}
	l.tombs[h]++
}
