// Package ecs provides ECS adapters for canopy.
package ecs

import (
	"sync"

	"github.com/phanxgames/canopy"

	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/features/events"
)

// DiagnosticEventType is the Donburi event type for canopy diagnostic events.
var DiagnosticEventType = events.NewEventType[canopy.DiagnosticEvent]()

// Sink is a canopy.DiagnosticSink backed by a Donburi world.
type Sink struct {
	world donburi.World

	mu      sync.Mutex
	pending []canopy.DiagnosticEvent
}

// NewDonburiSink creates a sink publishing to world. Emitted events are
// buffered until Flush, since a Donburi world is not safe for concurrent use.
func NewDonburiSink(world donburi.World) *Sink {
	return &Sink{world: world}
}

// Emit buffers ev. Safe for concurrent use.
func (s *Sink) Emit(ev canopy.DiagnosticEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
}

// Flush publishes the buffered events to the world and returns how many
// were published. Subscribers run on the next ProcessEvents.
func (s *Sink) Flush() int {
	s.mu.Lock()
	evs := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, ev := range evs {
		DiagnosticEventType.Publish(s.world, ev)
	}
	return len(evs)
}

var _ canopy.DiagnosticSink = (*Sink)(nil)
