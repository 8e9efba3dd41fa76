// Package ecs provides ECS adapters for canopy's diagnostic events.
//
// The primary adapter is [NewDonburiSink], which forwards canopy diagnostic
// events (access violations, forced transaction advances, hardware commit
// timeouts, load warnings) into a [Donburi] world as typed events.
// Subscribe to [DiagnosticEventType] in your ECS systems to receive them.
//
// Usage:
//
//	sink := ecs.NewDonburiSink(world)
//	compositor.Diagnostics().AddSink(sink)
//
// Events are published from pipeline goroutines and queued by the sink;
// call [Sink.Flush] from the goroutine that owns the world.
//
// [Donburi]: https://github.com/yohamta/donburi
package ecs
