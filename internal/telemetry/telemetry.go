// Package telemetry provides a write-only monitoring sink.
//
// The engine never blocks or fails on telemetry: Sink methods return
// nothing, and the default sink is a no-op. A real implementation can be
// swapped in at construction time when the user has opted in; nothing is
// transmitted anywhere by default.
package telemetry

import (
	"sync"
	"time"
)

// Sink receives best-effort monitoring signals from the engine.
// Implementations must not panic; callers never inspect an outcome.
type Sink interface {
	// RecordEvent records a named lifecycle event with optional fields.
	RecordEvent(name string, fields map[string]interface{})

	// RecordTiming records how long a named operation took.
	RecordTiming(name string, duration time.Duration)

	// RecordCount records a counter increment.
	RecordCount(name string, delta int)
}

// noopSink discards everything.
type noopSink struct{}

func (noopSink) RecordEvent(string, map[string]interface{}) {}
func (noopSink) RecordTiming(string, time.Duration)         {}
func (noopSink) RecordCount(string, int)                    {}

// Noop returns a sink that discards all signals.
func Noop() Sink {
	return noopSink{}
}

// MemorySink accumulates signals in memory. Used by tests and by hosts that
// want to surface recent engine activity without any external transmission.
type MemorySink struct {
	mu      sync.Mutex
	events  []RecordedEvent
	timings map[string][]time.Duration
	counts  map[string]int
}

// RecordedEvent is one captured event.
type RecordedEvent struct {
	Name   string
	Fields map[string]interface{}
	At     time.Time
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		timings: make(map[string][]time.Duration),
		counts:  make(map[string]int),
	}
}

// RecordEvent implements Sink.
func (s *MemorySink) RecordEvent(name string, fields map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, RecordedEvent{Name: name, Fields: fields, At: time.Now()})
}

// RecordTiming implements Sink.
func (s *MemorySink) RecordTiming(name string, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings[name] = append(s.timings[name], duration)
}

// RecordCount implements Sink.
func (s *MemorySink) RecordCount(name string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name] += delta
}

// Events returns a copy of the captured events.
func (s *MemorySink) Events() []RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Count returns the accumulated value for a counter.
func (s *MemorySink) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}
