// Package audit defines the append-only audit event recorder.
// Events are for external audit/indexing; the engine never reads them back.
package audit

import (
	"context"
	"sync"

	"databurn/internal/domain"
)

// Recorder appends audit events to a log.
type Recorder interface {
	// Record appends one event. Implementations must not mutate the event.
	Record(ctx context.Context, ev *domain.AuditEvent) error
}

// NoopRecorder discards all events.
type NoopRecorder struct{}

// NewNoopRecorder creates a recorder that drops everything.
func NewNoopRecorder() *NoopRecorder {
	return &NoopRecorder{}
}

// Record discards the event.
func (NoopRecorder) Record(_ context.Context, _ *domain.AuditEvent) error {
	return nil
}

// MemoryRecorder keeps events in memory, for tests and dry runs.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []*domain.AuditEvent
}

// NewMemoryRecorder creates an in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends the event.
func (r *MemoryRecorder) Record(_ context.Context, ev *domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of all recorded events in order.
func (r *MemoryRecorder) Events() []*domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns recorded events of one type, in order.
func (r *MemoryRecorder) ByType(eventType string) []*domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditEvent
	for _, ev := range r.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Compile-time interface checks.
var (
	_ Recorder = (*NoopRecorder)(nil)
	_ Recorder = (*MemoryRecorder)(nil)
)
