// Package events carries operational events out of the domain services.
// Publishing is fire-and-forget: a failed emit is logged by the publisher
// and never fails the business operation that produced the event.
package events

import (
	"context"
	"sync"
	"time"
)

// Kind names an event for consumers.
type Kind string

const (
	KindDonationRecorded     Kind = "donation_recorded"
	KindBloodAllocated       Kind = "blood_allocated"
	KindAllocationRolledBack Kind = "allocation_rolled_back"
	KindRequestCancelled     Kind = "request_cancelled"
	KindUnitsExpired         Kind = "units_expired"
	KindAlertRaised          Kind = "alert_raised"
	KindBacklogProcessed     Kind = "backlog_processed"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Kind      Kind              `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Subject   string            `json:"subject,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Publisher emits events for operationally relevant actions.
type Publisher interface {
	Emit(ctx context.Context, event Event)
}

// MemoryPublisher collects events in memory; used in tests and as the
// default sink when Kafka is not configured.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory constructs an empty in-memory publisher.
func NewMemory() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Emit(_ context.Context, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	p.events = append(p.events, event)
}

// Events returns a snapshot of everything emitted so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Nop is a publisher that discards everything.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}
