// Package audit defines the structured event stream the swarm core pushes to
// an external telemetry/audit sink, plus a few in-process sink implementations.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType identifies what happened.
type EventType string

const (
	EventAgentRegistered   EventType = "agent_registered"
	EventAgentDeregistered EventType = "agent_deregistered"
	EventAgentTransitioned EventType = "agent_transitioned"
	EventProposalCreated   EventType = "proposal_created"
	EventVoteCast          EventType = "vote_cast"
	EventConsensusResolved EventType = "consensus_resolved"
	EventTrustObserved     EventType = "trust_observed"
	EventTaskListed        EventType = "task_listed"
	EventBidPlaced         EventType = "bid_placed"
	EventAuctionCompleted  EventType = "auction_completed"
	EventTaskAssigned      EventType = "task_assigned"
	EventTaskUnassigned    EventType = "task_unassigned"
	EventTaskCompleted     EventType = "task_completed"
	EventRouteSelected     EventType = "route_selected"
	EventReceiptIssued     EventType = "receipt_issued"
	EventError             EventType = "error"
)

// Event is a single audit record.
type Event struct {
	Type      EventType      `json:"type"`
	Component string         `json:"component"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
	Err       string         `json:"error,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(typ EventType, component string, fields map[string]any) Event {
	return Event{Type: typ, Component: component, Timestamp: time.Now(), Fields: fields}
}

// ErrorEvent records a failure raised by a component.
func ErrorEvent(component, op string, err error) Event {
	e := NewEvent(EventError, component, map[string]any{"op": op})
	if err != nil {
		e.Err = err.Error()
	}
	return e
}

// Sink receives audit events. Implementations must be safe for concurrent use
// and must not block the caller for long.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// Nop discards every event.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, Event) {}

// OrNop returns s, or a Nop sink when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// Multi fans an event out to several sinks in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs every event at info level and error
// events at warn level.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.With(zap.String("component", "audit"))}
}

// Emit implements Sink.
func (s *LogSink) Emit(_ context.Context, event Event) {
	fields := make([]zap.Field, 0, len(event.Fields)+3)
	fields = append(fields,
		zap.String("event", string(event.Type)),
		zap.String("source", event.Component),
		zap.Time("at", event.Timestamp),
	)
	for k, v := range event.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	if event.Type == EventError {
		s.logger.Warn("audit", append(fields, zap.String("error", event.Err))...)
		return
	}
	s.logger.Info("audit", fields...)
}

// Memory keeps every event in memory. Intended for tests and debugging.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Emit implements Sink.
func (m *Memory) Emit(_ context.Context, event Event) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Count returns how many events of the given type were recorded.
func (m *Memory) Count(typ EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// Reset clears recorded events.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}
