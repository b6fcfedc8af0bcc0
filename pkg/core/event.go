package core

import (
	"context"
	"time"
)

// EventCategory groups audit events by origin.
type EventCategory string

const (
	CategoryTransition EventCategory = "transition"
	CategoryPlanning   EventCategory = "planning"
	CategoryInvocation EventCategory = "invocation"
	CategoryApproval   EventCategory = "approval"
	CategoryError      EventCategory = "error"
	CategoryEscalation EventCategory = "escalation"
)

// EventLevel is the severity of an audit event.
type EventLevel string

const (
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// AuditEvent is one structured record emitted for every transition,
// invocation, and error during a run.
type AuditEvent struct {
	Timestamp time.Time
	Actor     string
	RunID     string
	Category  EventCategory
	Level     EventLevel
	Details   map[string]any
}

// AuditSink receives audit events. Implementations must tolerate
// concurrent use from independent runs.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// NoopAuditSink discards every event.
type NoopAuditSink struct{}

// Record implements AuditSink.
func (NoopAuditSink) Record(_ context.Context, _ AuditEvent) {}

// NewAuditEvent builds an event with a UTC timestamp.
func NewAuditEvent(actor, runID string, category EventCategory, level EventLevel, details map[string]any) AuditEvent {
	return AuditEvent{
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		RunID:     runID,
		Category:  category,
		Level:     level,
		Details:   details,
	}
}
