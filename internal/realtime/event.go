// Package realtime fans out append-only audit events and alert snapshots to
// dashboard subscribers (the live activity stream, SPEC_FULL.md §B) over a
// buffered broadcast channel.
package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a real-time event broadcast to subscribers.
type Event struct {
	// Type is the event type (mirrors the audit event taxonomy for audit
	// events, or one of the synthetic EventType* constants below).
	Type string `json:"type"`

	// ID is a unique event ID (UUID)
	ID string `json:"id"`

	// Data is the event payload (varies by event type)
	Data map[string]interface{} `json:"data"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Source is the event source (reconciler, governance, lifecycle, queue,
	// scheduler, approval, drift, telemetry, system).
	Source string `json:"source"`

	// Sequence is a sequence number for event ordering (monotonically increasing)
	Sequence int64 `json:"sequence"`
}

// EventType constants for synthetic dashboard events that are not
// themselves an audit log entry (audit events are broadcast using their own
// closed-vocabulary event_type as Event.Type).
const (
	EventTypeAudit        = "audit"
	EventTypeTelemetry    = "telemetry_snapshot"
	EventTypeSystemNotice = "system_notification"
)

// EventSource constants.
const (
	EventSourceReconciler = "reconciler"
	EventSourceGovernance = "governance"
	EventSourceLifecycle  = "lifecycle"
	EventSourceQueue      = "queue"
	EventSourceScheduler  = "scheduler"
	EventSourceApproval   = "approval"
	EventSourceDrift      = "drift"
	EventSourceTelemetry  = "telemetry"
	EventSourceSystem     = "system"
)

// NewEvent creates a new Event with the given type, data, and source.
func NewEvent(eventType string, data map[string]interface{}, source string) *Event {
	return &Event{
		Type:      eventType,
		ID:        generateEventID(),
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
		Sequence:  0, // Will be set by EventBus
	}
}

// generateEventID generates a unique event ID (UUID).
func generateEventID() string {
	return uuid.New().String()
}
