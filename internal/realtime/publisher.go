package realtime

import (
	"log/slog"
	"strings"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/telemetry"
)

// EventPublisher publishes domain events onto an EventBus so dashboard
// subscribers see them as they happen.
type EventPublisher struct {
	eventBus *DefaultEventBus
	logger   *slog.Logger
	metrics  *RealtimeMetrics
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(eventBus *DefaultEventBus, logger *slog.Logger, metrics *RealtimeMetrics) *EventPublisher {
	return &EventPublisher{
		eventBus: eventBus,
		logger:   logger.With("component", "event_publisher"),
		metrics:  metrics,
	}
}

// eventSourceForType derives a broadcast Source from an audit event's
// closed-vocabulary prefix (e.g. "governance.collision.detected" -> "governance").
func eventSourceForType(eventType string) string {
	prefix, _, found := strings.Cut(eventType, ".")
	if !found {
		return EventSourceSystem
	}
	switch prefix {
	case "ci":
		return EventSourceReconciler
	case "governance":
		return EventSourceGovernance
	case "sync":
		return EventSourceQueue
	case "schedule":
		return EventSourceScheduler
	case "approval":
		return EventSourceApproval
	default:
		return EventSourceSystem
	}
}

// PublishAuditEvent broadcasts an audit log entry to subscribers as it is
// recorded, using the entry's own event_type as the broadcast Type.
func (p *EventPublisher) PublishAuditEvent(ev *domain.AuditEvent) error {
	if p.eventBus == nil || ev == nil {
		return nil
	}

	data := map[string]interface{}{
		"id":         ev.ID,
		"event_type": ev.EventType,
		"payload":    ev.Payload,
		"created_at": ev.CreatedAt,
	}
	if ev.CIID != nil {
		data["ci_id"] = *ev.CIID
	}

	event := NewEvent(ev.EventType, data, eventSourceForType(ev.EventType))
	return p.eventBus.Publish(*event)
}

// PublishTelemetrySnapshot broadcasts a telemetry rule-evaluation snapshot
// (spec.md §4.10) to subscribers.
func (p *EventPublisher) PublishTelemetrySnapshot(snap telemetry.Snapshot) error {
	if p.eventBus == nil {
		return nil
	}

	active := make([]map[string]interface{}, 0, len(snap.ActiveAlerts))
	for _, a := range snap.ActiveAlerts {
		active = append(active, map[string]interface{}{
			"id": a.ID, "event": a.Event, "severity": a.Severity,
			"message": a.Message, "current": a.Current,
		})
	}

	data := map[string]interface{}{
		"window_seconds": snap.WindowSeconds,
		"counts":         snap.Counts,
		"active_alerts":  active,
	}

	event := NewEvent(EventTypeTelemetry, data, EventSourceTelemetry)
	return p.eventBus.Publish(*event)
}

// PublishSystemNotification publishes an operator-facing system notice that
// is not itself part of the audit taxonomy (e.g. a scheduler or integration
// degraded-mode warning).
func (p *EventPublisher) PublishSystemNotification(level string, message string) error {
	if p.eventBus == nil {
		return nil
	}

	data := map[string]interface{}{
		"level":   level, // info, warning, error
		"message": message,
	}

	event := NewEvent(EventTypeSystemNotice, data, EventSourceSystem)
	return p.eventBus.Publish(*event)
}
