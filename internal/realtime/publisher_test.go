package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/telemetry"
)

func TestEventPublisher_PublishAuditEvent(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, eventBus.Start(ctx))
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	ciID := "ci-1"
	ev := &domain.AuditEvent{
		ID:        "evt-1",
		CIID:      &ciID,
		EventType: domain.EventCICreated,
		Payload:   map[string]any{"name": "host-1"},
		CreatedAt: time.Now(),
	}

	err := publisher.PublishAuditEvent(ev)
	assert.NoError(t, err)
}

func TestEventPublisher_PublishTelemetrySnapshot(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, eventBus.Start(ctx))
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	snap := telemetry.New(telemetry.DefaultRules()).Snapshot()
	err := publisher.PublishTelemetrySnapshot(snap)
	assert.NoError(t, err)
}

func TestEventPublisher_PublishSystemNotification(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, eventBus.Start(ctx))
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	err := publisher.PublishSystemNotification("info", "system maintenance scheduled")
	assert.NoError(t, err)
}

func TestEventPublisher_NilEventBus(t *testing.T) {
	publisher := NewEventPublisher(nil, slog.Default(), nil)

	ev := &domain.AuditEvent{ID: "evt-1", EventType: domain.EventCICreated, CreatedAt: time.Now()}
	assert.NoError(t, publisher.PublishAuditEvent(ev))
	assert.NoError(t, publisher.PublishSystemNotification("info", "hello"))
}
