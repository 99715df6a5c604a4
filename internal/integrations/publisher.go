// Package integrations publishes CI and relationship events to NetBox and
// Backstage, and pulls devices/virtual machines back from NetBox
// incrementally. Grounded on
// original_source/app/services/integrations.py.
package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
)

// NetBoxPushConfig configures outbound event delivery to NetBox, distinct
// from NetBoxConfig's pull-side credentials.
type NetBoxPushConfig struct {
	Enabled bool
	URL     string
	Token   string
}

// BackstageConfig configures the Backstage Catalog ingest integration.
type BackstageConfig struct {
	Enabled bool
	URL     string
	Token   string
	Secret  string
}

// Config is everything the Publisher needs.
type Config struct {
	SourceSystemName string
	Environment      string
	NetBoxPush       NetBoxPushConfig
	Backstage        BackstageConfig
}

// Publisher fans CI/relationship events out to the configured
// integrations. Each delivery is independent and best-effort; a failure
// on one target never prevents the other from being attempted.
type Publisher struct {
	cfg    Config
	poster *httpPoster
	clock  clock.Clock
	logger *slog.Logger
}

// New builds a Publisher.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:    cfg,
		poster: newHTTPPoster(logger, cfg.SourceSystemName),
		clock:  clk,
		logger: logger,
	}
}

// EventResult is the per-target outcome of one PublishCIEvent/
// PublishRelationshipEvent call.
type EventResult struct {
	NetBox    DeliveryResult `json:"netbox"`
	Backstage DeliveryResult `json:"backstage"`
}

// PublishCIEvent publishes a ci.created/ci.updated event. payload is the
// CI represented as a JSON-shaped map (id, name, ciClass, environment,
// attributes, ...), matching the wire shape the API layer already
// produces for responses.
func (p *Publisher) PublishCIEvent(ctx context.Context, eventType string, payload map[string]any, correlationID string) EventResult {
	result := EventResult{}

	if p.cfg.NetBoxPush.Enabled {
		url, err := ValidateOutboundURL(p.cfg.NetBoxPush.URL, "netbox", p.cfg.Environment)
		if err != nil {
			result.NetBox = DeliveryResult{Status: DeliveryFailed, Reason: err.(*Error).Message}
		} else {
			result.NetBox = p.poster.postJSON(ctx, "netbox", url, p.cfg.NetBoxPush.Token, correlationID, eventEnvelope(eventType, p.cfg.SourceSystemName, payload))
		}
	} else {
		result.NetBox = DeliveryResult{Status: DeliverySkipped, Reason: "netbox_sync_disabled"}
	}

	result.Backstage = p.publishBackstageCIEvent(ctx, eventType, payload, correlationID)
	return result
}

// PublishRelationshipEvent publishes a relationship.created event.
func (p *Publisher) PublishRelationshipEvent(ctx context.Context, payload map[string]any, correlationID string) EventResult {
	result := EventResult{}
	eventType := "relationship.created"

	if p.cfg.NetBoxPush.Enabled {
		url, err := ValidateOutboundURL(p.cfg.NetBoxPush.URL, "netbox", p.cfg.Environment)
		if err != nil {
			result.NetBox = DeliveryResult{Status: DeliveryFailed, Reason: err.(*Error).Message}
		} else {
			result.NetBox = p.poster.postJSON(ctx, "netbox", url, p.cfg.NetBoxPush.Token, correlationID, eventEnvelope(eventType, p.cfg.SourceSystemName, payload))
		}
	} else {
		result.NetBox = DeliveryResult{Status: DeliverySkipped, Reason: "netbox_sync_disabled"}
	}

	if !p.cfg.Backstage.Enabled {
		result.Backstage = DeliveryResult{Status: DeliverySkipped, Reason: "backstage_sync_disabled"}
		return result
	}
	token := backstageToken(p.cfg.Backstage, p.clock.Now(), p.logger)
	if token == "" {
		result.Backstage = DeliveryResult{Status: DeliverySkipped, Reason: "backstage_auth_missing"}
		return result
	}
	item := relationshipToBackstageItem(payload, p.cfg.SourceSystemName)
	if item == nil {
		result.Backstage = DeliveryResult{Status: DeliverySkipped, Reason: "invalid_relationship_payload"}
		return result
	}
	result.Backstage = p.postBackstage(ctx, "relationships:bulk", token, correlationID, []map[string]any{item})
	return result
}

func (p *Publisher) publishBackstageCIEvent(ctx context.Context, eventType string, payload map[string]any, correlationID string) DeliveryResult {
	if !p.cfg.Backstage.Enabled {
		return DeliveryResult{Status: DeliverySkipped, Reason: "backstage_sync_disabled"}
	}
	if eventType != "ci.created" && eventType != "ci.updated" {
		return DeliveryResult{Status: DeliverySkipped, Reason: "unsupported_event_type"}
	}
	token := backstageToken(p.cfg.Backstage, p.clock.Now(), p.logger)
	if token == "" {
		return DeliveryResult{Status: DeliverySkipped, Reason: "backstage_auth_missing"}
	}
	item := ciToBackstageItem(payload, p.cfg.SourceSystemName)
	return p.postBackstage(ctx, "cis:bulk", token, correlationID, []map[string]any{item})
}

// PublishBackstageBulkCIs is the catalog-wide bulk variant used by the
// backstage.sync job (spec.md §4.5), pushing every CI in one request.
func (p *Publisher) PublishBackstageBulkCIs(ctx context.Context, items []map[string]any, correlationID string) DeliveryResult {
	if !p.cfg.Backstage.Enabled {
		return DeliveryResult{Status: DeliverySkipped, Reason: "backstage_sync_disabled"}
	}
	token := backstageToken(p.cfg.Backstage, p.clock.Now(), p.logger)
	if token == "" {
		return DeliveryResult{Status: DeliverySkipped, Reason: "backstage_auth_missing"}
	}
	mapped := make([]map[string]any, 0, len(items))
	for _, item := range items {
		mapped = append(mapped, ciToBackstageItem(item, p.cfg.SourceSystemName))
	}
	return p.postBackstage(ctx, "cis:bulk", token, correlationID, mapped)
}

func (p *Publisher) postBackstage(ctx context.Context, kind, token, correlationID string, items []map[string]any) DeliveryResult {
	url, err := ValidateOutboundURL(backstageIngestURL(p.cfg.Backstage.URL, kind), "backstage", p.cfg.Environment)
	if err != nil {
		return DeliveryResult{Status: DeliveryFailed, Reason: err.(*Error).Message}
	}
	if url == "" {
		return DeliveryResult{Status: DeliverySkipped, Reason: "backstage_url_missing"}
	}
	body := map[string]any{
		"sourceSystem": p.cfg.SourceSystemName,
		"items":        items,
	}
	return p.poster.postJSON(ctx, "backstage", url, token, correlationID, body)
}

func eventEnvelope(eventType, sourceSystem string, payload map[string]any) map[string]any {
	return map[string]any{
		"eventType":    eventType,
		"sourceSystem": sourceSystem,
		"payload":      payload,
	}
}

// backstageIngestURL appends the right /ingest/<kind> suffix, replacing
// one already present rather than doubling it up (an operator may
// configure either the bare catalog base URL or a URL already pointing
// at one ingest kind). Grounded on _backstage_ingest_url.
func backstageIngestURL(base, kind string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(base), "/")
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndex(trimmed, "/ingest/"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return fmt.Sprintf("%s/ingest/%s", trimmed, kind)
}
