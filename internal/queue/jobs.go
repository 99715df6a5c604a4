package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/integrations"
	"github.com/unifiedcmdb/cmdb-core/internal/reconciler"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// classifyIntegrationsError maps an *integrations.Error into the handler
// error hierarchy classifyError understands, so a delivery rejection and
// a job-handler failure speak the same vocabulary.
func classifyIntegrationsError(err error) error {
	var intErr *integrations.Error
	if !errors.As(err, &intErr) {
		return &UpstreamRequestError{Err: err}
	}
	switch intErr.Kind {
	case "upstream_rejected":
		return &UpstreamHTTPError{StatusCode: intErr.StatusCode}
	case "invalid_target_url":
		return SlugError(intErr.Message)
	default:
		return &UpstreamRequestError{Err: intErr}
	}
}

func intFromPayload(payload map[string]any, key string, def int) int {
	v, ok := payload[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	default:
		return def
	}
}

func boolFromPayload(payload map[string]any, key string, def bool) bool {
	v, ok := payload[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// NewNetBoxImportHandler builds the netbox.import job handler: pull
// devices/virtual-machines incrementally and reconcile each as a CI.
func NewNetBoxImportHandler(importer *integrations.NetBoxImporter, rec *reconciler.Reconciler, defaultLimit int) JobHandler {
	return func(ctx context.Context, job *domain.SyncJob) (map[string]any, error) {
		limit := intFromPayload(job.Payload, "limit", defaultLimit)
		dryRun := boolFromPayload(job.Payload, "dry_run", false)

		result, err := importer.Run(ctx, limit, dryRun, rec)
		if err != nil {
			return nil, classifyIntegrationsError(err)
		}
		return map[string]any{
			"devices_fetched": result.DevicesFetched,
			"vms_fetched":     result.VMsFetched,
			"reconciled":      result.Reconciled,
			"errors":          result.Errors,
		}, nil
	}
}

func ciToBackstagePayload(ci *domain.CI) map[string]any {
	m := map[string]any{
		"id":             ci.ID,
		"name":           ci.Name,
		"ciClass":        ci.CIType,
		"status":         string(ci.Status),
		"lifecycleState": string(ci.Status),
		"sourceSystem":   ci.Source,
	}
	if ci.Owner != nil {
		m["owner"] = *ci.Owner
	}
	if len(ci.Attributes) > 0 {
		attrs := make(map[string]any, len(ci.Attributes))
		for k, v := range ci.Attributes {
			attrs[k] = v
		}
		m["attributes"] = attrs
		if env, ok := ci.Attributes["environment"]; ok {
			m["environment"] = env
		}
	}
	return m
}

// NewBackstageSyncHandler builds the backstage.sync job handler: page
// through every CI and push the whole set as one bulk ingest call.
func NewBackstageSyncHandler(st store.Store, publisher *integrations.Publisher, defaultLimit int) JobHandler {
	return func(ctx context.Context, job *domain.SyncJob) (map[string]any, error) {
		limit := intFromPayload(job.Payload, "limit", defaultLimit)
		dryRun := boolFromPayload(job.Payload, "dry_run", false)

		cis, err := st.ListCIs(ctx, store.CIFilter{Limit: limit})
		if err != nil {
			return nil, &UpstreamRequestError{Err: fmt.Errorf("list cis: %w", err)}
		}

		items := make([]map[string]any, 0, len(cis))
		for _, ci := range cis {
			items = append(items, ciToBackstagePayload(ci))
		}

		if dryRun {
			return map[string]any{"attempted": len(items), "status": "dry_run"}, nil
		}

		result := publisher.PublishBackstageBulkCIs(ctx, items, "")
		if result.Status == integrations.DeliveryFailed {
			if result.StatusCode > 0 {
				return nil, &UpstreamHTTPError{StatusCode: result.StatusCode}
			}
			return nil, &UpstreamRequestError{Err: errors.New(result.Reason)}
		}
		return map[string]any{"attempted": len(items), "status": string(result.Status)}, nil
	}
}
