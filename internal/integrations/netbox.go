package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/reconciler"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// NetBoxConfig configures the pull side of the NetBox integration
// (devices/virtual-machines import), distinct from the push side
// (NetBoxPushConfig) since the original system authenticates and targets
// each direction independently.
type NetBoxConfig struct {
	APIURL string
	APIToken string
}

const (
	netboxDeviceEndpoint = "/dcim/devices/"
	netboxVMEndpoint     = "/virtualization/virtual-machines/"

	watermarkKeyDevices = "sync.netbox.devices.last_updated"
	watermarkKeyVMs     = "sync.netbox.vms.last_updated"

	sourceNetBox = "netbox"
)

// netboxAPIBaseURL normalizes the configured base URL, adding the "/api"
// suffix NetBox's REST API lives under unless the operator already
// included it. Grounded on _netbox_api_base_url.
func netboxAPIBaseURL(raw string) string {
	base := strings.TrimSuffix(strings.TrimSpace(raw), "/")
	if base == "" {
		return ""
	}
	if strings.HasSuffix(base, "/api") {
		return base
	}
	return base + "/api"
}

// netboxAuthHeaderValue mirrors _netbox_auth_header_value: NetBox accepts
// either a pre-formed "Token <value>"/"Bearer <value>" or a bare token.
func netboxAuthHeaderValue(token string) string {
	value := strings.TrimSpace(token)
	if value == "" {
		return ""
	}
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "bearer ") || strings.HasPrefix(lower, "token ") {
		return value
	}
	return "Bearer " + value
}

// netboxExtractName reads the "name" field off a nested NetBox reference
// object ({"id":.., "name":..}), returning "" when absent. Grounded on
// _netbox_extract_name.
func netboxExtractName(v any) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	name, _ := obj["name"].(string)
	return name
}

// NetBoxImporter pulls devices and virtual machines from NetBox
// incrementally and reconciles each record as a CI.
type NetBoxImporter struct {
	store   store.Store
	poster  *httpPoster
	clock   clock.Clock
	cfg     NetBoxConfig
	logger  *slog.Logger
}

// NewNetBoxImporter builds a NetBoxImporter.
func NewNetBoxImporter(st store.Store, clk clock.Clock, cfg NetBoxConfig, sourceSystem string, logger *slog.Logger) *NetBoxImporter {
	return &NetBoxImporter{
		store:  st,
		poster: newHTTPPoster(logger, sourceSystem),
		clock:  clk,
		cfg:    cfg,
		logger: logger,
	}
}

type netboxPage struct {
	Results []map[string]any `json:"results"`
	Next    *string          `json:"next"`
}

// collect pages through one NetBox list endpoint, applying the stored
// watermark as last_updated__gte, until limit items are gathered or the
// endpoint is exhausted. It reports whether the endpoint was exhausted
// (no further pages remained) and the maximum last_updated seen, so the
// caller can decide whether to advance the watermark.
func (n *NetBoxImporter) collect(ctx context.Context, endpoint, watermarkKey string, limit int) (items []map[string]any, maxLastUpdated string, exhausted bool, err error) {
	base := netboxAPIBaseURL(n.cfg.APIURL)
	if base == "" {
		return nil, "", false, &Error{Kind: "invalid_target_url", Message: "netbox_url_missing"}
	}
	auth := netboxAuthHeaderValue(n.cfg.APIToken)
	if auth == "" {
		return nil, "", false, &Error{Kind: "invalid_target_url", Message: "netbox_token_missing"}
	}

	watermark := ""
	state, getErr := n.store.GetSyncState(ctx, watermarkKey)
	if getErr != nil && !errors.Is(getErr, store.ErrNotFound) {
		return nil, "", false, fmt.Errorf("read watermark %s: %w", watermarkKey, getErr)
	}
	if state != nil {
		watermark = state.Value
	}

	query := url.Values{}
	query.Set("limit", "100")
	if watermark != "" {
		query.Set("last_updated__gte", watermark)
	}
	next := base + endpoint + "?" + query.Encode()
	headers := map[string]string{"Accept": "application/json", "Authorization": auth}

	for next != "" && len(items) < limit {
		resp, reqErr := n.poster.getJSON(ctx, next, headers)
		if reqErr != nil {
			return items, maxLastUpdated, false, &Error{Kind: "delivery_failed", Message: "netbox_pull_failed"}
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return items, maxLastUpdated, false, &Error{Kind: "delivery_failed", Message: "netbox_pull_failed"}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return items, maxLastUpdated, false, &Error{Kind: "upstream_rejected", Message: "netbox_pull_rejected", StatusCode: resp.StatusCode}
		}

		var page netboxPage
		if err := json.Unmarshal(body, &page); err != nil {
			return items, maxLastUpdated, false, &Error{Kind: "delivery_failed", Message: "netbox_pull_decode_failed"}
		}
		for _, record := range page.Results {
			if len(items) >= limit {
				break
			}
			items = append(items, record)
			if lu, ok := record["last_updated"].(string); ok && lu > maxLastUpdated {
				maxLastUpdated = lu
			}
		}

		if page.Next != nil && *page.Next != "" {
			next = *page.Next
		} else {
			next = ""
		}
	}

	return items, maxLastUpdated, next == "", nil
}

func deviceRecordToPayload(record map[string]any) reconciler.Payload {
	id := record["id"]
	name, _ := record["name"].(string)
	if name == "" {
		name = fmt.Sprintf("netbox-device-%v", id)
	}
	attributes := map[string]any{
		"environment":   "unknown",
		"netbox_object": "device",
	}
	setIfNonEmpty(attributes, "netbox_status", netboxExtractName(record["status"]))
	setIfNonEmpty(attributes, "site", netboxExtractName(record["site"]))
	setIfNonEmpty(attributes, "role", netboxExtractName(record["role"]))
	setIfNonEmpty(attributes, "tenant", netboxExtractName(record["tenant"]))
	setIfNonEmpty(attributes, "primary_ip4", netboxExtractName(record["primary_ip4"]))
	setIfNonEmpty(attributes, "primary_ip6", netboxExtractName(record["primary_ip6"]))
	if u, ok := record["url"].(string); ok && u != "" {
		attributes["url"] = u
	}

	idents := []reconciler.IdentityRef{{Scheme: "netbox_device_id", Value: fmt.Sprintf("%v", id)}}
	if name != "" {
		idents = append(idents, reconciler.IdentityRef{Scheme: "hostname", Value: name})
	}

	var owner *string
	if tenant := netboxExtractName(record["tenant"]); tenant != "" {
		owner = &tenant
	}

	return reconciler.Payload{
		Name:       name,
		CIType:     "netbox_device",
		Owner:      owner,
		Attributes: attributes,
		Identities: idents,
	}
}

func vmRecordToPayload(record map[string]any) reconciler.Payload {
	id := record["id"]
	name, _ := record["name"].(string)
	if name == "" {
		name = fmt.Sprintf("netbox-vm-%v", id)
	}
	attributes := map[string]any{
		"environment":   "unknown",
		"netbox_object": "virtual_machine",
	}
	setIfNonEmpty(attributes, "netbox_status", netboxExtractName(record["status"]))
	setIfNonEmpty(attributes, "cluster", netboxExtractName(record["cluster"]))
	setIfNonEmpty(attributes, "role", netboxExtractName(record["role"]))
	setIfNonEmpty(attributes, "tenant", netboxExtractName(record["tenant"]))
	setIfNonEmpty(attributes, "primary_ip4", netboxExtractName(record["primary_ip4"]))
	setIfNonEmpty(attributes, "primary_ip6", netboxExtractName(record["primary_ip6"]))
	for _, key := range []string{"vcpus", "memory", "disk"} {
		if v, ok := record[key]; ok && v != nil {
			attributes[key] = v
		}
	}
	if u, ok := record["url"].(string); ok && u != "" {
		attributes["url"] = u
	}

	idents := []reconciler.IdentityRef{{Scheme: "netbox_vm_id", Value: fmt.Sprintf("%v", id)}}
	if name != "" {
		idents = append(idents, reconciler.IdentityRef{Scheme: "hostname", Value: name})
	}

	var owner *string
	if tenant := netboxExtractName(record["tenant"]); tenant != "" {
		owner = &tenant
	}

	return reconciler.Payload{
		Name:       name,
		CIType:     "netbox_vm",
		Owner:      owner,
		Attributes: attributes,
		Identities: idents,
	}
}

func setIfNonEmpty(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// ImportResult summarizes one Run.
type ImportResult struct {
	DevicesFetched int
	VMsFetched     int
	Reconciled     int
	Created        int
	Updated        int
	Collisions     int
	Errors         []string
}

// Run pulls devices then virtual machines (half the budget each, spec.md
// §4.4), reconciles every record through rec, and advances each
// endpoint's watermark only when that endpoint's pull was exhausted
// (not cut short by limit) and this is not a dry run.
func (n *NetBoxImporter) Run(ctx context.Context, limit int, dryRun bool, rec *reconciler.Reconciler) (ImportResult, error) {
	if limit < 1 {
		return ImportResult{}, nil
	}
	half := limit / 2
	if half < 1 {
		half = 1
	}
	remaining := limit - half
	if remaining < 1 {
		remaining = 1
	}

	result := ImportResult{}

	devices, deviceWatermark, deviceExhausted, err := n.collect(ctx, netboxDeviceEndpoint, watermarkKeyDevices, half)
	if err != nil {
		return result, err
	}
	vms, vmWatermark, vmExhausted, err := n.collect(ctx, netboxVMEndpoint, watermarkKeyVMs, remaining)
	if err != nil {
		return result, err
	}

	result.DevicesFetched = len(devices)
	result.VMsFetched = len(vms)

	for _, record := range devices {
		_, created, collisions, err := rec.Reconcile(ctx, sourceNetBox, deviceRecordToPayload(record))
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Reconciled++
		result.Collisions += collisions
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}
	for _, record := range vms {
		_, created, collisions, err := rec.Reconcile(ctx, sourceNetBox, vmRecordToPayload(record))
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Reconciled++
		result.Collisions += collisions
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	if !dryRun {
		now := n.clock.Now()
		if deviceExhausted && deviceWatermark != "" {
			if err := n.store.SetSyncState(ctx, watermarkKeyDevices, deviceWatermark, now); err != nil {
				return result, fmt.Errorf("advance device watermark: %w", err)
			}
		}
		if vmExhausted && vmWatermark != "" {
			if err := n.store.SetSyncState(ctx, watermarkKeyVMs, vmWatermark, now); err != nil {
				return result, fmt.Errorf("advance vm watermark: %w", err)
			}
		}
	}

	return result, nil
}
