// Package drift compares a CI's CMDB record against its NetBox and
// Backstage representations and applies operator-selected corrections
// back onto the CI (spec.md §4.9). Grounded on
// original_source/app/services/drift.py and the
// /cis/{ci_id}/drift/resolve handler in
// original_source/app/routers/cis.py.
package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/integrations"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// Status is the per-source drift comparison result.
type Status string

const (
	StatusMatched       Status = "matched"
	StatusDrift         Status = "drift"
	StatusMissing       Status = "missing"
	StatusUnavailable   Status = "unavailable"
	StatusError         Status = "error"
	StatusNotApplicable Status = "not_applicable"
)

// RESOLVABLE_CI_FIELDS equivalent: the CI fields drift resolution may
// overwrite.
var resolvableFields = map[string]bool{"name": true, "ci_type": true, "owner": true}

// SourceState is one source's (NetBox or Backstage) drift finding for a
// single CI.
type SourceState struct {
	Status     Status          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Target     map[string]any  `json:"target,omitempty"`
	Mismatches []FieldMismatch `json:"mismatches,omitempty"`
}

// FieldMismatch names one field and the value each side holds.
type FieldMismatch struct {
	Field  string `json:"field"`
	CMDB   any    `json:"cmdb"`
	Target any    `json:"target"`
}

// Snapshot is the full per-CI drift comparison across both integrations.
type Snapshot struct {
	CIID          string         `json:"ci_id"`
	OverallStatus string         `json:"overall_status"`
	CMDB          map[string]any `json:"cmdb"`
	NetBox        SourceState    `json:"netbox"`
	Backstage     SourceState    `json:"backstage"`
}

// Config carries the NetBox/Backstage read endpoints drift comparison
// needs; it deliberately does not reuse internal/integrations.Config
// because that type configures outbound publishing, a distinct concern
// from read-only drift comparison, matching how the original keeps
// drift.py's own settings reads separate from integrations.py's.
type Config struct {
	NetBoxAPIURL         string
	NetBoxAPIToken       string
	BackstageCatalogURL  string
	BackstageCatalogToken string
	Environment          string
}

// Detector computes and resolves per-CI drift.
type Detector struct {
	store  store.Store
	clock  clock.Clock
	cfg    Config
	client *http.Client
}

// New builds a Detector.
func New(st store.Store, clk clock.Clock, cfg Config) *Detector {
	return &Detector{
		store: st, clock: clk, cfg: cfg,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

func ciProjection(ci *domain.CI) map[string]any {
	environment := "unknown"
	if v, ok := ci.Attributes["environment"]; ok {
		if s, ok := v.(string); ok && s != "" {
			environment = s
		}
	}
	owner := ""
	if ci.Owner != nil {
		owner = *ci.Owner
	}
	return map[string]any{
		"id": ci.ID, "name": ci.Name, "ci_type": ci.CIType, "owner": owner,
		"status": string(ci.Status), "environment": environment, "source": ci.Source,
	}
}

func compareFields(reference, target map[string]any, fields []string) []FieldMismatch {
	var mismatches []FieldMismatch
	for _, field := range fields {
		if reference[field] != target[field] {
			mismatches = append(mismatches, FieldMismatch{Field: field, CMDB: reference[field], Target: target[field]})
		}
	}
	return mismatches
}

func netboxAuthHeaderValue(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	lower := strings.ToLower(token)
	if strings.HasPrefix(lower, "bearer ") || strings.HasPrefix(lower, "token ") {
		return token
	}
	return "Bearer " + token
}

func netboxAPIBaseURL(base string) string {
	if base == "" {
		return ""
	}
	if strings.HasSuffix(base, "/api") {
		return base
	}
	return base + "/api"
}

func (d *Detector) netboxState(ctx context.Context, ci *domain.CI) SourceState {
	validated, err := integrations.ValidateOutboundURL(d.cfg.NetBoxAPIURL, "netbox", d.cfg.Environment)
	if err != nil || validated == "" {
		return SourceState{Status: StatusUnavailable, Reason: "netbox_api_url_missing"}
	}
	auth := netboxAuthHeaderValue(d.cfg.NetBoxAPIToken)
	if auth == "" {
		return SourceState{Status: StatusUnavailable, Reason: "netbox_api_token_missing"}
	}

	identities, err := d.store.ListIdentitiesForCI(ctx, ci.ID)
	if err != nil {
		return SourceState{Status: StatusError, Reason: "request_failed"}
	}
	var deviceID, vmID string
	for _, identity := range identities {
		switch identity.Scheme {
		case "netbox_device_id":
			deviceID = identity.Value
		case "netbox_vm_id":
			vmID = identity.Value
		}
	}

	base := netboxAPIBaseURL(strings.TrimRight(validated, "/"))
	var targetURL, kind string
	switch {
	case deviceID != "":
		targetURL = fmt.Sprintf("%s/dcim/devices/%s/", base, deviceID)
		kind = "device"
	case vmID != "":
		targetURL = fmt.Sprintf("%s/virtualization/virtual-machines/%s/", base, vmID)
		kind = "virtual_machine"
	default:
		return SourceState{Status: StatusNotApplicable, Reason: "no_netbox_identity"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return SourceState{Status: StatusError, Reason: "request_failed", Kind: kind}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", auth)
	resp, err := d.client.Do(req)
	if err != nil {
		return SourceState{Status: StatusError, Reason: "request_failed", Kind: kind}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return SourceState{Status: StatusMissing, Reason: "not_found", Kind: kind}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SourceState{Status: StatusError, Reason: "request_failed", Kind: kind}
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return SourceState{Status: StatusError, Reason: "invalid_response", Kind: kind}
	}

	target := map[string]any{
		"name":  payload["name"],
		"owner": netboxTenantName(payload["tenant"]),
	}
	cmdbProjection := ciProjection(ci)
	mismatches := compareFields(cmdbProjection, target, []string{"name"})
	status := StatusMatched
	if len(mismatches) > 0 {
		status = StatusDrift
	}
	return SourceState{Status: status, Kind: kind, Target: target, Mismatches: mismatches}
}

func netboxTenantName(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m["name"]
}

func (d *Detector) backstageState(ctx context.Context, ci *domain.CI) SourceState {
	validated, err := integrations.ValidateOutboundURL(d.cfg.BackstageCatalogURL, "backstage", d.cfg.Environment)
	if err != nil || validated == "" {
		return SourceState{Status: StatusUnavailable, Reason: "backstage_catalog_url_missing"}
	}
	base := strings.TrimRight(validated, "/")

	filterValue := url.QueryEscape(fmt.Sprintf("metadata.annotations.unifiedcmdb.io/ci-id=%s", ci.ID))
	target := fmt.Sprintf("%s/entities/by-query?filter=%s&limit=1", base, filterValue)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return SourceState{Status: StatusError, Reason: "request_failed"}
	}
	req.Header.Set("Accept", "application/json")
	token := strings.TrimSpace(d.cfg.BackstageCatalogToken)
	if token != "" {
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			req.Header.Set("Authorization", token)
		} else {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return SourceState{Status: StatusError, Reason: "request_failed"}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return SourceState{Status: StatusMissing, Reason: "not_found"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SourceState{Status: StatusError, Reason: "request_failed"}
	}
	var payload struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return SourceState{Status: StatusError, Reason: "invalid_response"}
	}
	if len(payload.Items) == 0 {
		return SourceState{Status: StatusMissing, Reason: "not_found"}
	}
	entity := payload.Items[0]
	metadata, _ := entity["metadata"].(map[string]any)
	spec, _ := entity["spec"].(map[string]any)

	name := stringField(metadata, "title")
	if name == "" {
		name = stringField(metadata, "name")
	}
	targetProjection := map[string]any{
		"name":    name,
		"ci_type": stringField(spec, "type"),
		"owner":   stringField(spec, "owner"),
	}
	cmdbProjection := ciProjection(ci)
	mismatches := compareFields(cmdbProjection, targetProjection, []string{"name", "ci_type", "owner"})
	status := StatusMatched
	if len(mismatches) > 0 {
		status = StatusDrift
	}
	return SourceState{Status: status, Target: targetProjection, Mismatches: mismatches}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Compute produces a full drift snapshot for a CI.
func (d *Detector) Compute(ctx context.Context, ci *domain.CI) Snapshot {
	netbox := d.netboxState(ctx, ci)
	backstage := d.backstageState(ctx, ci)
	overall := "clean"
	if isDriftDetected(netbox.Status) || isDriftDetected(backstage.Status) {
		overall = "drift_detected"
	}
	return Snapshot{
		CIID: ci.ID, OverallStatus: overall,
		CMDB: ciProjection(ci), NetBox: netbox, Backstage: backstage,
	}
}

func isDriftDetected(s Status) bool {
	return s == StatusDrift || s == StatusMissing || s == StatusError
}

// ResolveRequest is the operator-submitted drift resolution input.
type ResolveRequest struct {
	Source string
	Fields []string
}

// ResolveResult reports what was applied to the CI and what was
// skipped, alongside the audit payload already appended.
type ResolveResult struct {
	Source          string                 `json:"source"`
	RequestedFields []string               `json:"requested_fields"`
	Applied         map[string]FieldChange `json:"applied"`
	IgnoredFields   []string               `json:"ignored_fields"`
}

// FieldChange records a single before/after pair.
type FieldChange struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

var unresolvableSourceStatuses = map[Status]bool{
	StatusUnavailable: true, StatusError: true, StatusMissing: true, StatusNotApplicable: true,
}

// Resolve applies an operator's selected source/fields onto a CI,
// matching resolve_ci_drift's semantics exactly: source=="cmdb" records
// intent with no mutation, any other source applies non-nil target
// field values for fields in the resolvable set, skipping anything
// else into ignored_fields.
func (d *Detector) Resolve(ctx context.Context, ciID, principal string, req ResolveRequest) (*ResolveResult, error) {
	requestedFields := make([]string, 0, len(req.Fields))
	for _, f := range req.Fields {
		if f != "" {
			requestedFields = append(requestedFields, f)
		}
	}
	if len(requestedFields) == 0 {
		return nil, fmt.Errorf("at least one field must be selected for drift resolution")
	}

	ci, err := d.store.GetCI(ctx, ciID)
	if err != nil {
		return nil, fmt.Errorf("get ci %s: %w", ciID, err)
	}

	applied := map[string]FieldChange{}
	var ignored []string

	if req.Source == "cmdb" {
		ignored = append(ignored, requestedFields...)
	} else {
		snapshot := d.Compute(ctx, ci)
		var sourceState SourceState
		switch req.Source {
		case "netbox":
			sourceState = snapshot.NetBox
		case "backstage":
			sourceState = snapshot.Backstage
		default:
			return nil, fmt.Errorf("unknown drift source %q", req.Source)
		}
		if unresolvableSourceStatuses[sourceState.Status] {
			return nil, fmt.Errorf("cannot resolve from %s because source status is %s", req.Source, sourceState.Status)
		}
		if sourceState.Target == nil {
			return nil, fmt.Errorf("%s drift target is unavailable", req.Source)
		}

		for _, field := range requestedFields {
			if !resolvableFields[field] {
				ignored = append(ignored, field)
				continue
			}
			incoming, ok := sourceState.Target[field]
			if !ok || incoming == nil {
				ignored = append(ignored, field)
				continue
			}
			coerced := coerceToString(incoming)
			existing := ciFieldValue(ci, field)
			if existing != coerced {
				setCIField(ci, field, coerced)
				applied[field] = FieldChange{Before: existing, After: coerced}
			}
		}

		if len(applied) > 0 {
			ci.Source = req.Source
		}
	}

	if len(applied) > 0 {
		ci.UpdatedAt = d.clock.Now()
		if err := d.store.UpdateCI(ctx, ci); err != nil {
			return nil, fmt.Errorf("update ci %s: %w", ciID, err)
		}
	}

	ciIDCopy := ci.ID
	if err := d.store.AppendAudit(ctx, &domain.AuditEvent{
		ID: uuid.NewString(), CIID: &ciIDCopy, EventType: domain.EventCIDriftResolved,
		Payload: map[string]any{
			"ci_id": ci.ID, "source": req.Source, "requested_fields": requestedFields,
			"applied": applied, "ignored_fields": ignored, "requested_by": principal,
		},
		CreatedAt: d.clock.Now(),
	}); err != nil {
		return nil, fmt.Errorf("append audit for drift resolution on ci %s: %w", ciID, err)
	}

	return &ResolveResult{Source: req.Source, RequestedFields: requestedFields, Applied: applied, IgnoredFields: ignored}, nil
}

func ciFieldValue(ci *domain.CI, field string) string {
	switch field {
	case "name":
		return ci.Name
	case "ci_type":
		return ci.CIType
	case "owner":
		if ci.Owner == nil {
			return ""
		}
		return *ci.Owner
	default:
		return ""
	}
}

func setCIField(ci *domain.CI, field, value string) {
	switch field {
	case "name":
		ci.Name = value
	case "ci_type":
		ci.CIType = value
	case "owner":
		ci.Owner = &value
	}
}

func coerceToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
