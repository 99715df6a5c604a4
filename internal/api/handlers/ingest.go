package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/reconciler"
)

// ciBulkItem accepts either a canonical payload (name/ciType/identities) or
// the "connector" shape (ciClass/canonicalName/technicalOwner/...), per
// ingest.py's _parse_ci_bulk_request.
type ciBulkItem struct {
	// Canonical shape
	Name       string              `json:"name"`
	CIType     string              `json:"ciType"`
	Owner      *string             `json:"owner"`
	Attributes domain.Attributes   `json:"attributes"`
	Identities []identityRefInput  `json:"identities"`

	// Connector shape
	CIClass        string  `json:"ciClass"`
	CanonicalName  string  `json:"canonicalName"`
	Environment    string  `json:"environment"`
	LifecycleState string  `json:"lifecycleState"`
	SupportGroup   string  `json:"supportGroup"`
	BusinessOwner  string  `json:"businessOwner"`
	Criticality    string  `json:"criticality"`
	CostCenter     string  `json:"costCenter"`
	TechnicalOwner *string `json:"technicalOwner"`
}

type identityRefInput struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

func (item ciBulkItem) isConnectorShape() bool {
	return item.CIClass != "" || item.CanonicalName != ""
}

// toPayload converts the request item to reconciler.Payload, synthesizing a
// canonical_name identity for connector-shape items that named no
// identities of their own.
func (item ciBulkItem) toPayload() reconciler.Payload {
	if !item.isConnectorShape() {
		idents := make([]reconciler.IdentityRef, 0, len(item.Identities))
		for _, id := range item.Identities {
			idents = append(idents, reconciler.IdentityRef{Scheme: id.Scheme, Value: id.Value})
		}
		return reconciler.Payload{
			Name:       item.Name,
			CIType:     item.CIType,
			Owner:      item.Owner,
			Attributes: item.Attributes,
			Identities: idents,
		}
	}

	attrs := domain.Attributes{}
	setAttr(attrs, "environment", item.Environment)
	setAttr(attrs, "support_group", item.SupportGroup)
	setAttr(attrs, "business_owner", item.BusinessOwner)
	setAttr(attrs, "criticality", item.Criticality)
	setAttr(attrs, "cost_center", item.CostCenter)

	owner := item.TechnicalOwner
	if owner == nil && item.BusinessOwner != "" {
		owner = &item.BusinessOwner
	}

	idents := make([]reconciler.IdentityRef, 0, len(item.Identities)+1)
	for _, id := range item.Identities {
		idents = append(idents, reconciler.IdentityRef{Scheme: id.Scheme, Value: id.Value})
	}
	if len(idents) == 0 {
		idents = append(idents, reconciler.IdentityRef{Scheme: "canonical_name", Value: item.CanonicalName})
	}

	ciType := item.CIClass
	if ciType == "" {
		ciType = "unknown"
	}
	status := item.LifecycleState

	if status != "" {
		attrs["lifecycle_state_hint"] = status
	}

	return reconciler.Payload{
		Name:       item.CanonicalName,
		CIType:     ciType,
		Owner:      owner,
		Attributes: attrs,
		Identities: idents,
	}
}

func setAttr(m domain.Attributes, key, value string) {
	if value != "" {
		m[key] = value
	}
}

type ciBulkRequest struct {
	Source       string       `json:"source"`
	SourceSystem string       `json:"sourceSystem"`
	CIs          []ciBulkItem `json:"cis"`
	Items        []ciBulkItem `json:"items"`
}

func (req ciBulkRequest) source() string {
	if req.Source != "" {
		return req.Source
	}
	if req.SourceSystem != "" {
		return req.SourceSystem
	}
	return "connector"
}

func (req ciBulkRequest) items() []ciBulkItem {
	if len(req.CIs) > 0 {
		return req.CIs
	}
	return req.Items
}

// IngestCIsBulk handles POST /ingest/cis:bulk?dryRun.
//
// dryRun runs shape validation only and reports how many items would be
// staged, without calling the reconciler or writing to the store: the
// Reconciler commits its own transaction per item, so there is no single
// outer transaction this handler could roll back the way
// ingest_cis_bulk's execute-then-rollback does across a whole batch.
func (s *Server) IngestCIsBulk(w http.ResponseWriter, r *http.Request) {
	var req ciBulkRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	items := req.items()
	if items == nil {
		s.writeError(w, r, apierrors.ValidationError("request body must include a cis or items array"))
		return
	}
	if len(items) > s.App.MaxBulkItems {
		s.writeError(w, r, apierrors.New(apierrors.CodePayloadTooLarge,
			fmt.Sprintf("batch of %d items exceeds max_bulk_items (%d)", len(items), s.App.MaxBulkItems)))
		return
	}

	dryRun := queryBool(r, "dryRun", false)
	source := req.source()
	correlationID := r.Header.Get("X-Correlation-Id")

	var created, updated, collisionsTotal int
	var errs []string

	if dryRun {
		for _, item := range items {
			payload := item.toPayload()
			if payload.Name == "" || len(payload.Identities) == 0 {
				errs = append(errs, "item missing name or identities")
			}
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"created":    0,
			"updated":    0,
			"collisions": 0,
			"staged":     len(items),
			"errors":     errs,
		})
		return
	}

	for _, item := range items {
		ci, wasCreated, collisions, err := s.Reconciler.Reconcile(r.Context(), source, item.toPayload())
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		collisionsTotal += collisions
		if wasCreated {
			created++
		} else {
			updated++
		}
		if ci != nil {
			s.Publisher.PublishCIEvent(r.Context(), "ci.ingested", ciEventPayload(ci, source), correlationID)
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"created":    created,
		"updated":    updated,
		"collisions": collisionsTotal,
		"staged":     created + updated,
		"errors":     errs,
	})
}

func ciEventPayload(ci *domain.CI, source string) map[string]any {
	environment, _ := ci.Attributes["environment"].(string)
	return map[string]any{
		"id":             ci.ID,
		"ciClass":        ci.CIType,
		"canonicalName":  ci.Name,
		"environment":    environment,
		"lifecycleState": string(ci.Status),
		"status":         string(ci.Status),
		"technicalOwner": ci.Owner,
		"sourceSystem":   source,
		"updatedAt":      ci.UpdatedAt,
	}
}

type relationshipBulkItem struct {
	FromCIID     string `json:"fromCiId"`
	ToCIID       string `json:"toCiId"`
	SourceCIID   string `json:"source_ci_id"`
	TargetCIID   string `json:"target_ci_id"`
	RelationType string `json:"relation_type"`
	Source       string `json:"source"`
}

func (item relationshipBulkItem) sourceID() string {
	if item.SourceCIID != "" {
		return item.SourceCIID
	}
	return item.FromCIID
}

func (item relationshipBulkItem) targetID() string {
	if item.TargetCIID != "" {
		return item.TargetCIID
	}
	return item.ToCIID
}

type relationshipBulkRequest struct {
	Source        string                 `json:"source"`
	Relationships []relationshipBulkItem `json:"relationships"`
	Items         []relationshipBulkItem `json:"items"`
}

func (req relationshipBulkRequest) items() []relationshipBulkItem {
	if len(req.Relationships) > 0 {
		return req.Relationships
	}
	return req.Items
}

// IngestRelationshipsBulk handles POST /ingest/relationships:bulk?dryRun.
func (s *Server) IngestRelationshipsBulk(w http.ResponseWriter, r *http.Request) {
	var req relationshipBulkRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	items := req.items()
	if items == nil {
		s.writeError(w, r, apierrors.ValidationError("request body must include a relationships or items array"))
		return
	}
	if len(items) > s.App.MaxBulkItems {
		s.writeError(w, r, apierrors.New(apierrors.CodePayloadTooLarge,
			fmt.Sprintf("batch of %d items exceeds max_bulk_items (%d)", len(items), s.App.MaxBulkItems)))
		return
	}

	dryRun := queryBool(r, "dryRun", false)
	source := req.Source
	if source == "" {
		source = "connector"
	}

	var createdCount, skipped int
	var errs []string

	for _, item := range items {
		srcID, dstID := item.sourceID(), item.targetID()
		if srcID == "" || dstID == "" {
			errs = append(errs, "relationship item missing source or target CI reference")
			continue
		}
		relType := item.RelationType
		if relType == "" {
			relType = "depends_on"
		}

		if _, err := s.Store.GetCI(r.Context(), srcID); err != nil {
			skipped++
			continue
		}
		if _, err := s.Store.GetCI(r.Context(), dstID); err != nil {
			skipped++
			continue
		}
		existing, err := s.Store.ListRelationships(r.Context(), srcID)
		if err == nil {
			duplicate := false
			for _, rel := range existing {
				if rel.SourceCIID == srcID && rel.TargetCIID == dstID && rel.RelationType == relType {
					duplicate = true
					break
				}
			}
			if duplicate {
				skipped++
				continue
			}
		}

		if dryRun {
			createdCount++
			continue
		}

		relSource := item.Source
		if relSource == "" {
			relSource = source
		}
		rel := newRelationship(srcID, dstID, relType, relSource, s.Clock.Now())
		if err := s.Store.CreateRelationship(r.Context(), rel); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		s.appendRelationshipAudit(r, "create", rel)
		s.Publisher.PublishRelationshipEvent(r.Context(), map[string]any{
			"source_ci_id":  rel.SourceCIID,
			"target_ci_id":  rel.TargetCIID,
			"relation_type": rel.RelationType,
		}, r.Header.Get("X-Correlation-Id"))
		createdCount++
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"created": createdCount,
		"skipped": skipped,
		"staged":  createdCount,
		"errors":  errs,
	})
}

func newRelationship(sourceCIID, targetCIID, relationType, source string, now time.Time) *domain.Relationship {
	return &domain.Relationship{
		ID:           uuid.NewString(),
		SourceCIID:   sourceCIID,
		TargetCIID:   targetCIID,
		RelationType: relationType,
		Source:       source,
		CreatedAt:    now,
	}
}
