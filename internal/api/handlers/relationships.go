package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
)

// ListRelationships handles GET /relationships. Grounded on
// relationships.py's list_relationships: ci_id matches either end,
// source_ci_id/target_ci_id/relation_type narrow further.
func (s *Server) ListRelationships(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryIntDefault(r, "limit", 200, 1, 2000)

	var all []*domain.Relationship
	var err error
	if ciID := q.Get("ci_id"); ciID != "" {
		all, err = s.Store.ListRelationships(r.Context(), ciID)
	} else {
		all, err = s.Store.ListAllRelationships(r.Context())
	}
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list relationships"))
		return
	}

	sourceCIID := q.Get("source_ci_id")
	targetCIID := q.Get("target_ci_id")
	relationType := q.Get("relation_type")

	filtered := make([]*domain.Relationship, 0, len(all))
	for _, rel := range all {
		if sourceCIID != "" && rel.SourceCIID != sourceCIID {
			continue
		}
		if targetCIID != "" && rel.TargetCIID != targetCIID {
			continue
		}
		if relationType != "" && rel.RelationType != relationType {
			continue
		}
		filtered = append(filtered, rel)
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	s.writeJSON(w, http.StatusOK, toRelationshipRecords(filtered))
}

type relationshipCreateRequest struct {
	SourceCIID   string `json:"source_ci_id"`
	TargetCIID   string `json:"target_ci_id"`
	RelationType string `json:"relation_type"`
	Source       string `json:"source"`
}

// CreateRelationship handles POST /relationships.
func (s *Server) CreateRelationship(w http.ResponseWriter, r *http.Request) {
	var body relationshipCreateRequest
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if body.SourceCIID == "" || body.TargetCIID == "" || body.RelationType == "" {
		s.writeError(w, r, apierrors.ValidationError("source_ci_id, target_ci_id and relation_type are required"))
		return
	}
	if _, err := s.Store.GetCI(r.Context(), body.SourceCIID); err != nil {
		s.writeError(w, r, apierrors.NotFound("source or target CI"))
		return
	}
	if _, err := s.Store.GetCI(r.Context(), body.TargetCIID); err != nil {
		s.writeError(w, r, apierrors.NotFound("source or target CI"))
		return
	}
	if body.Source == "" {
		body.Source = "manual"
	}

	rel := &domain.Relationship{
		ID:           uuid.NewString(),
		SourceCIID:   body.SourceCIID,
		TargetCIID:   body.TargetCIID,
		RelationType: body.RelationType,
		Source:       body.Source,
		CreatedAt:    s.Clock.Now(),
	}
	if err := s.Store.CreateRelationship(r.Context(), rel); err != nil {
		s.writeError(w, r, apierrors.Conflict("relationship already exists"))
		return
	}
	s.appendRelationshipAudit(r, "create", rel)
	s.writeJSON(w, http.StatusOK, toRelationshipRecord(rel))
}

type relationshipUpdateRequest struct {
	RelationType string `json:"relation_type"`
	Source       string `json:"source"`
}

// UpdateRelationship handles PATCH /relationships/{id}.
func (s *Server) UpdateRelationship(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rel, err := s.Store.GetRelationship(r.Context(), id)
	if err != nil {
		s.writeError(w, r, apierrors.NotFound("relationship"))
		return
	}
	var body relationshipUpdateRequest
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if body.RelationType != "" {
		rel.RelationType = body.RelationType
	}
	if body.Source != "" {
		rel.Source = body.Source
	}
	if err := s.Store.UpdateRelationship(r.Context(), rel); err != nil {
		s.writeError(w, r, apierrors.Conflict("updated relationship conflicts with existing tuple"))
		return
	}
	s.appendRelationshipAudit(r, "update", rel)
	s.writeJSON(w, http.StatusOK, toRelationshipRecord(rel))
}

// DeleteRelationship handles DELETE /relationships/{id}.
func (s *Server) DeleteRelationship(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rel, err := s.Store.GetRelationship(r.Context(), id)
	if err != nil {
		s.writeError(w, r, apierrors.NotFound("relationship"))
		return
	}
	if err := s.Store.DeleteRelationship(r.Context(), id); err != nil {
		s.writeError(w, r, apierrors.NotFound("relationship"))
		return
	}
	s.appendRelationshipAudit(r, "delete", rel)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) appendRelationshipAudit(r *http.Request, action string, rel *domain.Relationship) {
	ciID := rel.SourceCIID
	_ = s.Store.AppendAudit(r.Context(), &domain.AuditEvent{
		ID:        uuid.NewString(),
		CIID:      &ciID,
		EventType: "relationship.updated.manual",
		Payload: map[string]any{
			"action":          action,
			"relationship_id": rel.ID,
			"source_ci_id":    rel.SourceCIID,
			"target_ci_id":    rel.TargetCIID,
			"relation_type":   rel.RelationType,
			"source":          rel.Source,
		},
		CreatedAt: s.Clock.Now(),
	})
}
