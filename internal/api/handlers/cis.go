package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/drift"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// ListCIs handles GET /cis: filtered, paginated listing. Grounded on
// cis.py's list_cis, including the ciClass/lifecycleState aliases for
// ci_type/status and the environment filter read out of CI.attributes.
func (s *Server) ListCIs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CIFilter{
		Status: q.Get("status"),
		Source: q.Get("source"),
		Owner:  q.Get("owner"),
		CIType: q.Get("ciClass"),
		Query:  q.Get("q"),
		Limit:  queryIntDefault(r, "limit", 100, 1, 1000),
		Offset: queryIntDefault(r, "offset", 0, 0, 1<<30),
	}
	if filter.Status == "" {
		filter.Status = q.Get("lifecycleState")
	}

	cis, err := s.Store.ListCIs(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list CIs"))
		return
	}

	if environment := q.Get("environment"); environment != "" {
		filtered := cis[:0]
		for _, ci := range cis {
			if env, ok := ci.Attributes["environment"].(string); ok && env == environment {
				filtered = append(filtered, ci)
			}
		}
		cis = filtered
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"total": len(cis),
		"items": toCIResponses(cis),
	})
}

func (s *Server) loadCI(w http.ResponseWriter, r *http.Request) (*domain.CI, bool) {
	id := mux.Vars(r)["id"]
	ci, err := s.Store.GetCI(r.Context(), id)
	if err != nil {
		s.writeError(w, r, apierrors.NotFound("CI"))
		return nil, false
	}
	return ci, true
}

// GetCI handles GET /cis/{id}.
func (s *Server) GetCI(w http.ResponseWriter, r *http.Request) {
	ci, ok := s.loadCI(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, toCIResponse(ci))
}

func (s *Server) splitRelationships(all []*domain.Relationship, ciID string) (upstream, downstream []*domain.Relationship) {
	for _, rel := range all {
		switch ciID {
		case rel.TargetCIID:
			upstream = append(upstream, rel)
		case rel.SourceCIID:
			downstream = append(downstream, rel)
		}
	}
	return upstream, downstream
}

// GetCIGraph handles GET /cis/{id}/graph.
func (s *Server) GetCIGraph(w http.ResponseWriter, r *http.Request) {
	ci, ok := s.loadCI(w, r)
	if !ok {
		return
	}
	rels, err := s.Store.ListRelationships(r.Context(), ci.ID)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list relationships"))
		return
	}
	upstream, downstream := s.splitRelationships(rels, ci.ID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ci":         toCIResponse(ci),
		"upstream":   toRelationshipNestedList(upstream),
		"downstream": toRelationshipNestedList(downstream),
	})
}

// GetCIAudit handles GET /cis/{id}/audit.
func (s *Server) GetCIAudit(w http.ResponseWriter, r *http.Request) {
	ci, ok := s.loadCI(w, r)
	if !ok {
		return
	}
	limit := queryIntDefault(r, "limit", 100, 1, 5000)
	events, err := s.Store.ListAuditForCI(r.Context(), ci.ID, limit)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list audit events"))
		return
	}
	s.writeJSON(w, http.StatusOK, toAuditResponses(events))
}

// GetCIIdentities handles GET /cis/{id}/identities.
func (s *Server) GetCIIdentities(w http.ResponseWriter, r *http.Request) {
	ci, ok := s.loadCI(w, r)
	if !ok {
		return
	}
	identities, err := s.Store.ListIdentitiesForCI(r.Context(), ci.ID)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list identities"))
		return
	}
	s.writeJSON(w, http.StatusOK, toIdentityResponses(identities))
}

// GetCIDetail handles GET /cis/{id}/detail.
func (s *Server) GetCIDetail(w http.ResponseWriter, r *http.Request) {
	ci, ok := s.loadCI(w, r)
	if !ok {
		return
	}
	identities, err := s.Store.ListIdentitiesForCI(r.Context(), ci.ID)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list identities"))
		return
	}
	rels, err := s.Store.ListRelationships(r.Context(), ci.ID)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list relationships"))
		return
	}
	upstream, downstream := s.splitRelationships(rels, ci.ID)
	recentAudit, err := s.Store.ListAuditForCI(r.Context(), ci.ID, 50)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list audit events"))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"ci":           toCIResponse(ci),
		"identities":   toIdentityResponses(identities),
		"upstream":     toRelationshipNestedList(upstream),
		"downstream":   toRelationshipNestedList(downstream),
		"recent_audit": toAuditResponses(recentAudit),
	})
}

// GetCIDrift handles GET /cis/{id}/drift.
func (s *Server) GetCIDrift(w http.ResponseWriter, r *http.Request) {
	ci, ok := s.loadCI(w, r)
	if !ok {
		return
	}
	snapshot := s.Drift.Compute(r.Context(), ci)
	s.writeJSON(w, http.StatusOK, snapshot)
}

type driftResolveRequest struct {
	Source string   `json:"source"`
	Fields []string `json:"fields"`
}

// ResolveCIDrift handles POST /cis/{id}/drift/resolve.
func (s *Server) ResolveCIDrift(w http.ResponseWriter, r *http.Request) {
	ci, ok := s.loadCI(w, r)
	if !ok {
		return
	}
	var body driftResolveRequest
	if !s.decodeJSON(w, r, &body) {
		return
	}

	requestedFields := make([]string, 0, len(body.Fields))
	for _, f := range body.Fields {
		if f != "" {
			requestedFields = append(requestedFields, f)
		}
	}
	if len(requestedFields) == 0 {
		s.writeError(w, r, apierrors.ValidationError("at least one field must be selected for drift resolution"))
		return
	}

	result, err := s.Drift.Resolve(r.Context(), ci.ID, principalID(r), drift.ResolveRequest{
		Source: body.Source,
		Fields: requestedFields,
	})
	if err != nil {
		s.writeError(w, r, apierrors.RequestFailed(err.Error()))
		return
	}

	refreshedCI, err := s.Store.GetCI(r.Context(), ci.ID)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to reload CI"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ci_id":           ci.ID,
		"source":          result.Source,
		"applied":         result.Applied,
		"ignored_fields":  result.IgnoredFields,
		"drift":           s.Drift.Compute(r.Context(), refreshedCI),
	})
}

// PickCIs handles GET /pickers/cis.
func (s *Server) PickCIs(w http.ResponseWriter, r *http.Request) {
	filter := store.CIFilter{
		Query: r.URL.Query().Get("q"),
		Limit: queryIntDefault(r, "limit", 20, 1, 200),
	}
	cis, err := s.Store.ListCIs(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list CIs"))
		return
	}
	items := make([]pickerCIResponse, 0, len(cis))
	for _, ci := range cis {
		items = append(items, pickerCIResponse{ID: ci.ID, Name: ci.Name, CIType: ci.CIType, Status: ci.Status})
	}
	s.writeJSON(w, http.StatusOK, items)
}
