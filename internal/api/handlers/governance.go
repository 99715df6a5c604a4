package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
	"github.com/unifiedcmdb/cmdb-core/internal/governance"
)

// ListCollisions handles GET /governance/collisions?status=open|resolved|all.
// governance.Service.List performs no validation of the status string, so
// the handler rejects anything outside the closed vocabulary itself with a
// 422 VALIDATION_ERROR "invalid collision status filter".
func (s *Server) ListCollisions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "open"
	}
	switch status {
	case "open", "resolved", "all":
	default:
		s.writeError(w, r, apierrors.ValidationError("invalid collision status filter"))
		return
	}

	collisions, err := s.Governance.List(r.Context(), status)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list collisions"))
		return
	}
	s.writeJSON(w, http.StatusOK, toCollisionResponses(collisions))
}

// ResolveCollision handles POST /governance/collisions/{id}/resolve.
func (s *Server) ResolveCollision(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Note string `json:"note"`
	}
	_ = s.decodeOptionalJSON(r, &body)

	collision, err := s.Governance.Resolve(r.Context(), id, body.Note)
	if err != nil {
		s.writeGovernanceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"collision": toCollisionResponse(collision)})
}

// ReopenCollision handles POST /governance/collisions/{id}/reopen.
func (s *Server) ReopenCollision(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Note string `json:"note"`
	}
	_ = s.decodeOptionalJSON(r, &body)

	collision, err := s.Governance.Reopen(r.Context(), id, body.Note)
	if err != nil {
		s.writeGovernanceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"collision": toCollisionResponse(collision)})
}

func (s *Server) writeGovernanceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, governance.ErrNotFound) {
		s.writeError(w, r, apierrors.NotFound("collision"))
		return
	}
	s.writeError(w, r, apierrors.Internal("failed to update collision"))
}
