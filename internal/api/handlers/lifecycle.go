package handlers

import (
	"net/http"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
)

// RunLifecycle handles POST /lifecycle/run.
func (s *Server) RunLifecycle(w http.ResponseWriter, r *http.Request) {
	result, err := s.Lifecycle.Run(r.Context())
	if err != nil {
		s.writeError(w, r, apierrors.Internal("lifecycle run failed"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"transitioned":  result.Transitioned,
		"orphans_found": result.OrphansFound,
	})
}
