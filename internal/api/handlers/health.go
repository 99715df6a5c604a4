package handlers

import "net/http"

// Health handles GET /health: a public liveness probe that also touches the
// store so a dead database connection is visible to the load balancer.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Health(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}
