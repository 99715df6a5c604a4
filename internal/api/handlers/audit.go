package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
)

// ExportAudit handles GET /audit/export?limit, returning newline-delimited
// JSON the way export_audit_events's PlainTextResponse does.
func (s *Server) ExportAudit(w http.ResponseWriter, r *http.Request) {
	limit := queryIntDefault(r, "limit", 1000, 1, 20000)
	events, err := s.Store.ExportAudit(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to export audit events"))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for _, ev := range events {
		_ = enc.Encode(toAuditResponse(ev))
	}
}
