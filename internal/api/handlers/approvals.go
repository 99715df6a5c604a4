package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
	"github.com/unifiedcmdb/cmdb-core/internal/approval"
)

// ListApprovals handles GET /approvals?status&limit.
func (s *Server) ListApprovals(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := queryIntDefault(r, "limit", 100, 1, 1000)
	approvals, err := s.Approval.List(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list approvals"))
		return
	}
	s.writeJSON(w, http.StatusOK, toApprovalResponses(approvals))
}

type createApprovalRequest struct {
	Method     string         `json:"method"`
	Path       string         `json:"path"`
	Query      string         `json:"query"`
	Payload    map[string]any `json:"payload"`
	Reason     *string        `json:"reason"`
	TTLMinutes int            `json:"ttl_minutes"`
}

// CreateApproval handles POST /approvals.
func (s *Server) CreateApproval(w http.ResponseWriter, r *http.Request) {
	var body createApprovalRequest
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if body.Method == "" || body.Path == "" {
		s.writeError(w, r, apierrors.ValidationError("method and path are required"))
		return
	}

	created, err := s.Approval.Create(r.Context(), principalID(r), approval.CreateRequest{
		Method:     body.Method,
		Path:       body.Path,
		Query:      body.Query,
		Payload:    body.Payload,
		Reason:     body.Reason,
		TTLMinutes: body.TTLMinutes,
	})
	if err != nil {
		if errors.Is(err, approval.ErrInvalidPath) {
			s.writeError(w, r, apierrors.ValidationError("request path could not be normalized"))
			return
		}
		s.writeError(w, r, apierrors.Internal("failed to create approval"))
		return
	}
	s.writeJSON(w, http.StatusOK, toApprovalResponse(created))
}

type decideApprovalRequest struct {
	Note *string `json:"note"`
}

// ApproveApproval handles POST /approvals/{id}/approve.
func (s *Server) ApproveApproval(w http.ResponseWriter, r *http.Request) {
	s.decideApproval(w, r, true)
}

// RejectApproval handles POST /approvals/{id}/reject.
func (s *Server) RejectApproval(w http.ResponseWriter, r *http.Request) {
	s.decideApproval(w, r, false)
}

func (s *Server) decideApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	id := mux.Vars(r)["id"]
	var body decideApprovalRequest
	_ = s.decodeOptionalJSON(r, &body)

	decided, err := s.Approval.Decide(r.Context(), id, principalID(r), approve, body.Note)
	if err != nil {
		s.writeApprovalDecisionError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toApprovalResponse(decided))
}

func (s *Server) writeApprovalDecisionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, approval.ErrApprovalNotFound):
		s.writeError(w, r, apierrors.NotFound("approval"))
	case errors.Is(err, approval.ErrApprovalExpired):
		s.writeError(w, r, apierrors.Conflict("approval has expired"))
	case errors.Is(err, approval.ErrSelfApproval):
		s.writeError(w, r, apierrors.Conflict("a requester cannot decide their own approval"))
	default:
		var gateErr *approval.GateError
		if errors.As(err, &gateErr) {
			s.writeError(w, r, apierrors.Conflict(gateErr.Reason))
			return
		}
		s.writeError(w, r, apierrors.Conflict("approval could not be decided"))
	}
}
