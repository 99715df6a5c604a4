package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
	"github.com/unifiedcmdb/cmdb-core/internal/approval"
	"github.com/unifiedcmdb/cmdb-core/internal/auth"
)

// ApprovalIDHeader carries the approval a mutating request is bound to
// (spec.md §4.8).
const ApprovalIDHeader = "x-cmdb-approval-id"

// ApprovalGateMiddleware enforces the maker-checker discipline on every
// mutating request outside /approvals, when enabled: the caller must carry
// an APPROVED, unexpired approval whose method/canonical-path/payload-hash
// match this request, consuming it on success. It sits after the mutating
// rate limiter and ahead of the handler body in the pipeline (spec.md §5:
// global RL -> auth -> mutating RL -> payload-limit -> approval gate ->
// handler body -> DB commit).
//
// The body read here is a suspension point (spec.md §5) so it is buffered
// back onto the request before calling next, and the handler still sees
// the full body.
func ApprovalGateMiddleware(svc *approval.Service, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || svc == nil || isExemptFromGate(r) {
				next.ServeHTTP(w, r)
				return
			}

			approvalID := r.Header.Get(ApprovalIDHeader)
			if approvalID == "" {
				apierrors.Write(w, apierrors.ValidationError(ApprovalIDHeader+" header is required for this operation"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				apierrors.Write(w, apierrors.RequestFailed("failed to read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			principal, _ := auth.FromContext(r.Context())
			if _, err := svc.CheckAndConsume(r.Context(), approval.GateRequest{
				ApprovalID:       approvalID,
				Method:           r.Method,
				Path:             r.URL.Path,
				Query:            r.URL.RawQuery,
				Body:             body,
				ContentType:      r.Header.Get("Content-Type"),
				CurrentPrincipal: principal.ID,
			}); err != nil {
				writeGateError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isExemptFromGate(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodOptions {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/approvals")
}

func writeGateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approval.ErrApprovalNotFound):
		apierrors.Write(w, apierrors.NotFound("approval"))
	case errors.Is(err, approval.ErrSelfApproval):
		apierrors.Write(w, apierrors.AuthorizationError("approval can only be consumed by the principal who requested it"))
	default:
		var gateErr *approval.GateError
		if errors.As(err, &gateErr) {
			apierrors.Write(w, apierrors.Conflict(gateErr.Reason))
			return
		}
		apierrors.Write(w, apierrors.RequestFailed("approval gate check failed"))
	}
}
