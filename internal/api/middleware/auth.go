package middleware

import (
	"errors"
	"net/http"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
	"github.com/unifiedcmdb/cmdb-core/internal/auth"
)

// AuthMiddleware authenticates every request's bearer token against authn
// and, on success, stashes the resolved auth.Principal in the request
// context for downstream RoleMiddleware and handlers (auth.FromContext).
func AuthMiddleware(authn *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authn.AuthenticateRequest(r)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrNotConfigured), errors.Is(err, auth.ErrOIDCUnavailable):
					apierrors.Write(w, apierrors.ServiceUnavailable(err.Error()))
				case errors.Is(err, auth.ErrMissingToken):
					apierrors.Write(w, apierrors.AuthenticationError(err.Error()))
				default:
					apierrors.Write(w, apierrors.AuthorizationError(err.Error()))
				}
				return
			}

			r = r.WithContext(auth.WithPrincipal(r.Context(), principal))
			next.ServeHTTP(w, r)
		})
	}
}

// RoleMiddleware rejects any request whose authenticated principal does not
// satisfy need under Role.HasAtLeast. It must run after AuthMiddleware.
func RoleMiddleware(need auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.FromContext(r.Context())
			if !ok {
				apierrors.Write(w, apierrors.AuthenticationError("request is not authenticated"))
				return
			}
			if !principal.Role.HasAtLeast(need) {
				apierrors.Write(w, apierrors.AuthorizationError("insufficient role for this operation"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExactRoleMiddleware rejects any request whose principal role is not
// exactly one of allowed. Used for operator-only and approver-only routes
// where spec.md's role model is a partition rather than a hierarchy (e.g.
// approvals creation is operator-only, decisions are approver-only).
func ExactRoleMiddleware(allowed ...auth.Role) func(http.Handler) http.Handler {
	set := make(map[auth.Role]bool, len(allowed))
	for _, r := range allowed {
		set[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.FromContext(r.Context())
			if !ok {
				apierrors.Write(w, apierrors.AuthenticationError("request is not authenticated"))
				return
			}
			if !set[principal.Role] {
				apierrors.Write(w, apierrors.AuthorizationError("insufficient role for this operation"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
