package middleware

import (
	"net/http"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
	"github.com/unifiedcmdb/cmdb-core/internal/auth"
	"github.com/unifiedcmdb/cmdb-core/internal/ratelimit"
)

// GlobalRateLimitMiddleware enforces the global per-request limit, keyed by
// bearer-token-or-IP scoped to path (spec.md §4.7, first stage of the
// mutating-request pipeline: global RL -> auth -> mutating RL -> ...).
func GlobalRateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(ratelimit.GlobalRateLimitKey(r)) {
				apierrors.Write(w, apierrors.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MutatingRateLimitMiddleware enforces the tighter per-prefix mutating
// limit, keyed by authenticated principal scoped to path. It must run after
// AuthMiddleware so a Principal is present in context, and is a no-op for
// non-mutating methods.
func MutatingRateLimitMiddleware(limiters *ratelimit.MutatingLimiterSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			principal, ok := auth.FromContext(r.Context())
			if !ok {
				apierrors.Write(w, apierrors.AuthenticationError("request is not authenticated"))
				return
			}

			if !limiters.Allow(principal.ID, r.URL.Path, principal.Role == auth.RoleApprover) {
				apierrors.Write(w, apierrors.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
