package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationIDHeader is echoed on every response and threaded through
// structured logs (spec.md §6, §A.2: "every request gets a correlation ID").
const CorrelationIDHeader = "X-Correlation-Id"

type correlationIDKey struct{}

// CorrelationIDMiddleware assigns a correlation ID to every request,
// generating one with google/uuid when the caller didn't supply one, and
// always echoes it back on the response.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = uuid.New().String()
			r.Header.Set(CorrelationIDHeader, id)
		}
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationIDKey{}, id)))
	})
}

// GetRequestID returns the correlation ID CorrelationIDMiddleware stashed in
// ctx, or "" if the middleware never ran.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}
