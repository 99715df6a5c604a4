package logging

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader is the header name the spec requires echoed on every
// response.
const CorrelationHeader = "x-correlation-id"

type correlationKey struct{}

// CorrelationMiddleware extracts x-correlation-id from the incoming request,
// generating one if absent, stashes it in the request context, and echoes it
// on the response before calling next.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), correlationKey{}, correlationID)
		r = r.WithContext(ctx)

		w.Header().Set(CorrelationHeader, correlationID)

		next.ServeHTTP(w, r)
	})
}

// CorrelationID returns the correlation ID stashed by CorrelationMiddleware,
// or "" if the context carries none (e.g. in a background worker task).
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

