package auth

import "context"

type principalKey struct{}

// WithPrincipal returns a context carrying p for downstream handlers.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext extracts the Principal stashed by the auth middleware. ok is
// false if no request has been authenticated on this context.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
