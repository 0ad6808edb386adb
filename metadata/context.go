package metadata

import "context"

// RequestIDHeader carries the correlation id of one store exchange.
const RequestIDHeader = "X-Request-ID"

type (
	principalKey struct{}
	requestIDKey struct{}
)

// WithPrincipal records the authenticated user that backends stamp as owner on new nodes.
func WithPrincipal(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, principalKey{}, user)
}

// PrincipalFromContext returns the user recorded by WithPrincipal, or DefaultOwner.
func PrincipalFromContext(ctx context.Context) string {
	if user, ok := ctx.Value(principalKey{}).(string); ok && user != "" {
		return user
	}
	return DefaultOwner
}

// WithRequestID attaches a correlation id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the correlation id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
