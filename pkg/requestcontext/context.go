// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them; services read them without
// importing net/http.
package requestcontext

import (
	"context"
	"time"

	id "certledger/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	callerKey      struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	categoryKey    struct{}
)

// WithCaller stores the authenticated caller address (issuer or verifier).
func WithCaller(ctx context.Context, caller id.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Caller retrieves the authenticated caller address; zero when unauthenticated.
func Caller(ctx context.Context) id.Address {
	if caller, ok := ctx.Value(callerKey{}).(id.Address); ok {
		return caller
	}
	return ""
}

// WithRequestID stores the correlation id assigned by the request middleware.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID retrieves the correlation id, or "" when not set.
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return requestID
	}
	return ""
}

// WithTime pins the request time. Tests use this to make timestamps
// deterministic.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}

// Now returns the pinned request time, falling back to the wall clock.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithVerifierCategory stores the category derived for the calling verifier
// ("web", "api", ...).
func WithVerifierCategory(ctx context.Context, category string) context.Context {
	return context.WithValue(ctx, categoryKey{}, category)
}

// VerifierCategory retrieves the verifier category, or "" when not set.
func VerifierCategory(ctx context.Context) string {
	if category, ok := ctx.Value(categoryKey{}).(string); ok {
		return category
	}
	return ""
}
