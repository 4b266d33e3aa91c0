package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

// TokenValidator validates a bearer token and yields the caller address.
type TokenValidator interface {
	ValidateToken(tokenString string) (id.Address, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller address in the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access, missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			caller, err := validator.ValidateToken(tokenString)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access, invalid token",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithCaller(ctx, caller)))
		})
	}
}
