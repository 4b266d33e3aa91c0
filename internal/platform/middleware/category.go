package middleware

import (
	"net/http"

	"github.com/mssola/useragent"

	"certledger/pkg/requestcontext"
)

// Verifier categories recorded in the audit trail.
const (
	CategoryWeb    = "web"
	CategoryMobile = "mobile"
	CategoryBot    = "bot"
	CategoryAPI    = "api"
)

// VerifierCategory classifies the caller from its User-Agent so verification
// records can distinguish browsers from programmatic access.
func VerifierCategory(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithVerifierCategory(r.Context(), classify(r.UserAgent()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func classify(rawUA string) string {
	if rawUA == "" {
		return CategoryAPI
	}
	ua := useragent.New(rawUA)
	switch {
	case ua.Bot():
		return CategoryBot
	case ua.Mobile():
		return CategoryMobile
	default:
		if name, _ := ua.Browser(); name != "" {
			return CategoryWeb
		}
		return CategoryAPI
	}
}
