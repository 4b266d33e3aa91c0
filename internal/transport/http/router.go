// Package httptransport assembles the public HTTP surface of the registry.
// Handlers stay thin and delegate to the domain services; all cross-cutting
// concerns live in middleware.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	insthandler "certledger/internal/institution/handler"
	ledgerhandler "certledger/internal/ledger/handler"
	mirrorhandler "certledger/internal/mirror/handler"
	"certledger/internal/platform/middleware"
	verifhandler "certledger/internal/verification/handler"
	"certledger/pkg/platform/httputil"
)

// HealthChecker reports the reachability of one backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies carries everything the router mounts.
type Dependencies struct {
	Logger         *slog.Logger
	TokenValidator middleware.TokenValidator

	Institutions  *insthandler.Handler
	Ledger        *ledgerhandler.Handler
	Verifications *verifhandler.Handler
	Mirror        *mirrorhandler.Handler

	// HealthChecks maps a dependency name ("database", "redis") to its check.
	// Nil-valued entries are skipped so optional backends need no guards at
	// the call site.
	HealthChecks map[string]HealthChecker
}

// NewRouter wires middleware and routes. Write endpoints sit behind bearer
// auth; verification and registry reads are public.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.VerifierCategory)

	// Public reads.
	r.Group(func(r chi.Router) {
		deps.Ledger.RegisterPublic(r)
		deps.Verifications.RegisterPublic(r)
		deps.Mirror.Register(r)
		deps.Institutions.RegisterPublic(r)
	})

	// Authenticated writes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.TokenValidator, deps.Logger))
		deps.Institutions.Register(r)
		deps.Ledger.Register(r)
		deps.Verifications.Register(r)
	})

	r.Get("/healthz", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func handleHealth(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		response := healthResponse{Status: "ok", Checks: make(map[string]string)}
		status := http.StatusOK
		for name, check := range deps.HealthChecks {
			if check == nil {
				continue
			}
			if err := check.Health(ctx); err != nil {
				response.Status = "degraded"
				response.Checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			response.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, response)
	}
}
