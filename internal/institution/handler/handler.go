package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"certledger/internal/institution/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

// Service defines the directory operations the transport needs.
type Service interface {
	Register(ctx context.Context, identity id.Address, name, registrationNumber string) (*models.Institution, error)
	SetActive(ctx context.Context, identity id.Address, active bool) (*models.Institution, error)
	Get(ctx context.Context, identity id.Address) (*models.Institution, error)
	Count(ctx context.Context) (int, error)
}

// Handler exposes the institution directory over HTTP.
type Handler struct {
	directory Service
	logger    *slog.Logger
}

func New(directory Service, logger *slog.Logger) *Handler {
	return &Handler{directory: directory, logger: logger}
}

// Register mounts the directory write routes. The caller is expected to wrap
// the router with the auth middleware; registration and status changes are
// administrative actions.
func (h *Handler) Register(r chi.Router) {
	r.Post("/institutions", h.handleRegister)
	r.Post("/institutions/{identity}/activate", h.handleActivate)
	r.Post("/institutions/{identity}/deactivate", h.handleDeactivate)
}

// RegisterPublic mounts the profile read, open to anyone checking an issuer.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/institutions/{identity}", h.handleGet)
}

type registerRequest struct {
	Identity           string `json:"identity"`
	Name               string `json:"name"`
	RegistrationNumber string `json:"registration_number"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.Decode[registerRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	identity, err := id.ParseAddress(req.Identity)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	institution, err := h.directory.Register(ctx, identity, req.Name, req.RegistrationNumber)
	if err != nil {
		h.logger.WarnContext(ctx, "institution registration rejected",
			"request_id", requestcontext.RequestID(ctx),
			"identity", identity.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, institution)
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	ctx := r.Context()
	identity, err := id.ParseAddress(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	institution, err := h.directory.SetActive(ctx, identity, active)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, institution)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	identity, err := id.ParseAddress(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	institution, err := h.directory.Get(r.Context(), identity)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, institution)
}
