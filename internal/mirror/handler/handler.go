package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	ledgermodels "certledger/internal/ledger/models"
	"certledger/internal/mirror"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
)

// Service defines the mirror queries the transport needs.
type Service interface {
	CertificatesByRecipient(ctx context.Context, recipient id.Address) ([]*ledgermodels.Certificate, error)
	CertificatesByInstitution(ctx context.Context, institution id.Address) ([]*ledgermodels.Certificate, error)
	CertificatesByStatus(ctx context.Context, status string) ([]*ledgermodels.Certificate, error)
	CertificatesByType(ctx context.Context, certType string) ([]*ledgermodels.Certificate, error)
	VerificationStats(ctx context.Context, certID id.CertificateID) (mirror.VerificationStats, error)
	Totals(ctx context.Context) (mirror.RegistryTotals, error)
}

// Handler exposes the denormalized registry views over HTTP.
type Handler struct {
	views  Service
	logger *slog.Logger
}

func New(views Service, logger *slog.Logger) *Handler {
	return &Handler{views: views, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/registry/recipients/{identity}/certificates", h.handleByRecipient)
	r.Get("/registry/institutions/{identity}/certificates", h.handleByInstitution)
	r.Get("/registry/certificates", h.handleListing)
	r.Get("/registry/certificates/{id}/stats", h.handleStats)
	r.Get("/registry/stats", h.handleTotals)
}

type listingResponse struct {
	Total        int                         `json:"total"`
	Certificates []*ledgermodels.Certificate `json:"certificates"`
}

func (h *Handler) handleByRecipient(w http.ResponseWriter, r *http.Request) {
	recipient, err := id.ParseAddress(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	certificates, err := h.views.CertificatesByRecipient(r.Context(), recipient)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeListing(w, certificates)
}

func (h *Handler) handleByInstitution(w http.ResponseWriter, r *http.Request) {
	institution, err := id.ParseAddress(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	certificates, err := h.views.CertificatesByInstitution(r.Context(), institution)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeListing(w, certificates)
}

// handleListing filters by exactly one of ?status= or ?type=.
func (h *Handler) handleListing(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	certType := r.URL.Query().Get("type")

	var (
		certificates []*ledgermodels.Certificate
		err          error
	)
	switch {
	case status != "" && certType != "":
		err = dErrors.New(dErrors.CodeInvalidInput, "filter by either status or type, not both")
	case status != "":
		certificates, err = h.views.CertificatesByStatus(r.Context(), status)
	case certType != "":
		certificates, err = h.views.CertificatesByType(r.Context(), certType)
	default:
		err = dErrors.New(dErrors.CodeInvalidInput, "a status or type filter is required")
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeListing(w, certificates)
}

type statsResponse struct {
	CertificateID  id.CertificateID `json:"certificate_id"`
	Verifications  uint64           `json:"verifications"`
	LastVerifiedAt string           `json:"last_verified_at,omitempty"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	stats, err := h.views.VerificationStats(r.Context(), certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	response := statsResponse{
		CertificateID: certID,
		Verifications: stats.Count,
	}
	if !stats.LastVerifiedAt.IsZero() {
		response.LastVerifiedAt = stats.LastVerifiedAt.UTC().Format(time.RFC3339)
	}
	httputil.WriteJSON(w, http.StatusOK, response)
}

type totalsResponse struct {
	Issued  uint64            `json:"issued"`
	Valid   uint64            `json:"valid"`
	Revoked uint64            `json:"revoked"`
	ByType  map[string]uint64 `json:"by_type"`
}

func (h *Handler) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.views.Totals(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, totalsResponse{
		Issued:  totals.Issued,
		Valid:   totals.Valid,
		Revoked: totals.Revoked,
		ByType:  totals.ByType,
	})
}

func writeListing(w http.ResponseWriter, certificates []*ledgermodels.Certificate) {
	if certificates == nil {
		certificates = []*ledgermodels.Certificate{}
	}
	httputil.WriteJSON(w, http.StatusOK, listingResponse{
		Total:        len(certificates),
		Certificates: certificates,
	})
}
