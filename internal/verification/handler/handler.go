package handler

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	ledgermodels "certledger/internal/ledger/models"
	"certledger/internal/verification/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

// historyMaxLimit caps how many audit entries one history request returns.
const historyMaxLimit = 1000

// Service defines the verification engine operations the transport needs.
type Service interface {
	RecordVerification(ctx context.Context, certID id.CertificateID, verifier id.Address, category string) (*ledgermodels.Certificate, error)
	History(ctx context.Context, certID id.CertificateID) iter.Seq2[models.VerificationRecord, error]
	Count(ctx context.Context, certID id.CertificateID) (uint64, error)
}

// Handler exposes the verification engine over HTTP.
type Handler struct {
	verifications Service
	logger        *slog.Logger
}

func New(verifications Service, logger *slog.Logger) *Handler {
	return &Handler{verifications: verifications, logger: logger}
}

// Register mounts the verification routes. Recording requires an
// authenticated verifier; the history read is public.
func (h *Handler) Register(r chi.Router) {
	r.Post("/certificates/{id}/verifications", h.handleRecord)
}

func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/certificates/{id}/verifications", h.handleHistory)
}

type recordResponse struct {
	Valid       bool                      `json:"valid"`
	Certificate *ledgermodels.Certificate `json:"certificate"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	verifier := requestcontext.Caller(ctx)
	if verifier.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "verifier identity missing from request context"))
		return
	}
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	certificate, err := h.verifications.RecordVerification(ctx, certID, verifier, requestcontext.VerifierCategory(ctx))
	if err != nil {
		h.logger.InfoContext(ctx, "verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_id", certID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, recordResponse{Valid: true, Certificate: certificate})
}

type historyResponse struct {
	CertificateID id.CertificateID            `json:"certificate_id"`
	Total         uint64                      `json:"total"`
	Records       []models.VerificationRecord `json:"records"`
}

// handleHistory drains up to `limit` audit entries from the lazy history
// sequence; the total lets clients detect truncation.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit := historyMaxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	total, err := h.verifications.Count(ctx, certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records := make([]models.VerificationRecord, 0)
	for record, err := range h.verifications.History(ctx, certID) {
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		records = append(records, record)
		if len(records) >= limit {
			break
		}
	}

	httputil.WriteJSON(w, http.StatusOK, historyResponse{
		CertificateID: certID,
		Total:         total,
		Records:       records,
	})
}
