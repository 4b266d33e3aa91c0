package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	instmodels "certledger/internal/institution/models"
	"certledger/internal/ledger/models"
	"certledger/internal/ledger/service"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/fingerprint"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

// Ledger defines the ledger operations the transport needs.
type Ledger interface {
	Issue(ctx context.Context, cmd service.IssueCommand) (id.CertificateID, error)
	Verify(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	VerifyByFingerprint(ctx context.Context, fp id.Fingerprint) (*models.Certificate, error)
	Revoke(ctx context.Context, certID id.CertificateID, actor id.Address) error
	Get(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
}

// Directory resolves issuer profiles for the detail view.
type Directory interface {
	Get(ctx context.Context, identity id.Address) (*instmodels.Institution, error)
}

// Verifications resolves the audit counter for the detail view.
type Verifications interface {
	Count(ctx context.Context, certID id.CertificateID) (uint64, error)
}

// Handler exposes the certificate ledger over HTTP.
type Handler struct {
	ledger        Ledger
	directory     Directory
	verifications Verifications
	logger        *slog.Logger
}

func New(ledger Ledger, directory Directory, verifications Verifications, logger *slog.Logger) *Handler {
	return &Handler{
		ledger:        ledger,
		directory:     directory,
		verifications: verifications,
		logger:        logger,
	}
}

// Register mounts the write routes; the caller wraps them with auth so the
// issuing institution is taken from the token, never from the body.
func (h *Handler) Register(r chi.Router) {
	r.Post("/certificates", h.handleIssue)
	r.Post("/certificates/{id}/revoke", h.handleRevoke)
}

// RegisterPublic mounts the read routes; verification is open to anyone
// holding a certificate id or fingerprint.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/certificates/{id}", h.handleGet)
	r.Get("/certificates/{id}/detail", h.handleDetail)
	r.Get("/verify/{id}", h.handleVerify)
	r.Get("/verify/fingerprint/{fingerprint}", h.handleVerifyByFingerprint)
}

type issueRequest struct {
	Recipient       string            `json:"recipient"`
	CertificateType string            `json:"certificate_type"`
	CourseName      string            `json:"course_name"`
	Grade           string            `json:"grade,omitempty"`
	IssuedAt        *time.Time        `json:"issued_at,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type issueResponse struct {
	ID          id.CertificateID `json:"id"`
	Fingerprint id.Fingerprint   `json:"fingerprint"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issuer := requestcontext.Caller(ctx)
	if issuer.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "issuer identity missing from request context"))
		return
	}

	req, err := httputil.Decode[issueRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	recipient, err := id.ParseAddress(req.Recipient)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	certType, err := models.ParseCertificateType(req.CertificateType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// The fingerprint is derived server-side from the semantic content, so
	// re-submitting the same document is rejected as a duplicate no matter
	// which client sends it.
	issuedAt := requestcontext.Now(ctx)
	if req.IssuedAt != nil {
		issuedAt = *req.IssuedAt
	}
	fp := fingerprint.Compute(fingerprint.Payload{
		Institution: issuer,
		Recipient:   recipient,
		Type:        certType.String(),
		CourseName:  req.CourseName,
		Grade:       req.Grade,
		IssuedAt:    issuedAt,
	})

	certID, err := h.ledger.Issue(ctx, service.IssueCommand{
		Institution:         issuer,
		Recipient:           recipient,
		Fingerprint:         fp,
		MetadataFingerprint: fingerprint.ComputeMetadata(req.Metadata),
		Type:                certType,
		CourseName:          req.CourseName,
		Grade:               req.Grade,
		IssuedAt:            issuedAt,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "issuance rejected",
			"request_id", requestcontext.RequestID(ctx),
			"issuer", issuer.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, issueResponse{ID: certID, Fingerprint: fp})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.Caller(ctx)
	if actor.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "caller identity missing from request context"))
		return
	}
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.ledger.Revoke(ctx, certID, actor); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	certificate, err := h.ledger.Get(r.Context(), certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, certificate)
}

type verifyResponse struct {
	Valid       bool                `json:"valid"`
	Certificate *models.Certificate `json:"certificate"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	certificate, err := h.ledger.Verify(r.Context(), certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{Valid: true, Certificate: certificate})
}

func (h *Handler) handleVerifyByFingerprint(w http.ResponseWriter, r *http.Request) {
	fp, err := id.ParseFingerprint(chi.URLParam(r, "fingerprint"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	certificate, err := h.ledger.VerifyByFingerprint(r.Context(), fp)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{Valid: true, Certificate: certificate})
}

type detailResponse struct {
	Certificate   *models.Certificate     `json:"certificate"`
	Institution   *instmodels.Institution `json:"institution"`
	Verifications uint64                  `json:"verifications"`
}

// handleDetail aggregates the certificate with its issuer profile and audit
// counter. The certificate is loaded first; the dependent lookups then run in
// parallel.
func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	certificate, err := h.ledger.Get(ctx, certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var (
		institution *instmodels.Institution
		count       uint64
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		institution, err = h.directory.Get(groupCtx, certificate.Institution)
		return err
	})
	group.Go(func() error {
		var err error
		count, err = h.verifications.Count(groupCtx, certID)
		return err
	})
	if err := group.Wait(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, detailResponse{
		Certificate:   certificate,
		Institution:   institution,
		Verifications: count,
	})
}
