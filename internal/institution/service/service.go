package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"certledger/internal/events"
	instmetrics "certledger/internal/institution/metrics"
	"certledger/internal/institution/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

// Store defines the persistence contract for the directory.
type Store interface {
	CreateIfAbsent(ctx context.Context, institution *models.Institution) error
	Update(ctx context.Context, institution *models.Institution) error
	FindByIdentity(ctx context.Context, identity id.Address) (*models.Institution, error)
	Count(ctx context.Context) (int, error)
}

// Service is the institution directory: it tracks which actor identities are
// authorized issuers and answers the single authorization predicate the
// ledger consults before every write.
type Service struct {
	store     Store
	publisher events.Publisher
	metrics   *instmetrics.Metrics
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithMetrics(m *instmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new institution. The institution is registered and
// active immediately; there is no two-phase approval.
func (s *Service) Register(ctx context.Context, identity id.Address, name, registrationNumber string) (*models.Institution, error) {
	name = strings.TrimSpace(name)
	registrationNumber = strings.TrimSpace(registrationNumber)

	institution, err := models.NewInstitution(identity, name, registrationNumber, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateIfAbsent(ctx, institution); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeAlreadyRegistered, "institution identity is already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register institution")
	}

	s.publish(ctx, events.Event{
		Kind:        events.InstitutionRegistered,
		At:          institution.RegisteredAt,
		Institution: institution.Identity,
		Name:        institution.Name,
	})
	if s.metrics != nil {
		s.metrics.IncrementRegistered()
	}
	return institution, nil
}

// SetActive toggles the issuer's active status. Setting the current value
// again is a no-op: the institution is returned unchanged and no event is
// emitted.
func (s *Service) SetActive(ctx context.Context, identity id.Address, active bool) (*models.Institution, error) {
	if identity.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "institution identity is required")
	}

	institution, err := s.store.FindByIdentity(ctx, identity)
	if err != nil {
		return nil, wrapDirectoryErr(err)
	}

	if !institution.SetActive(active) {
		return institution, nil
	}

	if err := s.store.Update(ctx, institution); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update institution")
	}

	kind := events.InstitutionSuspended
	action := "suspended"
	if active {
		kind = events.InstitutionActivated
		action = "activated"
	}
	s.publish(ctx, events.Event{
		Kind:        kind,
		At:          requestcontext.Now(ctx),
		Institution: institution.Identity,
		Name:        institution.Name,
	})
	if s.metrics != nil {
		s.metrics.IncrementStatusChange(action)
	}
	return institution, nil
}

// IsAuthorizedIssuer reports whether the identity may issue and revoke
// certificates: registered AND active. Unknown identities are simply not
// authorized.
func (s *Service) IsAuthorizedIssuer(ctx context.Context, identity id.Address) (bool, error) {
	institution, err := s.store.FindByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "directory lookup failed")
	}
	return institution.IsAuthorizedIssuer(), nil
}

// Get retrieves an institution profile.
func (s *Service) Get(ctx context.Context, identity id.Address) (*models.Institution, error) {
	if identity.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "institution identity is required")
	}
	institution, err := s.store.FindByIdentity(ctx, identity)
	if err != nil {
		return nil, wrapDirectoryErr(err)
	}
	return institution, nil
}

// Count returns the number of registered institutions.
func (s *Service) Count(ctx context.Context) (int, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "directory count failed")
	}
	return count, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger.Warn("failed to publish directory event",
			"kind", string(event.Kind),
			"institution", event.Institution.String(),
			"error", err,
		)
	}
}

func wrapDirectoryErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "institution is not registered")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "directory lookup failed")
}
