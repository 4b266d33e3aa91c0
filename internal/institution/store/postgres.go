package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"certledger/internal/institution/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/platform/tx"
)

// PostgresStore persists institutions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed institution store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateIfAbsent atomically registers the institution if the identity is not
// already taken. Uniqueness rides on the primary key.
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, institution *models.Institution) error {
	if institution == nil {
		return fmt.Errorf("institution is required")
	}
	query := `
		INSERT INTO institutions (identity, name, registration_number, registered, active, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, query,
		institution.Identity.String(),
		institution.Name,
		institution.RegistrationNumber,
		institution.Registered,
		institution.Active,
		institution.RegisteredAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("institution identity taken: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create institution: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, institution *models.Institution) error {
	if institution == nil {
		return fmt.Errorf("institution is required")
	}
	query := `
		UPDATE institutions
		SET name = $2, registration_number = $3, active = $4
		WHERE identity = $1
	`
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, query,
		institution.Identity.String(),
		institution.Name,
		institution.RegistrationNumber,
		institution.Active,
	)
	if err != nil {
		return fmt.Errorf("update institution: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update institution rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByIdentity(ctx context.Context, identity id.Address) (*models.Institution, error) {
	query := `
		SELECT identity, name, registration_number, registered, active, registered_at
		FROM institutions
		WHERE identity = $1
	`
	row := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, identity.String())

	var institution models.Institution
	var rawIdentity string
	err := row.Scan(
		&rawIdentity,
		&institution.Name,
		&institution.RegistrationNumber,
		&institution.Registered,
		&institution.Active,
		&institution.RegisteredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find institution: %w", err)
	}
	institution.Identity = id.Address(rawIdentity)
	return &institution, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM institutions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count institutions: %w", err)
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
