package store

import (
	"context"
	"database/sql"
	"fmt"

	"certledger/internal/verification/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/tx"
)

// PostgresStore persists the audit trail in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed verification store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, record models.VerificationRecord) error {
	query := `
		INSERT INTO verifications (id, certificate_id, verifier, category, verified_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, query,
		record.ID,
		uint64(record.CertificateID),
		record.Verifier.String(),
		record.Category,
		record.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("append verification: %w", err)
	}
	return nil
}

// ListByCertificate returns a page of records ordered by timestamp ascending;
// the id tiebreak keeps pagination stable across equal timestamps.
func (s *PostgresStore) ListByCertificate(ctx context.Context, certID id.CertificateID, offset, limit int) ([]models.VerificationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, certificate_id, verifier, category, verified_at
		FROM verifications
		WHERE certificate_id = $1
		ORDER BY verified_at, id
		OFFSET $2 LIMIT $3
	`
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, query, uint64(certID), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []models.VerificationRecord
	for rows.Next() {
		var record models.VerificationRecord
		var rawCertID uint64
		var verifier string
		if err := rows.Scan(&record.ID, &rawCertID, &verifier, &record.Category, &record.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		record.CertificateID = id.CertificateID(rawCertID)
		record.Verifier = id.Address(verifier)
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountByCertificate(ctx context.Context, certID id.CertificateID) (uint64, error) {
	var count uint64
	err := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verifications WHERE certificate_id = $1`, uint64(certID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count verifications: %w", err)
	}
	return count, nil
}
