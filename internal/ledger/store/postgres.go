package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"certledger/internal/ledger/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/platform/tx"
)

// PostgresStore persists the ledger in PostgreSQL. Issuance runs in a single
// transaction: the counter row lock serializes id allocation and the unique
// index on fingerprint enforces content uniqueness; a duplicate rolls the
// counter back so the id sequence stays gapless.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ledger store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Issue(ctx context.Context, certificate *models.Certificate) (id.CertificateID, error) {
	if certificate == nil {
		return 0, fmt.Errorf("certificate is required")
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin issue tx: %w", sentinel.ErrUnavailable)
	}
	defer dbtx.Rollback() //nolint:errcheck // no-op after commit

	var next uint64
	err = dbtx.QueryRowContext(ctx,
		`UPDATE ledger_counter SET next_id = next_id + 1 RETURNING next_id`,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("allocate certificate id: %w", err)
	}

	_, err = dbtx.ExecContext(ctx, `
		INSERT INTO certificates
			(id, institution, recipient, fingerprint, metadata_fingerprint,
			 certificate_type, course_name, grade, issued_at, is_valid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		next,
		certificate.Institution.String(),
		certificate.Recipient.String(),
		certificate.Fingerprint.String(),
		nullable(certificate.MetadataFingerprint.String()),
		certificate.Type.String(),
		certificate.CourseName,
		certificate.Grade,
		certificate.IssuedAt,
		certificate.Valid,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("fingerprint already issued: %w", sentinel.ErrConflict)
		}
		return 0, fmt.Errorf("insert certificate: %w", err)
	}

	if err := dbtx.Commit(); err != nil {
		return 0, fmt.Errorf("commit issue tx: %w", sentinel.ErrUnavailable)
	}
	return id.CertificateID(next), nil
}

func (s *PostgresStore) FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	row := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, selectCertificate+` WHERE id = $1`, uint64(certID))
	return scanCertificate(row)
}

func (s *PostgresStore) FindByFingerprint(ctx context.Context, fp id.Fingerprint) (*models.Certificate, error) {
	row := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, selectCertificate+` WHERE fingerprint = $1`, fp.String())
	return scanCertificate(row)
}

func (s *PostgresStore) MarkRevoked(ctx context.Context, certID id.CertificateID) error {
	// Conditional update makes revocation races observable: zero rows means
	// either unknown id or already revoked, disambiguated below.
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE certificates SET is_valid = FALSE WHERE id = $1 AND is_valid`,
		uint64(certID),
	)
	if err != nil {
		return fmt.Errorf("revoke certificate: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke certificate rows: %w", err)
	}
	if rows == 1 {
		return nil
	}
	if _, err := s.FindByID(ctx, certID); err != nil {
		return err
	}
	return sentinel.ErrInvalidState
}

func (s *PostgresStore) ListByRecipient(ctx context.Context, recipient id.Address) ([]id.CertificateID, error) {
	return s.listIDs(ctx, `SELECT id FROM certificates WHERE recipient = $1 ORDER BY id`, recipient.String())
}

func (s *PostgresStore) ListByInstitution(ctx context.Context, institution id.Address) ([]id.CertificateID, error) {
	return s.listIDs(ctx, `SELECT id FROM certificates WHERE institution = $1 ORDER BY id`, institution.String())
}

// FindBatch resolves a set of ids in one round trip, silently skipping
// unknown ones. The mirror uses it during reconciliation.
func (s *PostgresStore) FindBatch(ctx context.Context, certIDs []id.CertificateID) ([]*models.Certificate, error) {
	if len(certIDs) == 0 {
		return nil, nil
	}
	raw := make([]int64, len(certIDs))
	for i, certID := range certIDs {
		raw[i] = int64(certID)
	}
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx,
		selectCertificate+` WHERE id = ANY($1) ORDER BY id`, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("find certificates batch: %w", err)
	}
	defer rows.Close()

	var out []*models.Certificate
	for rows.Next() {
		certificate, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, certificate)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (uint64, error) {
	var count uint64
	if err := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM certificates`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count certificates: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) listIDs(ctx context.Context, query, arg string) ([]id.CertificateID, error) {
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list certificate ids: %w", err)
	}
	defer rows.Close()

	var out []id.CertificateID
	for rows.Next() {
		var raw uint64
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan certificate id: %w", err)
		}
		out = append(out, id.CertificateID(raw))
	}
	return out, rows.Err()
}

const selectCertificate = `
	SELECT id, institution, recipient, fingerprint, metadata_fingerprint,
	       certificate_type, course_name, grade, issued_at, is_valid
	FROM certificates`

type certificateRow interface {
	Scan(dest ...any) error
}

func scanCertificate(row certificateRow) (*models.Certificate, error) {
	var certificate models.Certificate
	var rawID uint64
	var institution, recipient, fp, certType string
	var metadataFP sql.NullString
	err := row.Scan(
		&rawID,
		&institution,
		&recipient,
		&fp,
		&metadataFP,
		&certType,
		&certificate.CourseName,
		&certificate.Grade,
		&certificate.IssuedAt,
		&certificate.Valid,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan certificate: %w", err)
	}
	certificate.ID = id.CertificateID(rawID)
	certificate.Institution = id.Address(institution)
	certificate.Recipient = id.Address(recipient)
	certificate.Fingerprint = id.Fingerprint(fp)
	if metadataFP.Valid {
		certificate.MetadataFingerprint = id.Fingerprint(metadataFP.String)
	}
	certificate.Type = models.CertificateType(certType)
	return &certificate, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
