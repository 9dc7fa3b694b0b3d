package saestore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/krich11/kme-sub000/internal/platform"
	"github.com/krich11/kme-sub000/pkg/kmeerror"
)

// Store persists SAE registry records.
type Store struct {
	db platform.DBTX
}

// NewStore builds a Store bound to a database handle.
func NewStore(db platform.DBTX) *Store {
	return &Store{db: db}
}

const saeColumns = `sae_id, kme_id, certificate_fingerprint, status, max_keys_per_request, max_key_size, min_key_size, registered_at, updated_at`

func scanSAERow(r pgx.Row) (Record, error) {
	var out Record
	err := r.Scan(&out.SAEID, &out.KMEID, &out.CertificateFingerprint, &out.Status,
		&out.MaxKeysPerRequest, &out.MaxKeySize, &out.MinKeySize, &out.RegisteredAt, &out.UpdatedAt)
	return out, err
}

// Register inserts a new SAE in the active state, or returns
// InvalidRequest if sae_id is already registered.
func (s *Store) Register(ctx context.Context, p RegisterParams) (*Record, error) {
	query := `INSERT INTO saes (sae_id, kme_id, certificate_fingerprint, status, max_keys_per_request, max_key_size, min_key_size, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING ` + saeColumns
	record, err := scanSAERow(s.db.QueryRow(ctx, query, p.SAEID, p.KMEID, p.CertificateFingerprint, StatusActive, p.MaxKeysPerRequest, p.MaxKeySize, p.MinKeySize))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, kmeerror.InvalidRequest("sae already registered", kmeerror.Detail{Param: "SAE_ID", Reason: "already exists"})
		}
		return nil, kmeerror.StorageUnavailable(err)
	}
	return &record, nil
}

// LookupByFingerprint resolves a certificate fingerprint to a SAE ID
// and whether it is currently active, satisfying pkg/saeauth.Registry.
func (s *Store) LookupByFingerprint(ctx context.Context, fingerprint string) (string, bool, error) {
	query := `SELECT sae_id, status FROM saes WHERE certificate_fingerprint = $1`
	var saeID string
	var status Status
	err := s.db.QueryRow(ctx, query, fingerprint).Scan(&saeID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, kmeerror.StorageUnavailable(err)
	}
	return saeID, status == StatusActive, nil
}

// Get returns the SAE record by ID, or NotFound.
func (s *Store) Get(ctx context.Context, saeID string) (*Record, error) {
	query := `SELECT ` + saeColumns + ` FROM saes WHERE sae_id = $1`
	record, err := scanSAERow(s.db.QueryRow(ctx, query, saeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kmeerror.NotFound("sae not registered", kmeerror.Detail{Param: "SAE_ID", Reason: saeID})
		}
		return nil, kmeerror.StorageUnavailable(err)
	}
	return &record, nil
}

// SetStatus transitions a SAE's lifecycle state (spec.md §4.9's state
// machine; transition legality is enforced by the caller, not here).
func (s *Store) SetStatus(ctx context.Context, saeID string, status Status) error {
	tag, err := s.db.Exec(ctx, `UPDATE saes SET status = $2, updated_at = now() WHERE sae_id = $1`, saeID, status)
	if err != nil {
		return kmeerror.StorageUnavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return kmeerror.NotFound("sae not registered", kmeerror.Detail{Param: "SAE_ID", Reason: saeID})
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
