package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/krich11/kme-sub000/internal/platform"
	"github.com/krich11/kme-sub000/pkg/authz"
	"github.com/krich11/kme-sub000/pkg/kmeerror"
)

// Store persists key records. dbtx may be a *pgxpool.Pool or a pgx.Tx —
// callers that need the all-or-nothing dec_keys batch guarantee of
// spec §4.7 construct a Store over a transaction via platform.WithTx.
type Store struct {
	db     platform.DBTX
	cipher *Cipher
}

// NewStore builds a Store bound to a database handle and master cipher.
func NewStore(db platform.DBTX, cipher *Cipher) *Store {
	return &Store{db: db, cipher: cipher}
}

const keyColumns = `key_id, master_sae_id, slave_sae_id, additional_slave_sae_ids,
	key_size_bits, created_at, expires_at, is_active, is_consumed, metadata,
	ciphertext, nonce, integrity_hash, salt`

type row struct {
	Record
	sealed
}

func scanKeyRow(r pgx.Row) (row, error) {
	var out row
	var metadata []byte
	err := r.Scan(
		&out.KeyID, &out.MasterSAEID, &out.SlaveSAEID, &out.AdditionalSlaveSAEIDs,
		&out.KeySizeBits, &out.CreatedAt, &out.ExpiresAt, &out.IsActive, &out.IsConsumed, &metadata,
		&out.Ciphertext, &out.Nonce, &out.IntegrityHash, &out.Salt,
	)
	if err != nil {
		return row{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &out.Metadata); err != nil {
			return row{}, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return out, nil
}

// StoreKey persists a new record. key_id must be unique across all
// records, active or not.
func (s *Store) StoreKey(ctx context.Context, p StoreKeyParams) error {
	if p.MasterSAEID == p.SlaveSAEID {
		return kmeerror.InvalidRequest("master and slave SAE IDs must differ")
	}

	sealedKey, err := s.cipher.seal(p.Plaintext)
	if err != nil {
		return kmeerror.ServiceUnavailable("sealing key material", err)
	}

	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	query := `INSERT INTO keys (` + keyColumns + `)
		VALUES ($1,$2,$3,$4,$5,now(),$6,true,false,$7,$8,$9,$10,$11)`
	_, err = s.db.Exec(ctx, query,
		p.KeyID, p.MasterSAEID, p.SlaveSAEID, p.AdditionalSlaveSAEIDs,
		p.KeySizeBits, p.ExpiresAt, metadata,
		sealedKey.Ciphertext, sealedKey.Nonce, sealedKey.IntegrityHash, sealedKey.Salt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return kmeerror.InvalidRequest("duplicate key_id", kmeerror.Detail{Param: "key_ID", Reason: "already exists"})
		}
		return kmeerror.StorageUnavailable(err)
	}
	return nil
}

// RetrieveKey returns the plaintext-bearing Key for id iff the record is
// active, unexpired, and requester is authorized for op. When op is
// dec_keys and requireUnconsumed is set, an already-consumed record is
// reported as NotFound (single-use semantics, spec §4.3).
func (s *Store) RetrieveKey(ctx context.Context, id uuid.UUID, requester string, op authz.Operation, allegedMaster string, requireUnconsumed bool) (*Key, error) {
	query := `SELECT ` + keyColumns + ` FROM keys
		WHERE key_id = $1 AND is_active = true AND expires_at > now()
		AND (NOT $2 OR is_consumed = false)
		FOR UPDATE`
	r, err := scanKeyRow(s.db.QueryRow(ctx, query, id, requireUnconsumed))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kmeerror.NotFound("key not found or no longer deliverable", kmeerror.Detail{Param: "key_ID", Reason: id.String()})
		}
		return nil, kmeerror.StorageUnavailable(err)
	}

	decision := authz.Authorize(authz.Record{
		MasterSAEID:           r.MasterSAEID,
		SlaveSAEID:            r.SlaveSAEID,
		AdditionalSlaveSAEIDs: r.AdditionalSlaveSAEIDs,
	}, requester, op, allegedMaster)
	if !decision.Allowed {
		return nil, kmeerror.Unauthorized(decision.Reason)
	}

	plaintext, ok, err := s.cipher.open(r.sealed)
	if err != nil {
		return nil, kmeerror.ServiceUnavailable("opening key material", err)
	}
	if !ok {
		if _, markErr := s.db.Exec(ctx, `UPDATE keys SET is_active = false WHERE key_id = $1`, id); markErr != nil {
			return nil, kmeerror.StorageUnavailable(markErr)
		}
		return nil, kmeerror.IntegrityError(id.String(), nil)
	}

	if op == authz.OpDecKeys && requireUnconsumed {
		tag, err := s.db.Exec(ctx, `UPDATE keys SET is_consumed = true WHERE key_id = $1 AND is_consumed = false`, id)
		if err != nil {
			return nil, kmeerror.StorageUnavailable(err)
		}
		if tag.RowsAffected() == 0 {
			return nil, kmeerror.NotFound("key not found or no longer deliverable", kmeerror.Detail{Param: "key_ID", Reason: id.String()})
		}
		r.IsConsumed = true
	}

	return &Key{Record: r.Record, Plaintext: plaintext}, nil
}

// GetKeysBySAE returns currently active, unexpired keys owned by (role
// master) or deliverable to (role slave) sae, most recent first.
func (s *Store) GetKeysBySAE(ctx context.Context, sae string, role Role, limit int) ([]Record, error) {
	var where string
	switch role {
	case RoleMaster:
		where = "master_sae_id = $1"
	case RoleSlave:
		where = "(slave_sae_id = $1 OR $1 = ANY(additional_slave_sae_ids))"
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	query := `SELECT ` + keyColumns + ` FROM keys
		WHERE ` + where + ` AND is_active = true AND expires_at > now()
		ORDER BY created_at DESC LIMIT $2`
	rows, err := s.db.Query(ctx, query, sae, limit)
	if err != nil {
		return nil, kmeerror.StorageUnavailable(err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanKeyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning key row: %w", err)
		}
		out = append(out, r.Record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating key rows: %w", err)
	}
	return out, nil
}

// CleanupExpired soft-deletes (is_active=false) all records past expiry
// and returns the number affected. It never hard-deletes; expired
// records remain for audit.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `UPDATE keys SET is_active = false WHERE is_active = true AND expires_at <= now()`)
	if err != nil {
		return 0, kmeerror.StorageUnavailable(err)
	}
	return int(tag.RowsAffected()), nil
}

// PoolCounters returns the raw tallies the pool manager classifies.
func (s *Store) PoolCounters(ctx context.Context) (PoolCounters, error) {
	query := `SELECT
		count(*),
		count(*) FILTER (WHERE is_active AND NOT is_consumed AND expires_at > now()),
		count(*) FILTER (WHERE expires_at <= now()),
		count(*) FILTER (WHERE is_consumed)
		FROM keys`
	var c PoolCounters
	err := s.db.QueryRow(ctx, query).Scan(&c.Total, &c.Active, &c.Expired, &c.Consumed)
	if err != nil {
		return PoolCounters{}, kmeerror.StorageUnavailable(err)
	}
	return c, nil
}

// Pool sentinel SAE IDs mark records generated ahead of demand by the
// replenishment loop, not yet bound to a real master/slave pair. They
// are 16-character tokens like any other SAE ID but are never
// registered in the SAE directory, so no real client can ever present
// them. ReserveAndBind re-binds these records to the real requesting
// parties at materialization time (spec §4.6's "reserve from pool" path).
const (
	PoolSentinelMasterSAEID = "POOLRESERVEMASTR"
	PoolSentinelSlaveSAEID  = "POOLRESERVESLAVE"
)

// ReserveAndBind claims up to n currently-floating pool records of the
// given size and rebinds them to the real master/slave pair for this
// request, returning their decrypted plaintext. It may return fewer
// than n keys if the floating pool does not hold enough of that size;
// callers top up the shortfall via the generator and StoreKey directly.
func (s *Store) ReserveAndBind(ctx context.Context, n, sizeBits int, masterSAEID, slaveSAEID string, additionalSlaveSAEIDs []string, expiresAt time.Time) ([]Key, error) {
	if n <= 0 {
		return nil, nil
	}

	query := `SELECT ` + keyColumns + ` FROM keys
		WHERE master_sae_id = $1 AND is_active = true AND is_consumed = false
		AND expires_at > now() AND key_size_bits = $2
		ORDER BY created_at LIMIT $3
		FOR UPDATE SKIP LOCKED`
	rows, err := s.db.Query(ctx, query, PoolSentinelMasterSAEID, sizeBits, n)
	if err != nil {
		return nil, kmeerror.StorageUnavailable(err)
	}

	var claimed []row
	for rows.Next() {
		r, err := scanKeyRow(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning reserved key row: %w", err)
		}
		claimed = append(claimed, r)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterating reserved key rows: %w", rowsErr)
	}

	out := make([]Key, 0, len(claimed))
	for _, r := range claimed {
		plaintext, ok, err := s.cipher.open(r.sealed)
		if err != nil {
			return nil, kmeerror.ServiceUnavailable("opening reserved key material", err)
		}
		if !ok {
			if _, markErr := s.db.Exec(ctx, `UPDATE keys SET is_active = false WHERE key_id = $1`, r.KeyID); markErr != nil {
				return nil, kmeerror.StorageUnavailable(markErr)
			}
			continue
		}

		_, err = s.db.Exec(ctx, `UPDATE keys SET master_sae_id = $2, slave_sae_id = $3,
			additional_slave_sae_ids = $4, expires_at = $5 WHERE key_id = $1`,
			r.KeyID, masterSAEID, slaveSAEID, additionalSlaveSAEIDs, expiresAt)
		if err != nil {
			return nil, kmeerror.StorageUnavailable(err)
		}

		r.MasterSAEID = masterSAEID
		r.SlaveSAEID = slaveSAEID
		r.AdditionalSlaveSAEIDs = additionalSlaveSAEIDs
		r.ExpiresAt = expiresAt
		out = append(out, Key{Record: r.Record, Plaintext: plaintext})
	}

	return out, nil
}

// GenerationRate24h returns the number of records created in the
// trailing 24 hours, used by the pool manager's health recommendations.
func (s *Store) GenerationRate24h(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM keys WHERE created_at > now() - interval '24 hours'`).Scan(&n)
	if err != nil {
		return 0, kmeerror.StorageUnavailable(err)
	}
	return n, nil
}

// ConsumptionRate24h returns the number of records created in the
// trailing 24 hours that have since been consumed. No consumption time
// is stored, so a record created earlier and consumed within the last
// 24 hours is not counted.
func (s *Store) ConsumptionRate24h(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM keys WHERE is_consumed AND created_at > now() - interval '24 hours'`).Scan(&n)
	if err != nil {
		return 0, kmeerror.StorageUnavailable(err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
