// Package kmeservice wires storage, the pool manager, the SAE
// registry, and the authorization primitive into the three ETSI
// request pipelines (spec.md §4.5-§4.7). Services is constructed once
// at startup and passed by dependency injection to internal/httpapi —
// there is no global singleton anywhere in this module (REDESIGN FLAGS).
package kmeservice

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/krich11/kme-sub000/internal/telemetry"
	"github.com/krich11/kme-sub000/pkg/audit"
	"github.com/krich11/kme-sub000/pkg/etsimodel"
	"github.com/krich11/kme-sub000/pkg/keygen"
	"github.com/krich11/kme-sub000/pkg/keypool"
	"github.com/krich11/kme-sub000/pkg/keystore"
	"github.com/krich11/kme-sub000/pkg/saestore"
)

// tracer is the shared OpenTelemetry tracer for the three ETSI request
// pipelines, one span per operation (status / enc_keys / dec_keys).
var tracer = telemetry.Tracer("kmeservice")

// Identity is the KME's own configured identity, distinct from any SAE.
type Identity struct {
	KMEID string
}

// Config carries the operational limits that shape the pipelines
// (spec.md §6's configuration table).
type Config struct {
	Identity
	Limits          etsimodel.Limits
	MaxKeyCount     int
	MinKeyThreshold int
	KeyExpirySecs   int
	SingleUseKeys   bool
	SupportedExtensions map[string]bool
}

// Services is the dependency-injected aggregate the HTTP layer calls
// into. None of its fields are package-level singletons.
type Services struct {
	cfg       Config
	db        *pgxpool.Pool
	cipher    *keystore.Cipher
	keys      *keystore.Store
	pool      *keypool.Manager
	saes      *saestore.Store
	generator keygen.Generator
	audit     *audit.Writer
	logger    *slog.Logger
}

// New builds a Services aggregate. auditWriter may be nil to disable
// event recording (e.g. in tests). db and cipher are kept alongside
// keys so GetKeyWithIDs can open an explicit scoped transaction for
// its all-or-nothing batch (REDESIGN FLAGS: the pipeline owns the
// transaction boundary, not the individual store methods).
func New(cfg Config, db *pgxpool.Pool, cipher *keystore.Cipher, keys *keystore.Store, pool *keypool.Manager, saes *saestore.Store, generator keygen.Generator, auditWriter *audit.Writer, logger *slog.Logger) *Services {
	return &Services{
		cfg:       cfg,
		db:        db,
		cipher:    cipher,
		keys:      keys,
		pool:      pool,
		saes:      saes,
		generator: generator,
		audit:     auditWriter,
		logger:    logger,
	}
}

func (s *Services) newKeyID() uuid.UUID {
	return uuid.New()
}

// ListKeysBySAE returns the non-secret records currently active,
// unexpired, and owned-by-or-deliverable-to saeID (spec.md §4.3's
// debug/operational visibility into the key store, distinct from the
// ETSI-facing operations which always return plaintext).
func (s *Services) ListKeysBySAE(ctx context.Context, saeID string, role keystore.Role, limit int) ([]keystore.Record, error) {
	return s.keys.GetKeysBySAE(ctx, saeID, role, limit)
}

// saeLimits returns the effective validation bounds for saeID: its own
// registered per-SAE limits (spec.md §3's max_keys_per_request,
// max_key_size, min_key_size) when it is registered, falling back to
// the KME-wide configured defaults for a SAE this KME hasn't seen yet.
func (s *Services) saeLimits(ctx context.Context, saeID string) etsimodel.Limits {
	limits := s.cfg.Limits
	if s.saes == nil {
		return limits
	}
	record, err := s.saes.Get(ctx, saeID)
	if err != nil {
		return limits
	}
	limits.MaxKeysPerRequest = record.MaxKeysPerRequest
	limits.MaxKeySize = record.MaxKeySize
	limits.MinKeySize = record.MinKeySize
	return limits
}
