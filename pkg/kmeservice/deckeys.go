package kmeservice

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/krich11/kme-sub000/internal/platform"
	"github.com/krich11/kme-sub000/internal/telemetry"
	"github.com/krich11/kme-sub000/pkg/audit"
	"github.com/krich11/kme-sub000/pkg/authz"
	"github.com/krich11/kme-sub000/pkg/etsimodel"
	"github.com/krich11/kme-sub000/pkg/keystore"
	"github.com/krich11/kme-sub000/pkg/kmeerror"
)

// GetKeyWithIDs implements the dec_keys pipeline (spec.md §4.7):
// validate, look up every id, fail the whole request if any is
// unresolved (all-or-nothing, preventing existence leakage), consume,
// assemble. The entire lookup-and-consume batch runs inside one
// transaction so a later id's failure rolls back any consumption
// already applied to earlier ids in the same batch.
func (s *Services) GetKeyWithIDs(ctx context.Context, masterSAEID, requesterSAEID, requestID string, req etsimodel.KeyIDs) (*etsimodel.KeyContainer, error) {
	ctx, span := tracer.Start(ctx, "dec_keys")
	defer span.End()

	start := time.Now()

	// 1. Validate.
	if !etsimodel.IsValidSAEID(masterSAEID) {
		return nil, kmeerror.InvalidRequest("malformed master SAE ID", kmeerror.Detail{Param: "master_SAE_ID", Reason: "must be 16 characters"})
	}
	limits := s.saeLimits(ctx, requesterSAEID)
	if fieldErrs := etsimodel.ValidateKeyIDs(&req, limits.MaxKeysPerRequest); len(fieldErrs) > 0 {
		return nil, kmeerror.InvalidRequest("request failed validation", toDetails(fieldErrs)...)
	}

	var result etsimodel.KeyContainer
	err := platform.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		txKeys := keystore.NewStore(tx, s.cipher)

		keys := make([]etsimodel.Key, 0, len(req.KeyIDs))
		var unresolved []kmeerror.Detail
		for _, entry := range req.KeyIDs {
			id, err := uuid.Parse(entry.KeyID)
			if err != nil {
				unresolved = append(unresolved, kmeerror.Detail{Param: "key_ID", Reason: entry.KeyID})
				if s.audit != nil {
					s.audit.LogKeyAccess(requesterSAEID, uuid.Nil, "lookup_failed", audit.OutcomeFailure, requestID)
				}
				continue
			}

			key, err := txKeys.RetrieveKey(ctx, id, requesterSAEID, authz.OpDecKeys, masterSAEID, s.cfg.SingleUseKeys)
			if err != nil {
				if s.audit != nil {
					s.audit.LogKeyAccess(requesterSAEID, id, "retrieval_failed", audit.OutcomeFailure, requestID)
					if kerr, ok := err.(*kmeerror.Error); ok && kerr.Kind == kmeerror.KindIntegrityError {
						s.audit.LogSecurityEvent(requesterSAEID, id, "integrity_check_failed", audit.SeverityCritical)
					}
				}
				unresolved = append(unresolved, kmeerror.Detail{Param: "key_ID", Reason: entry.KeyID})
				continue
			}

			keys = append(keys, etsimodel.Key{
				KeyID: key.KeyID.String(),
				Key:   base64.StdEncoding.EncodeToString(key.Plaintext),
			})
		}

		// 3. All-or-nothing policy: any unresolved id fails (and, via
		// the transaction rollback, un-consumes) the whole batch.
		if len(unresolved) > 0 {
			return kmeerror.InvalidRequest("one or more key IDs could not be resolved", unresolved...)
		}

		result = etsimodel.KeyContainer{Keys: keys}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		keyIDs := make([]uuid.UUID, 0, len(result.Keys))
		for _, k := range result.Keys {
			if id, parseErr := uuid.Parse(k.KeyID); parseErr == nil {
				s.audit.LogKeyAccess(requesterSAEID, id, "consumed", audit.OutcomeSuccess, requestID)
				keyIDs = append(keyIDs, id)
			}
		}
		s.audit.LogKeyDistribution(masterSAEID, requesterSAEID, keyIDs, time.Since(start), requestID)
	}
	telemetry.KeysConsumedTotal.WithLabelValues(requesterSAEID).Add(float64(len(result.Keys)))

	return &result, nil
}
