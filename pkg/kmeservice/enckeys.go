package kmeservice

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/krich11/kme-sub000/internal/platform"
	"github.com/krich11/kme-sub000/internal/telemetry"
	"github.com/krich11/kme-sub000/pkg/etsimodel"
	"github.com/krich11/kme-sub000/pkg/keystore"
	"github.com/krich11/kme-sub000/pkg/kmeerror"
)

// GetKey implements the enc_keys pipeline (spec.md §4.6): validate,
// negotiate extensions, check availability, materialize, assemble —
// strictly in that order, with nothing persisted if an earlier step fails.
func (s *Services) GetKey(ctx context.Context, masterSAEID, slaveSAEID, requestID string, req etsimodel.KeyRequest) (*etsimodel.KeyContainer, error) {
	ctx, span := tracer.Start(ctx, "enc_keys")
	defer span.End()

	start := time.Now()

	// 1. Validate.
	if !etsimodel.IsValidSAEID(slaveSAEID) {
		return nil, kmeerror.InvalidRequest("malformed slave SAE ID", kmeerror.Detail{Param: "slave_SAE_ID", Reason: "must be 16 characters"})
	}
	limits := s.saeLimits(ctx, slaveSAEID)
	if fieldErrs := etsimodel.ValidateKeyRequest(&req, limits, slaveSAEID); len(fieldErrs) > 0 {
		return nil, kmeerror.InvalidRequest("request failed validation", toDetails(fieldErrs)...)
	}

	// 2. Extension negotiation.
	if unsupported := s.unsupportedMandatoryExtensions(req.ExtensionMandatory); len(unsupported) > 0 {
		return nil, kmeerror.ExtensionUnsupported(unsupported)
	}

	n := req.ResolvedNumber()
	size := req.ResolvedSize(s.cfg.Limits.DefaultKeySize)

	// 3. Availability.
	if err := s.pool.EnsureAvailable(ctx, n); err != nil {
		return nil, err
	}

	// 4. Materialize: reserve from the pre-generated pool first, then
	// top up any shortfall directly from the generator.
	expiresAt := time.Now().Add(time.Duration(s.cfg.KeyExpirySecs) * time.Second)
	var reserved []keystore.Key
	err := platform.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var txErr error
		reserved, txErr = keystore.NewStore(tx, s.cipher).ReserveAndBind(ctx, n, size, masterSAEID, slaveSAEID, req.AdditionalSlaveSAEIDs, expiresAt)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	shortfall := n - len(reserved)
	if shortfall > 0 {
		raw, err := s.generator.Generate(ctx, shortfall, size)
		if err != nil {
			return nil, kmeerror.ServiceUnavailable("generating key material", err)
		}
		for _, rk := range raw {
			keyID := s.newKeyID()
			if err := s.keys.StoreKey(ctx, keystore.StoreKeyParams{
				KeyID:                 keyID,
				Plaintext:             rk.Plaintext,
				MasterSAEID:           masterSAEID,
				SlaveSAEID:            slaveSAEID,
				AdditionalSlaveSAEIDs: req.AdditionalSlaveSAEIDs,
				KeySizeBits:           size,
				ExpiresAt:             expiresAt,
				Metadata:              rk.QualityMetrics,
			}); err != nil {
				return nil, err
			}
			reserved = append(reserved, keystore.Key{
				Record:    keystore.Record{KeyID: keyID, KeySizeBits: size},
				Plaintext: rk.Plaintext,
			})
		}
	}
	s.pool.Invalidate()

	// 5. Assemble container.
	keys := make([]etsimodel.Key, 0, len(reserved))
	keyIDs := make([]uuid.UUID, 0, len(reserved))
	for _, k := range reserved {
		keys = append(keys, etsimodel.Key{
			KeyID: k.KeyID.String(),
			Key:   base64.StdEncoding.EncodeToString(k.Plaintext),
		})
		keyIDs = append(keyIDs, k.KeyID)
	}

	if s.audit != nil {
		s.audit.LogKeyDistribution(masterSAEID, slaveSAEID, keyIDs, time.Since(start), requestID)
	}
	telemetry.KeysIssuedTotal.WithLabelValues(masterSAEID).Add(float64(len(keys)))

	return &etsimodel.KeyContainer{Keys: keys}, nil
}

// unsupportedMandatoryExtensions returns the names of any extension in
// exts this KME does not implement. An empty SupportedExtensions set
// means every mandatory extension is unsupported, per spec.md §4.1.
func (s *Services) unsupportedMandatoryExtensions(exts []etsimodel.Extension) []string {
	var unsupported []string
	for _, ext := range exts {
		for name := range ext {
			if !s.cfg.SupportedExtensions[name] {
				unsupported = append(unsupported, name)
			}
		}
	}
	return unsupported
}

func toDetails(fieldErrs []etsimodel.FieldError) []kmeerror.Detail {
	out := make([]kmeerror.Detail, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, kmeerror.Detail{Param: fe.Field, Reason: fe.Reason})
	}
	return out
}
