package kmeservice

import (
	"context"

	"github.com/krich11/kme-sub000/pkg/etsimodel"
	"github.com/krich11/kme-sub000/pkg/kmeerror"
)

// GetStatus implements the Get Status pipeline (spec.md §4.5). It never
// blocks on a background task and never triggers replenishment.
func (s *Services) GetStatus(ctx context.Context, masterSAEID, slaveSAEID string) (*etsimodel.Status, error) {
	ctx, span := tracer.Start(ctx, "status")
	defer span.End()

	if !etsimodel.IsValidSAEID(slaveSAEID) {
		return nil, kmeerror.InvalidRequest("malformed slave SAE ID", kmeerror.Detail{Param: "slave_SAE_ID", Reason: "must be 16 characters"})
	}

	snapshot, err := s.pool.Status(ctx)
	if err != nil {
		return nil, kmeerror.ServiceUnavailable("reading pool status", err)
	}

	limits := s.saeLimits(ctx, slaveSAEID)

	return &etsimodel.Status{
		SourceKMEID:      s.cfg.KMEID,
		TargetKMEID:      s.cfg.KMEID,
		MasterSAEID:      masterSAEID,
		SlaveSAEID:       slaveSAEID,
		KeySize:          limits.DefaultKeySize,
		StoredKeyCount:   snapshot.Active,
		MaxKeyCount:      s.cfg.MaxKeyCount,
		MaxKeyPerRequest: limits.MaxKeysPerRequest,
		MaxKeySize:       limits.MaxKeySize,
		MinKeySize:       limits.MinKeySize,
		MaxSAEIDCount:    limits.MaxSAEIDCount,
	}, nil
}
