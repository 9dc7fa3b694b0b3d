// Package keystore owns the persistence of key records: encryption at
// rest, integrity verification on read, authorization-gated retrieval,
// and background cleanup (spec §4.3). It knows nothing of HTTP, the
// pool manager, or the generator — storage is the leaf of the
// dependency order and is called one-way by everything above it.
package keystore

import (
	"time"

	"github.com/google/uuid"
)

// Role selects which side of a key record get-keys-by-sae queries against.
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Record is the durable, non-secret view of a key: everything except
// the plaintext itself.
type Record struct {
	KeyID                 uuid.UUID
	MasterSAEID           string
	SlaveSAEID            string
	AdditionalSlaveSAEIDs []string
	KeySizeBits           int
	CreatedAt             time.Time
	ExpiresAt             time.Time
	IsActive              bool
	IsConsumed            bool
	Metadata              map[string]any
}

// Key is a Record with its decrypted plaintext, returned only from a
// successful RetrieveKey call.
type Key struct {
	Record
	Plaintext []byte
}

// PoolCounters is the raw tally storage exposes; the pool manager
// derives health classifications from it.
type PoolCounters struct {
	Total    int
	Active   int
	Expired  int
	Consumed int
}

// StoreKeyParams are the validated inputs to StoreKey.
type StoreKeyParams struct {
	KeyID                 uuid.UUID
	Plaintext             []byte
	MasterSAEID           string
	SlaveSAEID            string
	AdditionalSlaveSAEIDs []string
	KeySizeBits           int
	ExpiresAt             time.Time
	Metadata              map[string]any
}
