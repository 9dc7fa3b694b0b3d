// Package keygen defines the narrow interface the pool manager consumes
// to obtain raw quantum-derived key material (spec §2, dependency 4).
// The actual QKD substrate is out of scope; this package provides the
// interface and a development-only generator that produces
// cryptographically random bytes so the rest of the system can be
// exercised without real QKD hardware.
package keygen

import (
	"context"
	"crypto/rand"
	"fmt"
)

// RawKey is one undelivered key as produced by the generator, before it
// is bound to a master/slave pair and persisted.
type RawKey struct {
	Plaintext []byte
	// QualityMetrics carries generator-reported quality figures (e.g.
	// qber, detector_efficiency) when available; nil otherwise.
	QualityMetrics map[string]any
}

// Generator produces raw key material of a given size. Implementations
// may be backed by a real QKD link, a simulator, or (as here) a random
// source; the pool manager does not distinguish them.
type Generator interface {
	Generate(ctx context.Context, n int, sizeBits int) ([]RawKey, error)
}

// RandomGenerator produces cryptographically random bytes. It is the
// default Generator wired when no QKD substrate is configured — a
// placeholder for the real generator, not a simulation of QKD physics.
type RandomGenerator struct{}

// NewRandomGenerator builds a RandomGenerator.
func NewRandomGenerator() *RandomGenerator { return &RandomGenerator{} }

// Generate produces n random keys of sizeBits bits each.
func (g *RandomGenerator) Generate(ctx context.Context, n int, sizeBits int) ([]RawKey, error) {
	if sizeBits <= 0 || sizeBits%8 != 0 {
		return nil, fmt.Errorf("invalid key size %d bits: must be a positive multiple of 8", sizeBits)
	}

	keys := make([]RawKey, 0, n)
	buf := make([]byte, sizeBits/8)
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return keys, ctx.Err()
		default:
		}

		plaintext := make([]byte, len(buf))
		if _, err := rand.Read(plaintext); err != nil {
			return keys, fmt.Errorf("generating key %d/%d: %w", i+1, n, err)
		}
		keys = append(keys, RawKey{
			Plaintext:      plaintext,
			QualityMetrics: map[string]any{"source": "backfill"},
		})
	}
	return keys, nil
}
