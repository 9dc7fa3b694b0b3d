package keygen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomGenerator_ProducesRequestedCountAndSize(t *testing.T) {
	g := NewRandomGenerator()
	keys, err := g.Generate(context.Background(), 5, 256)
	require.NoError(t, err)
	require.Len(t, keys, 5)
	for _, k := range keys {
		assert.Len(t, k.Plaintext, 32)
	}
}

func TestRandomGenerator_RejectsNonMultipleOf8(t *testing.T) {
	g := NewRandomGenerator()
	_, err := g.Generate(context.Background(), 1, 65)
	assert.Error(t, err)
}

func TestRandomGenerator_KeysAreDistinct(t *testing.T) {
	g := NewRandomGenerator()
	keys, err := g.Generate(context.Background(), 2, 256)
	require.NoError(t, err)
	assert.NotEqual(t, keys[0].Plaintext, keys[1].Plaintext)
}
