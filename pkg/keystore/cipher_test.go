package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	hexKey, err := GenerateMasterKeyHex()
	require.NoError(t, err)
	c, err := NewCipher(hexKey)
	require.NoError(t, err)
	return c
}

func TestCipher_SealOpenRoundTrip(t *testing.T) {
	c := testCipher(t)
	plaintext := []byte("0123456789abcdef0123456789abcdef")

	s, err := c.seal(plaintext)
	require.NoError(t, err)

	got, ok, err := c.open(s)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, plaintext, got)
}

func TestCipher_TamperedCiphertextFailsIntegrity(t *testing.T) {
	c := testCipher(t)
	s, err := c.seal([]byte("secret-key-material"))
	require.NoError(t, err)

	s.Ciphertext[0] ^= 0xFF

	_, ok, err := c.open(s)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCipher_TamperedHashFailsIntegrity(t *testing.T) {
	c := testCipher(t)
	s, err := c.seal([]byte("secret-key-material"))
	require.NoError(t, err)

	s.IntegrityHash[0] ^= 0xFF

	_, ok, err := c.open(s)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCipher_WrongKeyCannotDecrypt(t *testing.T) {
	c1 := testCipher(t)
	c2 := testCipher(t)

	s, err := c1.seal([]byte("secret-key-material"))
	require.NoError(t, err)

	_, ok, err := c2.open(s)
	require.NoError(t, err)
	assert.False(t, ok)
}
