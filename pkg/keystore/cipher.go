package keystore

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher wraps the process-wide AEAD master key used to encrypt key
// material at rest (spec §4.3). ChaCha20-Poly1305 is the idiomatic Go
// stand-in for the reference implementation's Fernet: both are
// authenticated symmetric encryption under one process-wide key,
// refreshed only at restart.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a hex-encoded 32-byte master key.
func NewCipher(masterKeyHex string) (*Cipher, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("constructing AEAD cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// GenerateMasterKeyHex produces a fresh random 32-byte master key,
// hex-encoded, for use when none is configured (development only).
func GenerateMasterKeyHex() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating master key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// sealed holds everything persisted for one record's key material.
type sealed struct {
	Ciphertext    []byte
	Nonce         []byte
	IntegrityHash []byte
	Salt          []byte
}

// seal encrypts plaintext and computes its integrity hash and a fresh
// per-record salt, ready for persistence.
func (c *Cipher) seal(plaintext []byte) (sealed, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return sealed{}, fmt.Errorf("generating salt: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return sealed{}, fmt.Errorf("generating nonce: %w", err)
	}

	hash := sha256.Sum256(plaintext)
	ciphertext := c.aead.Seal(nil, nonce, plaintext, nil)

	return sealed{
		Ciphertext:    ciphertext,
		Nonce:         nonce,
		IntegrityHash: hash[:],
		Salt:          salt,
	}, nil
}

// open decrypts ciphertext and verifies its integrity hash. A mismatch
// (either a wrong hash or a failed AEAD tag check) is reported via ok=false.
func (c *Cipher) open(s sealed) (plaintext []byte, ok bool, err error) {
	plaintext, err = c.aead.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil {
		return nil, false, nil
	}
	hash := sha256.Sum256(plaintext)
	if !hashesEqual(hash[:], s.IntegrityHash) {
		return nil, false, nil
	}
	return plaintext, true, nil
}

func hashesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
