// Package crypto implements the pre-shared-key encryption layer for
// the replication wire protocol: a 16-byte AES-128 key loaded once at
// startup, used to seal and open every framed payload.
//
// The source used CryptoPP for raw AES plus a hand-rolled challenge
// exchange. There's no equivalent authenticated-encryption library in
// the example pack to ground this on (the pack's crypto-adjacent code
// is all TLS/certificate based, and a pre-shared-key, no-PKI model
// rules that out), so this uses the standard library's crypto/aes +
// crypto/cipher in AES-128-GCM mode: the same pre-shared-key, no-PKI
// model, but with authentication built into the primitive instead of a
// separate challenge step.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
)

// KeySize is the fixed size of the shared key file, in bytes.
const KeySize = 16

// LoadSharedKey reads the raw 16-byte AES-128 key used by every peer.
func LoadSharedKey(path string) ([KeySize]byte, error) {
	var key [KeySize]byte
	data, err := os.ReadFile(path)
	if err != nil {
		return key, fmt.Errorf("crypto: %w", err)
	}
	if len(data) != KeySize {
		return key, fmt.Errorf("crypto: %s must contain exactly %d bytes, got %d", path, KeySize, len(data))
	}
	copy(key[:], data)
	return key, nil
}

// GenerateSharedKey writes a fresh random 16-byte key to path, for the
// key-generation utility (cmd/keygen).
func GenerateSharedKey(path string) error {
	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return err
	}
	return os.WriteFile(path, key[:], 0o600)
}

// Session seals and opens payloads under a single pre-shared key using
// AES-128-GCM. A Session is safe for concurrent use.
type Session struct {
	aead cipher.AEAD
}

// NewSession constructs a Session from the shared key.
func NewSession(key [KeySize]byte) (*Session, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &Session{aead: aead}, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext||tag, ready to
// be length-framed onto the wire.
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal, validating the authentication tag.
func (s *Session) Open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("crypto: sealed payload shorter than nonce size %d", n)
	}
	nonce, ciphertext := sealed[:n], sealed[n:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: authentication failed: %w", err)
	}
	return plaintext, nil
}
