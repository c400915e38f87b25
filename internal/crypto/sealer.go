// Package crypto seals stored tool credentials at rest.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SealedPrefix marks a value produced by Sealer.Seal.
const SealedPrefix = "sealed:"

const hkdfInfo = "toolgate credential sealing v1"

var ErrNotSealed = errors.New("value is not sealed")

// Sealer encrypts short secrets with XChaCha20-Poly1305. The key is derived
// from arbitrary key material with HKDF-SHA256.
type Sealer struct {
	key []byte
}

// NewSealer derives a sealing key from keyMaterial.
func NewSealer(keyMaterial []byte) (*Sealer, error) {
	if len(keyMaterial) == 0 {
		return nil, fmt.Errorf("crypto: key material is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, keyMaterial, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext and returns SealedPrefix + base64(nonce|ciphertext).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: create aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce generation failed: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return SealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without SealedPrefix return ErrNotSealed.
func (s *Sealer) Open(value string) ([]byte, error) {
	if !IsSealed(value) {
		return nil, ErrNotSealed
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode sealed value: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: create aead: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("crypto: sealed value too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: open sealed value: %w", err)
	}
	return plaintext, nil
}

// OpenString opens value if it is sealed and returns it unchanged otherwise.
// A nil Sealer passes every value through.
func (s *Sealer) OpenString(value string) (string, error) {
	if s == nil || !IsSealed(value) {
		return value, nil
	}
	plaintext, err := s.Open(value)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsSealed reports whether value carries SealedPrefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}
