package toolgate

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the amount of randomness in an access token (256 bits).
const tokenBytes = 32

// maxTokenLength bounds what Redeem will even hash. A real token is 43 chars.
const maxTokenLength = 256

// HashToken derives the fingerprint of a raw token. Grants are stored under
// the fingerprint so the raw token never has to be kept.
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}

// GenerateToken returns a new URL-safe access token.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AccessToken wraps a raw token so it never ends up in logs or debug output.
type AccessToken struct {
	value string
}

// NewAccessToken wraps value.
func NewAccessToken(value string) AccessToken {
	return AccessToken{value: value}
}

// Value returns the raw token. Only the issuance response may use it.
func (t AccessToken) Value() string { return t.value }

func (t AccessToken) String() string { return "[REDACTED]" }

func (t AccessToken) GoString() string { return "toolgate.AccessToken{[REDACTED]}" }

// Fingerprint is shorthand for HashToken(t.Value()).
func (t AccessToken) Fingerprint() string { return HashToken(t.value) }

// ShortFingerprint returns a log-safe prefix of a fingerprint.
func ShortFingerprint(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12]
}
