package toolgate

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashToken(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashToken("abc"))
	assert.Len(t, HashToken(""), 64)
	assert.NotEqual(t, HashToken("a"), HashToken("b"))
}

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tok, err := GenerateToken()
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err)
		assert.Len(t, raw, tokenBytes)
		assert.LessOrEqual(t, len(tok), maxTokenLength)

		_, dup := seen[tok]
		require.False(t, dup)
		seen[tok] = struct{}{}
	}
}

func TestAccessToken_Redacts(t *testing.T) {
	tok := NewAccessToken("super-secret-token")

	assert.Equal(t, "super-secret-token", tok.Value())
	assert.Equal(t, HashToken("super-secret-token"), tok.Fingerprint())
	for _, format := range []string{"%s", "%v", "%+v", "%#v"} {
		assert.NotContains(t, fmt.Sprintf(format, tok), "super-secret-token", format)
	}
}

func TestShortFingerprint(t *testing.T) {
	fp := HashToken("abc")
	assert.Equal(t, fp[:12], ShortFingerprint(fp))
	assert.Equal(t, "short", ShortFingerprint("short"))
}
