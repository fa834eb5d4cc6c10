package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// DefaultTokenBytes is the entropy of session tokens and API keys.
const DefaultTokenBytes = 32

// GenerateToken returns a URL-safe random token built from n random bytes.
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		n = DefaultTokenBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateAPIKey returns "<prefix>_<token>".
func GenerateAPIKey(prefix string) (string, error) {
	if prefix == "" {
		prefix = "sk"
	}
	token, err := GenerateToken(DefaultTokenBytes)
	if err != nil {
		return "", err
	}
	return prefix + "_" + token, nil
}
