package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateSecureBytes generates cryptographically secure random bytes
func GenerateSecureBytes(length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("invalid length: must be positive")
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate secure random bytes: %w", err)
	}
	return b, nil
}

// GenerateAccessToken returns a relay access token with an "ang_" prefix
// followed by 2*n hex characters.
func GenerateAccessToken(n int) (string, error) {
	b, err := GenerateSecureBytes(n)
	if err != nil {
		return "", err
	}
	return "ang_" + hex.EncodeToString(b), nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// TokenAllowed compares token against every allowed token in constant time.
func TokenAllowed(token string, allowed []string) bool {
	match := 0
	for _, a := range allowed {
		match |= subtle.ConstantTimeCompare([]byte(token), []byte(a))
	}
	return match == 1
}

// MaskToken keeps the first and last four characters for logging.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
