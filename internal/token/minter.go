// Package token mints the opaque rolling session tokens.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const rawBytes = 32

// Mint returns a new URL-safe random token. 32 bytes of entropy encode to
// 43 base64url characters without padding.
func Mint() (string, error) {
	buf := make([]byte, rawBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
