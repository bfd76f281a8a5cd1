package security

import (
	"crypto/rand"
	"encoding/hex"
)

// NewResetToken returns a 64-char hex string from 32 random bytes,
// matching the shape clients embed in the reset-password URL.
func NewResetToken() (string, error) {
	b := make([]byte, 32)

	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
