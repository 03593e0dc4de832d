package provision

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 32 // 256 bits of entropy

// NewToken returns a fresh opaque login token. A new token is issued on
// every provisioning call, including re-deliveries for existing profiles.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
