package crypto

import (
	"crypto/sha256"
	"fmt"
)

// HashAPIKey computes the SHA-256 hex hash stored for an API key.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}
