package platform

import (
	"crypto/rand"

	"github.com/google/uuid"
)

const shortIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const shortIDLength = 10

const secretAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func NewID() string {
	return uuid.New().String()
}

// NewName returns prefix followed by a random lowercase alphanumeric suffix.
func NewName(prefix string) string {
	return prefix + randomString(shortIDAlphabet, shortIDLength)
}

// NewSecret returns a random password of length n suitable for container
// root credentials and API keys.
func NewSecret(n int) string {
	return randomString(secretAlphabet, n)
}

func randomString(alphabet string, n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b)
}
