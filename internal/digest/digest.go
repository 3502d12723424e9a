// Package digest derives deterministic salted digests for authorization
// state nonces. The digest is what gets persisted; the plaintext state only
// ever travels through the provider redirect and its callback. Because the
// digest must support lookup, the salt is fixed per provider configuration
// rather than per value.
package digest

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	digestTime    uint32 = 1
	digestMemory  uint32 = 16 * 1024
	digestThreads uint8  = 2
	digestKeyLen  uint32 = 32
	saltLen              = 16
)

// State digests a plaintext state nonce with the provider salt.
func State(state, salt string) string {
	sum := argon2.IDKey([]byte(state), []byte(salt), digestTime, digestMemory, digestThreads, digestKeyLen)
	return base64.RawURLEncoding.EncodeToString(sum)
}

// NewSalt generates a random hex salt for a fresh provider configuration.
func NewSalt() (string, error) {
	buf := make([]byte, saltLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
