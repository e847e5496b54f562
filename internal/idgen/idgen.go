// Package idgen generates random identifiers for events, scores, and
// dead-letter records.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func randBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the platform is broken
		panic(fmt.Sprintf("idgen: rand.Read: %v", err))
	}
	return b
}

// New returns a UUID-shaped random identifier.
func New() string {
	b := randBytes(16)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix returns prefix + 24 random hex chars, e.g. "score_a1b2...".
// The prefix makes IDs self-describing in logs and database rows.
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(randBytes(12))
}

// Hex returns a random hex string encoding numBytes of entropy.
func Hex(numBytes int) string {
	return hex.EncodeToString(randBytes(numBytes))
}
