package ledger

import (
	"crypto/rand"
	"fmt"
)

// Crockford-style alphabet without I, L, O, U so codes survive being read aloud.
const referenceAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewReferenceCode returns a human-readable extension reference such as EXT-7K2M9QXA.
func NewReferenceCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return "EXT-" + string(buf), nil
}
