// Package identity derives stable article identifiers from source URLs.
//
// An identifier is the first 12 hex characters (48 bits) of the SHA-256 of the
// trimmed URL. The short form keeps file names readable; at 48 bits the chance
// of a collision stays negligible for corpora well below a million articles.
// If collisions are ever observed the length must be changed deliberately,
// since every stored path is keyed by this value.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Length is the number of hex characters in an identifier.
const Length = 12

// ID returns the article identifier for a source URL.
func ID(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])[:Length]
}

// Valid reports whether s has the shape of an identifier.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}
