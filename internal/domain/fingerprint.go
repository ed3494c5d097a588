package domain

import (
	"crypto/sha1" //nolint:gosec // exact-duplicate signal, not an integrity guarantee
	"encoding/hex"
)

// Fingerprint computes the SHA-1 hex digest over the UTF-8 bytes of text.
// Byte-identical normalized content yields an identical fingerprint
// regardless of which file or package it came from; this is the exact-match
// signal that complements approximate vector similarity. Collisions are an
// accepted risk.
func Fingerprint(text string) string {
	sum := sha1.Sum([]byte(text)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
