// Package checksum computes content hashes for change detection.
//
// Two flavours exist: Sum hashes raw bytes (used to skip files whose bytes
// have not moved at all), and Text hashes whitespace-normalized semantic
// text (used to decide whether a block's visible content actually changed).
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Normalize collapses every run of whitespace (spaces, tabs, newlines) to a
// single space and trims the ends, so purely cosmetic edits hash equal. The
// transformation is byte-oriented and locale-independent.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Text returns the digest of the whitespace-normalized form of text.
// Two texts that differ only in surrounding or internal whitespace runs
// produce identical digests.
func Text(text string) string {
	return Sum([]byte(Normalize(text)))
}
