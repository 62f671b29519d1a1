package shredding

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeWhitespace collapses every whitespace run, line breaks and form
// feeds included, into a single space.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CanonicalText is the dedup form of a unit: NFKC, case folded, whitespace
// collapsed.
func CanonicalText(s string) string {
	folded := cases.Fold().String(norm.NFKC.String(s))
	return NormalizeWhitespace(folded)
}

// TextHash is the hex SHA-256 of CanonicalText
func TextHash(s string) string {
	sum := sha256.Sum256([]byte(CanonicalText(s)))
	return hex.EncodeToString(sum[:])
}
