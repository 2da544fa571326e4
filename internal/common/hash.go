package common

import (
	"crypto/sha1" //nolint:gosec // required by the legacy notification protocol
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Sha256Hex returns the SHA-256 digest of the input encoded as lowercase hex.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Sha1Hex returns the SHA-1 digest of the input encoded as lowercase hex.
func Sha1Hex(input string) string {
	sum := sha1.Sum([]byte(input)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// EqualHex compares two hex digests in constant time, ignoring case.
func EqualHex(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
