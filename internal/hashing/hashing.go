// Package hashing provides the content-address hash used as memory
// identity and fast fingerprints for pipeline dedup keys.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// ContentAddress returns the hex SHA-256 of the text. Identical content
// always hashes to the same id, which is what makes store idempotent.
func ContentAddress(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a hex BLAKE3 digest over the joined parts. Used
// for internal dedup keys (review candidates, payload identity) where
// speed matters and the value never leaves the process state file.
func Fingerprint(parts ...string) string {
	sum := blake3.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
