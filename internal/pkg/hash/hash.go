// Package hash fingerprints artifacts and training data.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Digest returns the content digest recorded for a model artifact.
func Digest(artifact []byte) string {
	return "sha256:" + SHA256(artifact)
}
