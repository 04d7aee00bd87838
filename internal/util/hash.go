package util

import (
	"crypto/sha256"
	"encoding/hex"
)

func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}

// Fingerprint is the ledger key of a source: the hex digest of its path or URL
// string, not of its content.
func Fingerprint(sourceID string) string {
	return SHA256Hex([]byte(sourceID))
}
