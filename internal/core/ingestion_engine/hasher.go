package ingestion_engine

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash fingerprints text for the chunking cache.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
