package util

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// GenerateRecordID derives a stable identifier for a sync log row from its
// filename, delta and creation time.
func GenerateRecordID(filename, delta string, createdAt time.Time) string {
	hasher := sha256.New()
	hasher.Write([]byte(filename))
	hasher.Write([]byte{0})
	hasher.Write([]byte(delta))
	hasher.Write([]byte{0})
	hasher.Write([]byte(createdAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(hasher.Sum(nil))[:16] // Use first 16 chars of the hash
}
