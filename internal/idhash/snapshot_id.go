package idhash

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

// ComputeSnapshotID computes a deterministic snapshot id using SHA256.
// Formula: SHA256(captured_at_ms|currency|body)
// Returns the base58-encoded hash (Bitcoin alphabet, 43-44 characters).
func ComputeSnapshotID(capturedAt time.Time, currency string, body []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|", capturedAt.UnixMilli(), currency)
	h.Write(body)
	return base58.Encode(h.Sum(nil))
}
