// Package hash computes the content fingerprints used for duplicate
// detection. Both functions are pure: identical input always yields the
// identical digest, independent of file names, MIME types or arrival time.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Text fingerprints a text message by sender and body. An empty sender is
// substituted with "unknown" so that messages without a resolvable sender
// still hash consistently.
func Text(senderID, body string) string {
	if senderID == "" {
		senderID = "unknown"
	}

	h := sha256.New()
	h.Write([]byte(senderID))
	h.Write([]byte{':'})
	h.Write([]byte(body))

	return hex.EncodeToString(h.Sum(nil))
}

// Media fingerprints a binary payload.
func Media(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
