package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// GenerateNonce returns a 32-character hex nonce for request uniqueness.
func GenerateNonce() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// GenerateTimestamp returns the request timestamp in the gateway's
// YYYYMMDDHHMM format. The gateway caps the field at 13 characters, so
// seconds are deliberately omitted.
func GenerateTimestamp(now time.Time) string {
	return now.Format("200601021504")
}
