// Package idgen generates random identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// Hex returns numBytes random bytes as lower-case hex. If the system RNG
// fails it falls back to the current time in nanoseconds, which is unique
// enough for correlation IDs but not for secrets.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}

// RequestID returns a 32-character hex request ID.
func RequestID() string {
	return Hex(16)
}
