package realtime

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRandomHex returns a random hex string of length 2*nBytes from
// crypto/rand. nBytes <= 0 defaults to 16 (32 hex chars).
//
// On the practically-impossible rand failure it returns ""; callers treat an
// empty id as an error-like value in logs and tests.
func NewRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
