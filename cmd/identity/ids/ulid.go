// Package ids generates the ULID identifiers persisted across Carelink stores.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID builds a 26-char ULID from the given timestamp and crypto/rand
// entropy. A zero timestamp falls back to the current UTC time; callers with
// a real clock pass it explicitly so ids sort with their records.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
