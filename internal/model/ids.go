package model

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// NewID returns a time-ordered id.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// Now is the service clock. Timestamps are stored in UTC at microsecond
// precision so every backend compares them the same way.
func Now() time.Time {
	return Normalize(time.Now())
}

// Normalize truncates t to the stored precision.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// CompareIDs orders ids bytewise.
func CompareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// Earlier reports whether (at, a) sorts before (bt, b).
func Earlier(at time.Time, a uuid.UUID, bt time.Time, b uuid.UUID) bool {
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return CompareIDs(a, b) < 0
}
