// Package readings stores the append-only per-asset sensor log.
package readings

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidReading = errors.New("readings: invalid reading")

// Reading is one timestamped sensor sample. Readings are immutable once
// appended.
type Reading struct {
	ID          int64     `json:"id"`
	AssetID     uint64    `json:"assetId"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Vibration   float64   `json:"vibration"`
}

// Store is the reading log.
//
// Append assigns ID and truncates Timestamp to milliseconds in place so the
// caller sees exactly what a later LastN returns. LastN returns at most n
// readings for an asset, newest first. Before does the same but only for
// readings with an ID below beforeID, which is how pages after the first
// are fetched.
type Store interface {
	Append(ctx context.Context, r *Reading) error
	LastN(ctx context.Context, assetID uint64, n int) ([]Reading, error)
	Before(ctx context.Context, assetID uint64, beforeID int64, n int) ([]Reading, error)
}

// normalize prepares r for storage.
func normalize(r *Reading) error {
	if r == nil {
		return ErrInvalidReading
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	r.Timestamp = r.Timestamp.UTC().Truncate(time.Millisecond)
	return nil
}
