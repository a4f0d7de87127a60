// Package cache defines the content-addressed result cache: a store
// mapping a deterministic fingerprint to a previously computed result,
// consulted before handler execution and written through after success.
//
// Entries are write-once. Multiple instances racing to write the same
// fingerprint is harmless: the payloads are equal by construction, so a
// second Put is a no-op.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one cached result keyed by its fingerprint.
type Entry struct {
	Fingerprint string          `json:"fingerprint" bson:"_id"`
	Payload     json.RawMessage `json:"payload" bson:"payload"`
	Artifacts   []string        `json:"artifacts,omitempty" bson:"artifacts,omitempty"`
	CreatedAt   time.Time       `json:"created_at" bson:"created_at"`
}

// Store defines the persistence contract for cached results.
type Store interface {
	// GetEntry returns the entry for fingerprint. The boolean reports a
	// hit; a miss is not an error. Pure read, no side effects.
	GetEntry(ctx context.Context, fingerprint string) (*Entry, bool, error)

	// PutEntry stores an entry. Write-once: if the fingerprint already
	// exists the call succeeds without modifying the stored payload.
	PutEntry(ctx context.Context, e *Entry) error
}
