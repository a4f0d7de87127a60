package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/conveyor/cache"
)

// GetEntry looks up a cached result by fingerprint. A miss is not an
// error.
func (s *Store) GetEntry(ctx context.Context, fingerprint string) (*cache.Entry, bool, error) {
	var (
		payload   []byte
		artifacts []byte
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, artifacts, created_at FROM conveyor_cache WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&payload, &artifacts, &createdAt)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("conveyor/sqlite: get cache entry: %w", err)
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, false, err
	}
	e := &cache.Entry{
		Fingerprint: fingerprint,
		Payload:     payload,
		CreatedAt:   created,
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &e.Artifacts); err != nil {
			return nil, false, fmt.Errorf("conveyor/sqlite: unmarshal artifacts: %w", err)
		}
	}
	return e, true, nil
}

// PutEntry stores a cache entry. Write-once: a racing Put for the same
// fingerprint is a no-op, the payloads are equal by construction.
func (s *Store) PutEntry(ctx context.Context, e *cache.Entry) error {
	artifacts, err := marshalJSON(e.Artifacts)
	if err != nil {
		return err
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conveyor_cache (fingerprint, payload, artifacts, created_at)
		VALUES (?, ?, ?, ?)`,
		e.Fingerprint, []byte(e.Payload), artifacts, fmtTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: put cache entry: %w", err)
	}
	return nil
}
