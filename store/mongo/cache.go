package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/conveyor/cache"
)

// GetEntry returns the cached result for a fingerprint. A miss is not
// an error.
func (s *Store) GetEntry(ctx context.Context, fingerprint string) (*cache.Entry, bool, error) {
	var m cacheEntryModel
	err := s.db.Collection(colCache).FindOne(ctx, bson.M{"_id": fingerprint}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("conveyor/mongo: get cache entry: %w", err)
	}
	return fromCacheModel(&m), true, nil
}

// PutEntry stores a cached result. Write-once: a duplicate fingerprint
// succeeds without modifying the stored payload. Two instances racing
// to cache the same fingerprint computed equal payloads by
// construction.
func (s *Store) PutEntry(ctx context.Context, e *cache.Entry) error {
	m := toCacheModel(e)
	_, err := s.db.Collection(colCache).InsertOne(ctx, m)
	if err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return fmt.Errorf("conveyor/mongo: put cache entry: %w", err)
	}
	return nil
}
