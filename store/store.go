// Package store defines the aggregate persistence interface. Each
// subsystem (job, batch, cache, cluster) defines its own store
// interface; the composite Store composes them all. A single backend
// implements every subsystem contract. Backends: Memory, MongoDB,
// SQLite.
package store

import (
	"context"

	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/cache"
	"github.com/xraph/conveyor/cluster"
	"github.com/xraph/conveyor/job"
)

// Store is the aggregate persistence interface. A single backend
// (memory, mongo, sqlite) implements all subsystem contracts.
type Store interface {
	job.Store
	batch.Store
	cache.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
