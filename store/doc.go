// Package store defines the aggregate persistence interface.
//
// Each subsystem (job, batch, cache, cluster) defines its own store
// interface. The composite [Store] composes them all. A single backend
// need only implement Store to satisfy every subsystem's persistence
// contract.
//
// The composite interface:
//
//	type Store interface {
//	    job.Store
//	    batch.Store
//	    cache.Store
//	    cluster.Store
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/mongo — MongoDB backend using the official driver
//   - store/sqlite — SQLite backend (cgo-free)
//   - store/redis — standalone cache.Store backend for sharing the
//     result cache across instances
//
// # Usage
//
//	import "github.com/xraph/conveyor/store/mongo"
//
//	s, err := mongo.New(ctx, "mongodb://localhost:27017", "conveyor")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	c, err := conveyor.New(conveyor.WithStore(s))
//
// # Migrations
//
// Call Migrate once at startup to create or update indexes and schema:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
