// Package sqlite implements store.Store on SQLite via the cgo-free
// modernc.org/sqlite driver. Suitable for single-instance deployments
// and embedded use; the claim path relies on SQLite's single-writer
// serialization for atomicity.
//
//	import "github.com/xraph/conveyor/store/sqlite"
//
//	s, err := sqlite.New("conveyor.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	s.Migrate(ctx)
package sqlite
