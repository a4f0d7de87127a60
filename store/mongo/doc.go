// Package mongo implements store.Store on MongoDB using the official
// driver. Suitable for distributed deployments where several Conveyor
// instances share one job set.
//
// The Store owns the client connection; Close disconnects it:
//
//	import "github.com/xraph/conveyor/store/mongo"
//
//	s, err := mongo.New(ctx, "mongodb://localhost:27017", "conveyor")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	s.Migrate(ctx)
package mongo
