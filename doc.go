// Package conveyor provides an asynchronous job and batch orchestration
// engine for long-running media-processing work (transcription, OCR,
// frame extraction, transformation) with a content-addressed result
// cache so identical work is never computed twice.
//
// Conveyor is designed as a library, not a service. Import it, configure
// a store, register handlers per job kind, and submit jobs or batches.
//
// # Quick Start
//
//	c, err := conveyor.New(
//	    conveyor.WithStore(mongoStore),
//	    conveyor.WithConcurrency(8),
//	)
//
// # Architecture
//
// Conveyor follows a composable store pattern where each subsystem (job,
// batch, cache, cluster) defines its own store interface. A single
// backend implements all of them; the result cache may additionally be
// served by a dedicated backend such as Redis.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package conveyor
