package cluster

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
)

// Store defines the persistence contract for cluster worker management.
type Store interface {
	// RegisterWorker adds a new worker to the cluster registry.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a worker from the cluster registry.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker updates the last-seen timestamp for a worker,
	// indicating it is still alive.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers returns all registered workers.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers marks workers whose last-seen timestamp is older
	// than the given threshold as dead and returns them. Their in-flight
	// jobs are reclaimed separately by the job store's stale-job reaper.
	ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error)
}
