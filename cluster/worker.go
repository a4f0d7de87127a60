// Package cluster provides multi-instance worker coordination: worker
// registration, liveness heartbeats, and dead-worker detection.
//
// Each running Conveyor instance registers itself as a [Worker] and sends
// periodic heartbeats. If a heartbeat is not received within the
// configured threshold the worker is considered dead and its in-flight
// jobs become eligible for reclaim via the job store's stale-job reaper.
package cluster

import (
	"time"

	"github.com/xraph/conveyor/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and processing jobs.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight jobs
	// but not accepting new ones (graceful shutdown).
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker has stopped responding and its
	// in-flight jobs should be reclaimed.
	WorkerDead WorkerState = "dead"
)

// Worker represents one Conveyor instance in a multi-instance deployment.
type Worker struct {
	ID          id.WorkerID       `json:"id" bson:"_id"`
	Hostname    string            `json:"hostname" bson:"hostname"`
	Kinds       []string          `json:"kinds,omitempty" bson:"kinds,omitempty"`
	Concurrency int               `json:"concurrency" bson:"concurrency"`
	State       WorkerState       `json:"state" bson:"state"`
	LastSeen    time.Time         `json:"last_seen" bson:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at" bson:"created_at"`
}
