package job

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// OwnerID filters by owner. Empty means all owners.
	OwnerID string
	// IncludeArchived includes archived jobs in the result.
	IncludeArchived bool
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Kind filters by job kind. Empty means all kinds.
	Kind string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs.
//
// ClaimPending is the single operation that requires true atomicity: an
// update conditioned on state = pending, so two concurrent callers can
// never claim the same job.
type Store interface {
	// CreateJob persists a new job in pending state.
	CreateJob(ctx context.Context, j *Job) error

	// ClaimPending atomically transitions up to limit eligible pending
	// jobs to running on behalf of workerID and returns them. A job is
	// eligible when its RunAt is due, its kind is in kinds (empty means
	// all), and its batch — if any — is active and not archived.
	// Within a batch, jobs are claimed in submission order.
	ClaimPending(ctx context.Context, workerID id.WorkerID, kinds []string, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job. Implementations
	// reject updates whose state change fails CheckTransition.
	UpdateJob(ctx context.Context, j *Job) error

	// RestartJob returns a terminal (success/failed/archived) job to
	// pending: clears result, error, and progress, increments
	// RetryCount, and makes the job claimable again. It is the only
	// legal exit from a terminal state.
	RestartJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// SetProgress records execution progress for a running job.
	// Progress is clamped to 0–100 and never decreases.
	SetProgress(ctx context.Context, jobID id.JobID, progress int) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByBatch returns all jobs referencing the batch, in
	// submission order.
	ListJobsByBatch(ctx context.Context, batchID id.BatchID) ([]*Job, error)

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// HeartbeatJob renews the lease on a running job, indicating the
	// claiming worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose lease expired (last
	// heartbeat older than threshold), indicating the claiming worker
	// is gone. Callers reset these to pending.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)
}
