// Package batch defines the Batch entity — a named group of jobs with an
// aggregated status — the persistence contract for batches, and the
// Aggregator that derives batch status and counters from live job state.
package batch

import (
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
)

// Status is the derived lifecycle status of a batch. It is always a pure
// function of the current states of the batch's jobs, never a stored
// snapshot that can drift.
type Status string

const (
	// StatusPending means at least one job is pending or running
	// (or the batch is empty).
	StatusPending Status = "pending"
	// StatusSuccess means every job reached success.
	StatusSuccess Status = "success"
	// StatusFailed means every job is terminal and at least one failed.
	StatusFailed Status = "failed"
)

// Terminal reports whether s is a terminal batch status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// WebhookState tracks delivery of the batch-terminal webhook.
type WebhookState string

const (
	// WebhookNotSent means no delivery has been attempted.
	WebhookNotSent WebhookState = "not_sent"
	// WebhookDelivered means the receiver acknowledged the POST.
	WebhookDelivered WebhookState = "delivered"
	// WebhookFailed means the last attempt failed but retries remain.
	WebhookFailed WebhookState = "failed"
	// WebhookExhausted means all attempts failed; delivery is given up.
	// This is reported to operators but never affects batch correctness.
	WebhookExhausted WebhookState = "exhausted"
)

// Webhook is the optional terminal-state callback configured on a batch.
// StartedAt is the edge-trigger guard: it is set exactly once, by the
// single recomputation that first observes the terminal transition.
type Webhook struct {
	URL       string       `json:"url" bson:"url"`
	State     WebhookState `json:"state" bson:"state"`
	Attempts  int          `json:"attempts" bson:"attempts"`
	LastError string       `json:"last_error,omitempty" bson:"last_error,omitempty"`
	StartedAt *time.Time   `json:"started_at,omitempty" bson:"started_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" bson:"delivered_at,omitempty"`
}

// Batch is a named group of jobs submitted together. JobIDs preserves
// submission order; job records hold only a weak back-reference.
type Batch struct {
	conveyor.Entity `bson:",inline"`

	ID   id.BatchID `json:"id" bson:"_id"`
	Name string     `json:"name" bson:"name"`

	JobIDs []id.JobID `json:"job_ids" bson:"job_ids"`

	// IsActive gates dispatch: jobs of an inactive batch are never
	// claimed. Toggled by operators.
	IsActive bool `json:"is_active" bson:"is_active"`

	// Archived excludes the batch (and its jobs) from default listings
	// without deleting anything.
	Archived bool `json:"archived" bson:"archived"`

	Webhook *Webhook `json:"webhook,omitempty" bson:"webhook,omitempty"`

	OwnerID string `json:"owner_id,omitempty" bson:"owner_id,omitempty"`

	// CompletedJobs and FailedJobs are derived counters maintained by
	// recompute-and-overwrite only; they are never incremented in
	// place, so any drift self-heals on the next recomputation.
	CompletedJobs int `json:"completed_jobs" bson:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs" bson:"failed_jobs"`
}

// Stats is a derived snapshot of a batch's aggregate state.
type Stats struct {
	BatchID       id.BatchID `json:"batch_id"`
	Status        Status     `json:"status"`
	TotalJobs     int        `json:"total_jobs"`
	CompletedJobs int        `json:"completed_jobs"`
	FailedJobs    int        `json:"failed_jobs"`
	RunningJobs   int        `json:"running_jobs"`
	PendingJobs   int        `json:"pending_jobs"`
}
