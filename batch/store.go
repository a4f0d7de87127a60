package batch

import (
	"context"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// ListOpts controls pagination and filtering for batch list queries.
type ListOpts struct {
	// Limit is the maximum number of batches to return. Zero means no limit.
	Limit int
	// Offset is the number of batches to skip.
	Offset int
	// OwnerID filters by owner. Empty means all owners.
	OwnerID string
	// IncludeArchived includes archived batches in the result.
	IncludeArchived bool
}

// Store defines the persistence contract for batches.
type Store interface {
	// CreateBatch persists the batch and all its jobs as one unit: if
	// anything fails, no batch and no jobs remain persisted.
	CreateBatch(ctx context.Context, b *Batch, jobs []*job.Job) error

	// GetBatch retrieves a batch by ID.
	GetBatch(ctx context.Context, batchID id.BatchID) (*Batch, error)

	// UpdateBatch persists changes to an existing batch.
	UpdateBatch(ctx context.Context, b *Batch) error

	// UpdateBatchCounters writes back only the derived counters. The
	// aggregator's recompute uses this so a concurrent member-list or
	// flag edit (SetBatchActive, ArchiveBatch, a member prune) is never
	// reverted by a stale full-record overwrite.
	UpdateBatchCounters(ctx context.Context, batchID id.BatchID, completed, failed int) error

	// DeleteBatch removes a batch and cascades to all its jobs.
	DeleteBatch(ctx context.Context, batchID id.BatchID) error

	// ListBatches returns batches; archived ones are excluded unless
	// opts.IncludeArchived is set.
	ListBatches(ctx context.Context, opts ListOpts) ([]*Batch, error)

	// SetBatchActive toggles whether the batch's jobs may be claimed.
	SetBatchActive(ctx context.Context, batchID id.BatchID, active bool) error

	// ArchiveBatch marks the batch archived and archives its pending
	// jobs; running jobs finish normally. Nothing is deleted.
	ArchiveBatch(ctx context.Context, batchID id.BatchID) error

	// ClaimWebhook atomically marks the batch's webhook delivery as
	// started (sets Webhook.StartedAt if unset). Returns true for the
	// single caller that wins the claim; false when delivery was
	// already claimed or no webhook is configured. This is the
	// edge-trigger guard: recomputing a terminal batch any number of
	// times fires its webhook at most once.
	ClaimWebhook(ctx context.Context, batchID id.BatchID) (bool, error)

	// UpdateWebhook persists delivery bookkeeping (state, attempts,
	// last error, delivered-at) for the batch's webhook. StartedAt is
	// owned by ClaimWebhook and is never written here: bookkeeping from
	// a delivery loop must not reopen the claim.
	UpdateWebhook(ctx context.Context, batchID id.BatchID, w *Webhook) error
}
