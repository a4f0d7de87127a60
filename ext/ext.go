// Package ext defines the extension system for Conveyor.
// Extensions are notified of lifecycle events (job submitted, completed,
// failed, batch finished, webhook outcomes) and can react to them —
// logging, metrics, alerting, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job is successfully persisted.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker claims a job and begins executing it.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job reaches success.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails transiently and is returned to
// pending for another attempt.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobCacheHit is called when a job is satisfied from the result cache
// without invoking its handler.
type JobCacheHit interface {
	OnJobCacheHit(ctx context.Context, j *job.Job, fingerprint string) error
}

// ──────────────────────────────────────────────────
// Batch and webhook lifecycle hooks
// ──────────────────────────────────────────────────

// BatchFinished is called exactly once when a batch first reaches a
// terminal status.
type BatchFinished interface {
	OnBatchFinished(ctx context.Context, b *batch.Batch, stats batch.Stats) error
}

// WebhookDelivered is called after the batch webhook is acknowledged.
type WebhookDelivered interface {
	OnWebhookDelivered(ctx context.Context, b *batch.Batch, attempts int) error
}

// WebhookExhausted is called when webhook delivery gives up after
// exhausting its retry budget.
type WebhookExhausted interface {
	OnWebhookExhausted(ctx context.Context, b *batch.Batch, attempts int, lastErr error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
