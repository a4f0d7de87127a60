package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobSubmittedEntry struct {
	name string
	hook JobSubmitted
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobCacheHitEntry struct {
	name string
	hook JobCacheHit
}

type batchFinishedEntry struct {
	name string
	hook BatchFinished
}

type webhookDeliveredEntry struct {
	name string
	hook WebhookDelivered
}

type webhookExhaustedEntry struct {
	name string
	hook WebhookExhausted
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobSubmitted     []jobSubmittedEntry
	jobStarted       []jobStartedEntry
	jobCompleted     []jobCompletedEntry
	jobFailed        []jobFailedEntry
	jobRetrying      []jobRetryingEntry
	jobCacheHit      []jobCacheHitEntry
	batchFinished    []batchFinishedEntry
	webhookDelivered []webhookDeliveredEntry
	webhookExhausted []webhookExhaustedEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobSubmitted); ok {
		r.jobSubmitted = append(r.jobSubmitted, jobSubmittedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobCacheHit); ok {
		r.jobCacheHit = append(r.jobCacheHit, jobCacheHitEntry{name, h})
	}
	if h, ok := e.(BatchFinished); ok {
		r.batchFinished = append(r.batchFinished, batchFinishedEntry{name, h})
	}
	if h, ok := e.(WebhookDelivered); ok {
		r.webhookDelivered = append(r.webhookDelivered, webhookDeliveredEntry{name, h})
	}
	if h, ok := e.(WebhookExhausted); ok {
		r.webhookExhausted = append(r.webhookExhausted, webhookExhaustedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobSubmitted notifies all extensions that implement JobSubmitted.
func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobSubmitted {
		if err := e.hook.OnJobSubmitted(ctx, j); err != nil {
			r.logHookError("OnJobSubmitted", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobCacheHit notifies all extensions that implement JobCacheHit.
func (r *Registry) EmitJobCacheHit(ctx context.Context, j *job.Job, fingerprint string) {
	for _, e := range r.jobCacheHit {
		if err := e.hook.OnJobCacheHit(ctx, j, fingerprint); err != nil {
			r.logHookError("OnJobCacheHit", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Batch and webhook event emitters
// ──────────────────────────────────────────────────

// EmitBatchFinished notifies all extensions that implement BatchFinished.
func (r *Registry) EmitBatchFinished(ctx context.Context, b *batch.Batch, stats batch.Stats) {
	for _, e := range r.batchFinished {
		if err := e.hook.OnBatchFinished(ctx, b, stats); err != nil {
			r.logHookError("OnBatchFinished", e.name, err)
		}
	}
}

// EmitWebhookDelivered notifies all extensions that implement WebhookDelivered.
func (r *Registry) EmitWebhookDelivered(ctx context.Context, b *batch.Batch, attempts int) {
	for _, e := range r.webhookDelivered {
		if err := e.hook.OnWebhookDelivered(ctx, b, attempts); err != nil {
			r.logHookError("OnWebhookDelivered", e.name, err)
		}
	}
}

// EmitWebhookExhausted notifies all extensions that implement WebhookExhausted.
func (r *Registry) EmitWebhookExhausted(ctx context.Context, b *batch.Batch, attempts int, lastErr error) {
	for _, e := range r.webhookExhausted {
		if err := e.hook.OnWebhookExhausted(ctx, b, attempts, lastErr); err != nil {
			r.logHookError("OnWebhookExhausted", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a hook failure. Extension errors are never
// propagated to the caller.
func (r *Registry) logHookError(hook, extension string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extension),
		slog.String("error", err.Error()),
	)
}
