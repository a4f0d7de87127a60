// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines claiming pending jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/cache"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/middleware"
)

// BatchRecomputer re-derives a batch's status and counters after one of
// its jobs turns terminal. Satisfied by batch.Aggregator.
type BatchRecomputer interface {
	Recompute(ctx context.Context, batchID id.BatchID) (batch.Stats, error)
}

// Executor runs a single claimed job: cache lookup, middleware chain,
// handler invocation, outcome classification, state persistence, batch
// recomputation, and lifecycle events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	cache      cache.Store
	batches    BatchRecomputer
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor. cacheStore and batches may be nil to
// disable result caching and batch recomputation respectively.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	cacheStore cache.Store,
	batches BatchRecomputer,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		cache:      cacheStore,
		batches:    batches,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a claimed job to a persisted next state.
// Unknown kind or invalid params: fails immediately with no retry.
// Cache hit: completes from the cached result without invoking the handler.
// Success: persists the result, writes through to the cache.
// Retryable failure with budget left: returns the job to pending with backoff.
// Retryable failure with budget exhausted, or fatal failure: fails the job.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Kind)
	if !ok {
		return e.failJob(ctx, j, &job.Error{
			Code:    job.CodeUnknownKind,
			Message: fmt.Sprintf("no handler registered for kind %q", j.Kind),
		})
	}

	// Submission normally validates, but jobs written out of band (or
	// claimed after a handler's schema changed) can carry bad params.
	if handler.Validate != nil {
		if validateErr := handler.Validate(j.Params); validateErr != nil {
			return e.failJob(ctx, j, &job.Error{
				Code:    job.CodeValidation,
				Message: validateErr.Error(),
			})
		}
	}

	// Per-kind timeout applies unless the job carries its own.
	if j.Timeout == 0 {
		j.Timeout = handler.Opts.Timeout
	}

	fingerprint := ""
	if handler.Opts.Cacheable && e.cache != nil {
		fp, fpErr := cache.Fingerprint(j.Kind, j.Params, handler.Opts.IgnoreParams)
		if fpErr != nil {
			e.logger.Warn("fingerprint computation failed, bypassing cache",
				slog.String("job_id", j.ID.String()),
				slog.String("error", fpErr.Error()),
			)
		} else {
			fingerprint = fp
			if done, err := e.tryCache(ctx, j, fingerprint); done || err != nil {
				return err
			}
		}
	}

	// Progress reports go straight to the store; the job's in-memory
	// copy tracks them so the final update does not regress.
	ctx = job.WithProgress(ctx, func(ctx context.Context, progress int) {
		if err := e.store.SetProgress(ctx, j.ID, progress); err != nil {
			e.logger.Warn("progress update failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		if progress > j.Progress {
			j.Progress = min(progress, 100)
		}
	})

	start := time.Now()
	var (
		outcome job.Outcome
		ran     bool
	)
	terminal := func(ctx context.Context) error {
		outcome = handler.Execute(ctx, j.Params)
		ran = true
		return outcome.Err
	}

	chainErr := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)
	j.Touch()

	// A chain error without a completed terminal call means the handler
	// never ran to completion: a panic or a deadline hit.
	if chainErr != nil && !ran {
		outcome = classifyChainError(chainErr)
	}

	switch outcome.Disposition {
	case job.DispositionSuccess:
		return e.handleSuccess(ctx, j, outcome, fingerprint, elapsed)
	case job.DispositionRetryable:
		return e.handleRetryable(ctx, j, outcome.Err)
	default:
		return e.failJob(ctx, j, errorPayload(job.CodeFatal, outcome.Err))
	}
}

// tryCache completes the job from a cached result when one exists.
// The handler is never invoked on a hit. Cache errors degrade to a miss.
func (e *Executor) tryCache(ctx context.Context, j *job.Job, fingerprint string) (bool, error) {
	entry, hit, err := e.cache.GetEntry(ctx, fingerprint)
	if err != nil {
		e.logger.Warn("cache lookup failed, treating as miss",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return false, nil
	}
	if !hit {
		return false, nil
	}

	j.Complete(job.StateSuccess, &job.Result{
		Payload:   entry.Payload,
		Artifacts: entry.Artifacts,
		CacheHit:  true,
	}, nil)
	j.Touch()

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to persist cache-hit result",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return true, updateErr
	}

	e.extensions.EmitJobCacheHit(ctx, j, fingerprint)
	e.extensions.EmitJobCompleted(ctx, j, 0)
	e.recomputeBatch(ctx, j)

	e.logger.Info("job served from cache",
		slog.String("job_id", j.ID.String()),
		slog.String("job_kind", j.Kind),
		slog.String("fingerprint", fingerprint),
	)
	return true, nil
}

// handleSuccess persists the result, writes through to the cache, and
// recomputes the parent batch.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, outcome job.Outcome, fingerprint string, elapsed time.Duration) error {
	j.Complete(job.StateSuccess, &job.Result{
		Payload:   outcome.Payload,
		Artifacts: outcome.Artifacts,
	}, nil)

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to persist job result",
			slog.String("job_id", j.ID.String()),
			slog.String("job_kind", j.Kind),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if fingerprint != "" {
		if cacheErr := e.cache.PutEntry(ctx, &cache.Entry{
			Fingerprint: fingerprint,
			Payload:     outcome.Payload,
			Artifacts:   outcome.Artifacts,
			CreatedAt:   time.Now().UTC(),
		}); cacheErr != nil {
			// Cache write failure never fails the job.
			e.logger.Warn("cache write-through failed",
				slog.String("job_id", j.ID.String()),
				slog.String("fingerprint", fingerprint),
				slog.String("error", cacheErr.Error()),
			)
		}
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	e.recomputeBatch(ctx, j)
	return nil
}

// handleRetryable returns the job to pending with backoff while the
// retry budget lasts, then fails it with a code naming the cause:
// TIMEOUT for a deadline hit, PANIC for a crashed handler,
// RETRY_EXHAUSTED for an ordinary handler failure.
func (e *Executor) handleRetryable(ctx context.Context, j *job.Job, handlerErr error) error {
	if j.RetryCount >= j.MaxRetries {
		return e.failJob(ctx, j, errorPayload(exhaustCode(handlerErr), handlerErr))
	}

	attempt := j.RetryCount + 1
	delay := e.backoff.Delay(attempt)
	nextRunAt := time.Now().UTC().Add(delay)
	j.ResetForRetry(nextRunAt)

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to persist job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobRetrying(ctx, j, attempt, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_kind", j.Kind),
		slog.Int("attempt", attempt),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)
	return handlerErr
}

// failJob records a terminal failure and recomputes the parent batch.
func (e *Executor) failJob(ctx context.Context, j *job.Job, jobErr *job.Error) error {
	j.Complete(job.StateFailed, nil, jobErr)
	j.Touch()

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to persist job failure",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobFailed(ctx, j, errors.New(jobErr.Message))
	e.recomputeBatch(ctx, j)

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_kind", j.Kind),
		slog.String("code", jobErr.Code),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", jobErr.Message),
	)
	return errors.New(jobErr.Message)
}

// recomputeBatch re-derives the parent batch after a terminal
// transition. Recompute failures are logged; the derived state
// self-heals on the next recomputation.
func (e *Executor) recomputeBatch(ctx context.Context, j *job.Job) {
	if e.batches == nil || j.BatchID.IsNil() {
		return
	}
	if _, err := e.batches.Recompute(ctx, j.BatchID); err != nil {
		e.logger.Error("batch recompute failed",
			slog.String("batch_id", j.BatchID.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// classifyChainError maps failures that bypass the handler (panics,
// deadline hits) to an outcome. Both are transient: a retry may run on
// a healthier instance or within a fresh deadline.
func classifyChainError(err error) job.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return job.Retryable(fmt.Errorf("execution deadline exceeded: %w", err))
	}
	return job.Retryable(err)
}

// exhaustCode names the failure that burned the last retry.
func exhaustCode(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return job.CodeTimeout
	case errors.Is(err, middleware.ErrPanic):
		return job.CodePanic
	default:
		return job.CodeRetryExhausted
	}
}

// errorPayload builds the persisted failure record for a terminal error.
func errorPayload(code string, err error) *job.Error {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &job.Error{Code: code, Message: msg}
}
