package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// TerminalFunc is invoked at most once per batch, by the recomputation
// that wins the webhook claim when the batch first turns terminal.
type TerminalFunc func(ctx context.Context, b *Batch, stats Stats)

// Aggregator derives batch-level status and counters from the live job
// set and applies bulk operations. Recompute is idempotent and safe to
// call concurrently: the derived fields are pure functions of job state,
// so last-write-wins persistence is correct.
type Aggregator struct {
	batches    Store
	jobs       job.Store
	onTerminal TerminalFunc
	logger     *slog.Logger
}

// NewAggregator creates an Aggregator. onTerminal may be nil when no
// terminal callback (webhook delivery) is wanted.
func NewAggregator(batches Store, jobs job.Store, onTerminal TerminalFunc, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		batches:    batches,
		jobs:       jobs,
		onTerminal: onTerminal,
		logger:     logger,
	}
}

// Derive computes aggregate stats from a job snapshot. Pure function:
// recomputing without job changes yields identical output.
func Derive(batchID id.BatchID, jobs []*job.Job) Stats {
	stats := Stats{BatchID: batchID, TotalJobs: len(jobs)}
	for _, j := range jobs {
		switch j.State {
		case job.StateSuccess:
			stats.CompletedJobs++
		case job.StateFailed:
			stats.FailedJobs++
		case job.StateRunning:
			stats.RunningJobs++
		default:
			// Pending and archived jobs both hold the batch open;
			// an archived non-terminal job never completes.
			stats.PendingJobs++
		}
	}

	switch {
	case stats.TotalJobs == 0:
		stats.Status = StatusPending
	case stats.CompletedJobs == stats.TotalJobs:
		stats.Status = StatusSuccess
	case stats.CompletedJobs+stats.FailedJobs == stats.TotalJobs:
		stats.Status = StatusFailed
	default:
		stats.Status = StatusPending
	}
	return stats
}

// Stats recomputes aggregate state from live job data without mutating
// anything. This is the polling path: repeated calls have no side
// effects.
func (a *Aggregator) Stats(ctx context.Context, batchID id.BatchID) (*Batch, Stats, error) {
	b, err := a.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, Stats{}, err
	}

	jobs, err := a.jobs.ListJobsByBatch(ctx, batchID)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("batch: stats %s: %w", batchID, err)
	}

	stats := Derive(batchID, jobs)
	b.CompletedJobs = stats.CompletedJobs
	b.FailedJobs = stats.FailedJobs
	return b, stats, nil
}

// Recompute derives the batch's status and counters from the live job
// set and writes back only the derived counters. When the batch has
// first reached a terminal status it claims the webhook edge and
// invokes the terminal callback exactly once.
func (a *Aggregator) Recompute(ctx context.Context, batchID id.BatchID) (Stats, error) {
	b, err := a.batches.GetBatch(ctx, batchID)
	if err != nil {
		return Stats{}, err
	}

	jobs, err := a.jobs.ListJobsByBatch(ctx, batchID)
	if err != nil {
		return Stats{}, fmt.Errorf("batch: recompute %s: %w", batchID, err)
	}

	stats := Derive(batchID, jobs)

	// Write back only the derived counters: a full-record overwrite here
	// would revert flag or member-list edits that landed since GetBatch.
	b.CompletedJobs = stats.CompletedJobs
	b.FailedJobs = stats.FailedJobs
	if err := a.batches.UpdateBatchCounters(ctx, batchID, stats.CompletedJobs, stats.FailedJobs); err != nil {
		return stats, fmt.Errorf("batch: persist counters %s: %w", batchID, err)
	}

	if stats.Status.Terminal() && b.Webhook != nil {
		claimed, claimErr := a.batches.ClaimWebhook(ctx, batchID)
		if claimErr != nil {
			a.logger.Error("webhook claim failed",
				slog.String("batch_id", batchID.String()),
				slog.String("error", claimErr.Error()),
			)
		} else if claimed && a.onTerminal != nil {
			a.onTerminal(ctx, b, stats)
		}
	}

	return stats, nil
}

// ──────────────────────────────────────────────────
// Bulk operations
// ──────────────────────────────────────────────────

// RestartAll restarts every terminal job in the batch and returns the
// number of jobs affected. Individual failures are logged and skipped;
// the operation is deliberately not atomic across the batch.
func (a *Aggregator) RestartAll(ctx context.Context, batchID id.BatchID) (int, error) {
	return a.forEachJob(ctx, batchID, "restart", func(ctx context.Context, j *job.Job) (bool, error) {
		if !j.State.Terminal() && j.State != job.StateArchived {
			return false, nil
		}
		_, err := a.jobs.RestartJob(ctx, j.ID)
		return err == nil, err
	})
}

// ResubmitPending returns every job of the batch to pending, requeueing
// the whole batch. Terminal and archived jobs go through RestartJob;
// running jobs are forcibly requeued (a stale in-flight completion then
// loses the store's state guard). Reports the number of jobs affected.
func (a *Aggregator) ResubmitPending(ctx context.Context, batchID id.BatchID) (int, error) {
	return a.forEachJob(ctx, batchID, "resubmit", func(ctx context.Context, j *job.Job) (bool, error) {
		switch {
		case j.State == job.StatePending:
			return false, nil
		case j.State.Terminal() || j.State == job.StateArchived:
			_, err := a.jobs.RestartJob(ctx, j.ID)
			return err == nil, err
		default:
			j.State = job.StatePending
			j.WorkerID = id.Nil
			j.StartedAt = nil
			j.HeartbeatAt = nil
			j.Progress = 0
			j.RunAt = time.Now().UTC()
			j.Touch()
			err := a.jobs.UpdateJob(ctx, j)
			return err == nil, err
		}
	})
}

// FailAll marks every non-terminal job in the batch failed and returns
// the number of jobs affected.
func (a *Aggregator) FailAll(ctx context.Context, batchID id.BatchID, reason string) (int, error) {
	return a.forEachJob(ctx, batchID, "fail", func(ctx context.Context, j *job.Job) (bool, error) {
		if j.State.Terminal() || j.State == job.StateArchived {
			return false, nil
		}
		j.Complete(job.StateFailed, nil, &job.Error{
			Code:    job.CodeFatal,
			Message: reason,
		})
		err := a.jobs.UpdateJob(ctx, j)
		return err == nil, err
	})
}

// forEachJob applies fn to every job of the batch, tolerating individual
// failures, then recomputes the batch. It reports how many jobs fn
// actually changed.
func (a *Aggregator) forEachJob(ctx context.Context, batchID id.BatchID, op string, fn func(context.Context, *job.Job) (bool, error)) (int, error) {
	jobs, err := a.jobs.ListJobsByBatch(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("batch: %s all %s: %w", op, batchID, err)
	}

	affected := 0
	for _, j := range jobs {
		changed, fnErr := fn(ctx, j)
		if fnErr != nil {
			a.logger.Warn("bulk operation skipped job",
				slog.String("op", op),
				slog.String("batch_id", batchID.String()),
				slog.String("job_id", j.ID.String()),
				slog.String("error", fnErr.Error()),
			)
			continue
		}
		if changed {
			affected++
		}
	}

	if _, err := a.Recompute(ctx, batchID); err != nil {
		return affected, err
	}
	return affected, nil
}
