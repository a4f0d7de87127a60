package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// CreateBatch persists the batch and all its jobs in one transaction.
func (s *Store) CreateBatch(ctx context.Context, b *batch.Batch, jobs []*job.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: create batch begin: %w", err)
	}
	defer tx.Rollback()

	bArgs, err := batchArgs(b)
	if err != nil {
		return err
	}
	batchQuery := `INSERT INTO conveyor_batches (` + batchColumns + `) VALUES (` + placeholders(len(bArgs)) + `)`
	if _, err := tx.ExecContext(ctx, batchQuery, bArgs...); err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrBatchAlreadyExists
		}
		return fmt.Errorf("conveyor/sqlite: create batch: %w", err)
	}

	jobQuery := `INSERT INTO conveyor_jobs (` + jobColumns + `) VALUES (` + placeholders(19) + `)`
	for _, j := range jobs {
		jArgs, argErr := jobArgs(j)
		if argErr != nil {
			return argErr
		}
		if _, err := tx.ExecContext(ctx, jobQuery, jArgs...); err != nil {
			if isDuplicateKey(err) {
				return conveyor.ErrJobAlreadyExists
			}
			return fmt.Errorf("conveyor/sqlite: create batch job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conveyor/sqlite: create batch commit: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID.
func (s *Store) GetBatch(ctx context.Context, batchID id.BatchID) (*batch.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM conveyor_batches WHERE id = ?`
	r, err := scanBatchRow(s.db.QueryRowContext(ctx, query, batchID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrBatchNotFound
		}
		return nil, fmt.Errorf("conveyor/sqlite: get batch: %w", err)
	}
	return fromBatchRow(r)
}

// UpdateBatch persists changes to an existing batch. The webhook
// columns are deliberately excluded: a counter overwrite must not
// clobber a concurrent ClaimWebhook. Webhook changes go through
// UpdateWebhook.
func (s *Store) UpdateBatch(ctx context.Context, b *batch.Batch) error {
	args, err := batchArgs(b)
	if err != nil {
		return err
	}
	// batchArgs order: id, name, job_ids, is_active, archived,
	// owner_id, completed_jobs, failed_jobs, webhook..., created, updated.
	res, err := s.db.ExecContext(ctx,
		`UPDATE conveyor_batches SET
			name = ?, job_ids = ?, is_active = ?, archived = ?, owner_id = ?,
			completed_jobs = ?, failed_jobs = ?, updated_at = ?
		WHERE id = ?`,
		args[1], args[2], args[3], args[4], args[5], args[6], args[7],
		fmtTime(time.Now()), b.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update batch: %w", err)
	}
	if affected == 0 {
		return conveyor.ErrBatchNotFound
	}
	return nil
}

// UpdateBatchCounters writes back only the derived counters.
func (s *Store) UpdateBatchCounters(ctx context.Context, batchID id.BatchID, completed, failed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conveyor_batches SET completed_jobs = ?, failed_jobs = ?, updated_at = ? WHERE id = ?`,
		completed, failed, fmtTime(time.Now()), batchID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update batch counters: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update batch counters: %w", err)
	}
	if affected == 0 {
		return conveyor.ErrBatchNotFound
	}
	return nil
}

// DeleteBatch removes a batch and cascades to all its jobs.
func (s *Store) DeleteBatch(ctx context.Context, batchID id.BatchID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete batch begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM conveyor_batches WHERE id = ?`, batchID.String())
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete batch: %w", err)
	}
	if affected == 0 {
		return conveyor.ErrBatchNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conveyor_jobs WHERE batch_id = ?`, batchID.String()); err != nil {
		return fmt.Errorf("conveyor/sqlite: delete batch jobs: %w", err)
	}
	return tx.Commit()
}

// ListBatches returns batches; archived ones are excluded unless
// requested.
func (s *Store) ListBatches(ctx context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + batchColumns + ` FROM conveyor_batches WHERE 1=1`)
	var args []any

	if !opts.IncludeArchived {
		sb.WriteString(` AND archived = 0`)
	}
	if opts.OwnerID != "" {
		sb.WriteString(` AND owner_id = ?`)
		args = append(args, opts.OwnerID)
	}
	sb.WriteString(` ORDER BY created_at ASC, id ASC`)
	if opts.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			sb.WriteString(` LIMIT -1`)
		}
		sb.WriteString(` OFFSET ?`)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list batches: %w", err)
	}
	defer rows.Close()

	var batches []*batch.Batch
	for rows.Next() {
		r, scanErr := scanBatchRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: list batches scan: %w", scanErr)
		}
		b, convErr := fromBatchRow(r)
		if convErr != nil {
			return nil, convErr
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// SetBatchActive toggles whether the batch's jobs may be claimed.
func (s *Store) SetBatchActive(ctx context.Context, batchID id.BatchID, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conveyor_batches SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, fmtTime(time.Now()), batchID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: set batch active: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: set batch active: %w", err)
	}
	if affected == 0 {
		return conveyor.ErrBatchNotFound
	}
	return nil
}

// ArchiveBatch marks the batch archived and archives its pending jobs;
// running jobs finish normally.
func (s *Store) ArchiveBatch(ctx context.Context, batchID id.BatchID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: archive batch begin: %w", err)
	}
	defer tx.Rollback()

	t := fmtTime(time.Now())
	res, err := tx.ExecContext(ctx,
		`UPDATE conveyor_batches SET archived = 1, updated_at = ? WHERE id = ?`,
		t, batchID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: archive batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: archive batch: %w", err)
	}
	if affected == 0 {
		return conveyor.ErrBatchNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conveyor_jobs SET state = ?, updated_at = ? WHERE batch_id = ? AND state = ?`,
		string(job.StateArchived), t, batchID.String(), string(job.StatePending),
	); err != nil {
		return fmt.Errorf("conveyor/sqlite: archive batch jobs: %w", err)
	}
	return tx.Commit()
}

// ClaimWebhook atomically marks webhook delivery as started. The
// predicate on an unset webhook_started_at makes this a CAS: exactly
// one caller wins.
func (s *Store) ClaimWebhook(ctx context.Context, batchID id.BatchID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conveyor_batches SET webhook_started_at = ?, updated_at = ?
		WHERE id = ? AND webhook_url != '' AND webhook_started_at IS NULL`,
		fmtTime(time.Now()), fmtTime(time.Now()), batchID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("conveyor/sqlite: claim webhook: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conveyor/sqlite: claim webhook: %w", err)
	}
	if affected == 0 {
		// Already claimed, no webhook configured, or no such batch.
		if _, getErr := s.GetBatch(ctx, batchID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

// UpdateWebhook persists delivery bookkeeping for the batch's webhook.
// webhook_started_at is deliberately not in the column list: it is
// owned by the ClaimWebhook CAS and a delivery loop must not reset it.
func (s *Store) UpdateWebhook(ctx context.Context, batchID id.BatchID, w *batch.Webhook) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conveyor_batches SET
			webhook_url = ?, webhook_state = ?, webhook_attempts = ?,
			webhook_last_error = ?, webhook_delivered_at = ?,
			updated_at = ?
		WHERE id = ?`,
		w.URL, string(w.State), w.Attempts,
		w.LastError, fmtTimePtr(w.DeliveredAt),
		fmtTime(time.Now()), batchID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update webhook: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update webhook: %w", err)
	}
	if affected == 0 {
		return conveyor.ErrBatchNotFound
	}
	return nil
}
