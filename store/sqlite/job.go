package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// CreateJob persists a new job in pending state.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	args, err := jobArgs(j)
	if err != nil {
		return err
	}
	query := `INSERT INTO conveyor_jobs (` + jobColumns + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/sqlite: create job: %w", err)
	}
	return nil
}

// ClaimPending atomically claims up to limit eligible pending jobs.
// Each claim is a single UPDATE..RETURNING conditioned on state =
// 'pending'; SQLite's single writer serializes concurrent claimers.
func (s *Store) ClaimPending(ctx context.Context, workerID id.WorkerID, kinds []string, limit int) ([]*job.Job, error) {
	t := fmtTime(time.Now())

	var kindFilter string
	args := []any{string(job.StateRunning), workerID.String(), t, t, t, string(job.StatePending), t}
	if len(kinds) > 0 {
		kindFilter = ` AND kind IN (` + placeholders(len(kinds)) + `)`
		for _, k := range kinds {
			args = append(args, k)
		}
	}

	// Jobs of inactive or archived batches are not claimable.
	query := `UPDATE conveyor_jobs SET
			state = ?, worker_id = ?, started_at = ?, heartbeat_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM conveyor_jobs
			WHERE state = ? AND run_at <= ?` + kindFilter + `
			AND (batch_id = '' OR EXISTS (
				SELECT 1 FROM conveyor_batches b
				WHERE b.id = batch_id AND b.is_active = 1 AND b.archived = 0
			))
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		) AND state = 'pending'
		RETURNING ` + jobColumns

	jobs := make([]*job.Job, 0, limit)
	for i := 0; i < limit; i++ {
		row := s.db.QueryRowContext(ctx, query, args...)
		r, err := scanJobRow(row)
		if err != nil {
			if isNoRows(err) {
				break
			}
			return nil, fmt.Errorf("conveyor/sqlite: claim pending: %w", err)
		}
		j, convErr := fromJobRow(r)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE id = ?`
	r, err := scanJobRow(s.db.QueryRowContext(ctx, query, jobID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/sqlite: get job: %w", err)
	}
	return fromJobRow(r)
}

// UpdateJob persists changes to an existing job after validating the
// state transition against the stored state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	existing, err := s.GetJob(ctx, j.ID)
	if err != nil {
		return err
	}
	if err := job.CheckTransition(existing.State, j.State); err != nil {
		return err
	}

	args, err := jobArgs(j)
	if err != nil {
		return err
	}
	// jobArgs order matches jobColumns; the last slot is updated_at.
	args[len(args)-1] = fmtTime(time.Now())
	// Drop the id column from SET, re-append for WHERE. The state
	// guard makes a concurrent transition lose cleanly.
	setArgs := append(args[1:], j.ID.String(), string(existing.State))

	query := `UPDATE conveyor_jobs SET
			batch_id = ?, kind = ?, params = ?, state = ?, progress = ?, result = ?, error = ?,
			owner_id = ?, retry_count = ?, max_retries = ?, worker_id = ?,
			run_at = ?, started_at = ?, completed_at = ?, heartbeat_at = ?, timeout = ?,
			created_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`
	res, err := s.db.ExecContext(ctx, query, setArgs...)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update job: %w", err)
	}
	if affected == 0 {
		return conveyor.ErrInvalidTransition
	}
	return nil
}

// RestartJob returns a terminal job to pending with cleared result,
// error, and progress. Each restart counts against the retry budget.
func (s *Store) RestartJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	t := fmtTime(time.Now())
	query := `UPDATE conveyor_jobs SET
			state = ?, progress = 0, retry_count = retry_count + 1,
			result = NULL, error = NULL, worker_id = '',
			started_at = NULL, completed_at = NULL, heartbeat_at = NULL,
			run_at = ?, updated_at = ?
		WHERE id = ? AND state IN (?, ?, ?)
		RETURNING ` + jobColumns

	row := s.db.QueryRowContext(ctx, query,
		string(job.StatePending), t, t, jobID.String(),
		string(job.StateSuccess), string(job.StateFailed), string(job.StateArchived),
	)
	r, err := scanJobRow(row)
	if err != nil {
		if isNoRows(err) {
			// Distinguish a missing job from a non-terminal one.
			if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, conveyor.ErrNotTerminal
		}
		return nil, fmt.Errorf("conveyor/sqlite: restart job: %w", err)
	}
	return fromJobRow(r)
}

// SetProgress records execution progress for a running job. MAX keeps
// it monotonic under concurrent reports.
func (s *Store) SetProgress(ctx context.Context, jobID id.JobID, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE conveyor_jobs SET progress = MAX(progress, ?), updated_at = ? WHERE id = ?`,
		progress, fmtTime(time.Now()), jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: set progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: set progress: %w", err)
	}
	if affected == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conveyor_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete job: %w", err)
	}
	if affected == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// ListJobsByBatch returns all jobs referencing the batch, in submission
// order.
func (s *Store) ListJobsByBatch(ctx context.Context, batchID id.BatchID) ([]*job.Job, error) {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE batch_id = ?`
	rows, err := s.db.QueryContext(ctx, query, batchID.String())
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list jobs by batch: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*job.Job)
	for rows.Next() {
		r, scanErr := scanJobRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: list jobs by batch scan: %w", scanErr)
		}
		j, convErr := fromJobRow(r)
		if convErr != nil {
			return nil, convErr
		}
		byID[j.ID.String()] = j
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list jobs by batch: %w", err)
	}

	// The batch's JobIDs slice is the submission order of record.
	jobs := make([]*job.Job, 0, len(byID))
	for _, jobID := range b.JobIDs {
		if j, ok := byID[jobID.String()]; ok {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE state = ?`)
	args := []any{string(state)}

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
		return nil, fmt.Errorf("conveyor/sqlite: list jobs by state: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		r, scanErr := scanJobRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: list jobs scan: %w", scanErr)
		}
		j, convErr := fromJobRow(r)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT COUNT(*) FROM conveyor_jobs WHERE 1=1`)
	var args []any

	if opts.Kind != "" {
		sb.WriteString(` AND kind = ?`)
		args = append(args, opts.Kind)
	}
	if opts.State != "" {
		sb.WriteString(` AND state = ?`)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sb.String(), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: count jobs: %w", err)
	}
	return count, nil
}

// HeartbeatJob renews the lease on a running job. A heartbeat from a
// worker that no longer holds the claim is a silent no-op: a stale
// heartbeat must not resurrect a reaped or reassigned job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	t := fmtTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`UPDATE conveyor_jobs SET heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND state = ? AND worker_id = ?`,
		t, t, jobID.String(), string(job.StateRunning), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := fmtTime(time.Now().Add(-threshold))

	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs
		WHERE state = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`
	rows, err := s.db.QueryContext(ctx, query, string(job.StateRunning), cutoff)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: reap stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		r, scanErr := scanJobRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: reap stale scan: %w", scanErr)
		}
		j, convErr := fromJobRow(r)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
