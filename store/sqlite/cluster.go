package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/cluster"
	"github.com/xraph/conveyor/id"
)

// RegisterWorker adds a worker to the registry. Re-registering an
// existing worker ID refreshes its record.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	args, err := workerArgs(w)
	if err != nil {
		return err
	}
	query := `INSERT INTO conveyor_workers (` + workerColumns + `) VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT(id) DO UPDATE SET
			hostname = excluded.hostname,
			kinds = excluded.kinds,
			concurrency = excluded.concurrency,
			state = excluded.state,
			last_seen = excluded.last_seen,
			metadata = excluded.metadata`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("conveyor/sqlite: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conveyor_workers WHERE id = ?`, workerID.String())
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: deregister worker: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: deregister worker: %w", err)
	}
	if affected == 0 {
		return conveyor.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker refreshes the worker's last-seen timestamp.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conveyor_workers SET last_seen = ? WHERE id = ?`,
		fmtTime(time.Now()), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: heartbeat worker: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: heartbeat worker: %w", err)
	}
	if affected == 0 {
		return conveyor.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers in registration order.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM conveyor_workers ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list workers: %w", err)
	}
	defer rows.Close()

	var workers []*cluster.Worker
	for rows.Next() {
		w, scanErr := scanWorkerRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: list workers scan: %w", scanErr)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// ReapDeadWorkers marks workers unseen for longer than threshold as
// dead and returns them. Their in-flight jobs are reclaimed by the job
// store's stale-job reaper.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := fmtTime(time.Now().Add(-threshold))
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM conveyor_workers WHERE state != ? AND last_seen < ?`,
		string(cluster.WorkerDead), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: reap dead workers: %w", err)
	}
	defer rows.Close()

	var dead []*cluster.Worker
	for rows.Next() {
		w, scanErr := scanWorkerRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: reap dead workers scan: %w", scanErr)
		}
		dead = append(dead, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dead) == 0 {
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE conveyor_workers SET state = ? WHERE state != ? AND last_seen < ?`,
		string(cluster.WorkerDead), string(cluster.WorkerDead), cutoff,
	); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: reap dead workers update: %w", err)
	}
	for _, w := range dead {
		w.State = cluster.WorkerDead
	}
	return dead, nil
}
