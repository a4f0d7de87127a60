package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/cluster"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Timestamps are stored as RFC 3339 text so they sort lexically the
// same as chronologically.
const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("conveyor/sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// marshalJSON serializes v, mapping nil-able empties to NULL.
func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: marshal: %w", err)
	}
	return data, nil
}

// ── Job row ───────────────────────────────────────────────────────

const jobColumns = `id, batch_id, kind, params, state, progress, result, error,
	owner_id, retry_count, max_retries, worker_id,
	run_at, started_at, completed_at, heartbeat_at, timeout,
	created_at, updated_at`

type jobRow struct {
	ID          string
	BatchID     string
	Kind        string
	Params      []byte
	State       string
	Progress    int
	Result      []byte
	Error       []byte
	OwnerID     string
	RetryCount  int
	MaxRetries  int
	WorkerID    string
	RunAt       string
	StartedAt   sql.NullString
	CompletedAt sql.NullString
	HeartbeatAt sql.NullString
	Timeout     int64
	CreatedAt   string
	UpdatedAt   string
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRow(sc rowScanner) (*jobRow, error) {
	var r jobRow
	err := sc.Scan(
		&r.ID, &r.BatchID, &r.Kind, &r.Params, &r.State, &r.Progress, &r.Result, &r.Error,
		&r.OwnerID, &r.RetryCount, &r.MaxRetries, &r.WorkerID,
		&r.RunAt, &r.StartedAt, &r.CompletedAt, &r.HeartbeatAt, &r.Timeout,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func jobArgs(j *job.Job) ([]any, error) {
	var result, jobErr any
	if j.Result != nil {
		var err error
		if result, err = marshalJSON(j.Result); err != nil {
			return nil, err
		}
	}
	if j.Error != nil {
		var err error
		if jobErr, err = marshalJSON(j.Error); err != nil {
			return nil, err
		}
	}

	batchID := ""
	if !j.BatchID.IsNil() {
		batchID = j.BatchID.String()
	}
	workerID := ""
	if !j.WorkerID.IsNil() {
		workerID = j.WorkerID.String()
	}

	return []any{
		j.ID.String(), batchID, j.Kind, []byte(j.Params), string(j.State), j.Progress, result, jobErr,
		j.OwnerID, j.RetryCount, j.MaxRetries, workerID,
		fmtTime(j.RunAt), fmtTimePtr(j.StartedAt), fmtTimePtr(j.CompletedAt), fmtTimePtr(j.HeartbeatAt), j.Timeout.Nanoseconds(),
		fmtTime(j.CreatedAt), fmtTime(j.UpdatedAt),
	}, nil
}

func fromJobRow(r *jobRow) (*job.Job, error) {
	parsedID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: parse job id %q: %w", r.ID, err)
	}

	runAt, err := parseTime(r.RunAt)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	startedAt, err := parseTimePtr(r.StartedAt)
	if err != nil {
		return nil, err
	}
	completedAt, err := parseTimePtr(r.CompletedAt)
	if err != nil {
		return nil, err
	}
	heartbeatAt, err := parseTimePtr(r.HeartbeatAt)
	if err != nil {
		return nil, err
	}

	j := &job.Job{
		Entity: conveyor.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          parsedID,
		Kind:        r.Kind,
		Params:      r.Params,
		State:       job.State(r.State),
		Progress:    r.Progress,
		OwnerID:     r.OwnerID,
		RetryCount:  r.RetryCount,
		MaxRetries:  r.MaxRetries,
		RunAt:       runAt,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		HeartbeatAt: heartbeatAt,
		Timeout:     time.Duration(r.Timeout),
	}

	if r.BatchID != "" {
		parsedBatch, bErr := id.ParseBatchID(r.BatchID)
		if bErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: parse batch id %q: %w", r.BatchID, bErr)
		}
		j.BatchID = parsedBatch
	}
	if r.WorkerID != "" {
		parsedWorker, wErr := id.ParseWorkerID(r.WorkerID)
		if wErr == nil {
			j.WorkerID = parsedWorker
		}
	}
	if len(r.Result) > 0 {
		var res job.Result
		if err := json.Unmarshal(r.Result, &res); err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: unmarshal result: %w", err)
		}
		j.Result = &res
	}
	if len(r.Error) > 0 {
		var jobErr job.Error
		if err := json.Unmarshal(r.Error, &jobErr); err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: unmarshal error: %w", err)
		}
		j.Error = &jobErr
	}

	return j, nil
}

// ── Batch row ─────────────────────────────────────────────────────

const batchColumns = `id, name, job_ids, is_active, archived, owner_id,
	completed_jobs, failed_jobs,
	webhook_url, webhook_state, webhook_attempts, webhook_last_error,
	webhook_started_at, webhook_delivered_at,
	created_at, updated_at`

type batchRow struct {
	ID                 string
	Name               string
	JobIDs             []byte
	IsActive           bool
	Archived           bool
	OwnerID            string
	CompletedJobs      int
	FailedJobs         int
	WebhookURL         string
	WebhookState       string
	WebhookAttempts    int
	WebhookLastError   string
	WebhookStartedAt   sql.NullString
	WebhookDeliveredAt sql.NullString
	CreatedAt          string
	UpdatedAt          string
}

func scanBatchRow(sc rowScanner) (*batchRow, error) {
	var r batchRow
	err := sc.Scan(
		&r.ID, &r.Name, &r.JobIDs, &r.IsActive, &r.Archived, &r.OwnerID,
		&r.CompletedJobs, &r.FailedJobs,
		&r.WebhookURL, &r.WebhookState, &r.WebhookAttempts, &r.WebhookLastError,
		&r.WebhookStartedAt, &r.WebhookDeliveredAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func batchArgs(b *batch.Batch) ([]any, error) {
	jobIDs := make([]string, 0, len(b.JobIDs))
	for _, jobID := range b.JobIDs {
		jobIDs = append(jobIDs, jobID.String())
	}
	rawIDs, err := marshalJSON(jobIDs)
	if err != nil {
		return nil, err
	}

	var (
		url, state, lastError  string
		attempts               int
		startedAt, deliveredAt any
	)
	if b.Webhook != nil {
		url = b.Webhook.URL
		state = string(b.Webhook.State)
		attempts = b.Webhook.Attempts
		lastError = b.Webhook.LastError
		startedAt = fmtTimePtr(b.Webhook.StartedAt)
		deliveredAt = fmtTimePtr(b.Webhook.DeliveredAt)
	}

	return []any{
		b.ID.String(), b.Name, rawIDs, b.IsActive, b.Archived, b.OwnerID,
		b.CompletedJobs, b.FailedJobs,
		url, state, attempts, lastError,
		startedAt, deliveredAt,
		fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt),
	}, nil
}

func fromBatchRow(r *batchRow) (*batch.Batch, error) {
	parsedID, err := id.ParseBatchID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: parse batch id %q: %w", r.ID, err)
	}

	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	var rawIDs []string
	if len(r.JobIDs) > 0 {
		if err := json.Unmarshal(r.JobIDs, &rawIDs); err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: unmarshal job ids: %w", err)
		}
	}
	jobIDs := make([]id.JobID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		parsed, jErr := id.ParseJobID(raw)
		if jErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: parse job id %q: %w", raw, jErr)
		}
		jobIDs = append(jobIDs, parsed)
	}

	b := &batch.Batch{
		Entity: conveyor.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:            parsedID,
		Name:          r.Name,
		JobIDs:        jobIDs,
		IsActive:      r.IsActive,
		Archived:      r.Archived,
		OwnerID:       r.OwnerID,
		CompletedJobs: r.CompletedJobs,
		FailedJobs:    r.FailedJobs,
	}

	if r.WebhookURL != "" {
		startedAt, sErr := parseTimePtr(r.WebhookStartedAt)
		if sErr != nil {
			return nil, sErr
		}
		deliveredAt, dErr := parseTimePtr(r.WebhookDeliveredAt)
		if dErr != nil {
			return nil, dErr
		}
		b.Webhook = &batch.Webhook{
			URL:         r.WebhookURL,
			State:       batch.WebhookState(r.WebhookState),
			Attempts:    r.WebhookAttempts,
			LastError:   r.WebhookLastError,
			StartedAt:   startedAt,
			DeliveredAt: deliveredAt,
		}
	}

	return b, nil
}

// ── Worker row ────────────────────────────────────────────────────

const workerColumns = `id, hostname, kinds, concurrency, state, last_seen, metadata, created_at`

func workerArgs(w *cluster.Worker) ([]any, error) {
	kinds, err := marshalJSON(w.Kinds)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalJSON(w.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		w.ID.String(), w.Hostname, kinds, w.Concurrency, string(w.State),
		fmtTime(w.LastSeen), metadata, fmtTime(w.CreatedAt),
	}, nil
}

func scanWorkerRow(sc rowScanner) (*cluster.Worker, error) {
	var (
		rawID, hostname, state, lastSeen, createdAt string
		kinds, metadata                             []byte
		concurrency                                 int
	)
	err := sc.Scan(&rawID, &hostname, &kinds, &concurrency, &state, &lastSeen, &metadata, &createdAt)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseWorkerID(rawID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: parse worker id %q: %w", rawID, err)
	}
	seen, err := parseTime(lastSeen)
	if err != nil {
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}

	w := &cluster.Worker{
		ID:          parsedID,
		Hostname:    hostname,
		Concurrency: concurrency,
		State:       cluster.WorkerState(state),
		LastSeen:    seen,
		CreatedAt:   created,
	}
	if len(kinds) > 0 {
		if err := json.Unmarshal(kinds, &w.Kinds); err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: unmarshal kinds: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &w.Metadata); err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: unmarshal metadata: %w", err)
		}
	}
	return w, nil
}
