package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/cache"
	"github.com/xraph/conveyor/cluster"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobResultModel struct {
	Payload   []byte   `bson:"payload,omitempty"`
	Artifacts []string `bson:"artifacts,omitempty"`
	CacheHit  bool     `bson:"cache_hit,omitempty"`
}

type jobErrorModel struct {
	Code    string            `bson:"code"`
	Message string            `bson:"message"`
	Details map[string]string `bson:"details,omitempty"`
}

type jobModel struct {
	ID          string          `bson:"_id"`
	BatchID     string          `bson:"batch_id,omitempty"`
	Kind        string          `bson:"kind"`
	Params      []byte          `bson:"params,omitempty"`
	State       string          `bson:"state"`
	Progress    int             `bson:"progress"`
	Result      *jobResultModel `bson:"result,omitempty"`
	Error       *jobErrorModel  `bson:"error,omitempty"`
	OwnerID     string          `bson:"owner_id,omitempty"`
	RetryCount  int             `bson:"retry_count"`
	MaxRetries  int             `bson:"max_retries"`
	WorkerID    string          `bson:"worker_id,omitempty"`
	RunAt       time.Time       `bson:"run_at"`
	StartedAt   *time.Time      `bson:"started_at,omitempty"`
	CompletedAt *time.Time      `bson:"completed_at,omitempty"`
	HeartbeatAt *time.Time      `bson:"heartbeat_at,omitempty"`
	Timeout     int64           `bson:"timeout"`
	CreatedAt   time.Time       `bson:"created_at"`
	UpdatedAt   time.Time       `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:          j.ID.String(),
		Kind:        j.Kind,
		Params:      j.Params,
		State:       string(j.State),
		Progress:    j.Progress,
		OwnerID:     j.OwnerID,
		RetryCount:  j.RetryCount,
		MaxRetries:  j.MaxRetries,
		RunAt:       j.RunAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		HeartbeatAt: j.HeartbeatAt,
		Timeout:     j.Timeout.Nanoseconds(),
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if !j.BatchID.IsNil() {
		m.BatchID = j.BatchID.String()
	}
	if !j.WorkerID.IsNil() {
		m.WorkerID = j.WorkerID.String()
	}
	if j.Result != nil {
		m.Result = &jobResultModel{
			Payload:   j.Result.Payload,
			Artifacts: j.Result.Artifacts,
			CacheHit:  j.Result.CacheHit,
		}
	}
	if j.Error != nil {
		m.Error = &jobErrorModel{
			Code:    j.Error.Code,
			Message: j.Error.Message,
			Details: j.Error.Details,
		}
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: conveyor.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Kind:        m.Kind,
		Params:      m.Params,
		State:       job.State(m.State),
		Progress:    m.Progress,
		OwnerID:     m.OwnerID,
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
		RunAt:       m.RunAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		HeartbeatAt: m.HeartbeatAt,
		Timeout:     time.Duration(m.Timeout),
	}

	if m.BatchID != "" {
		parsedBatch, bErr := id.ParseBatchID(m.BatchID)
		if bErr != nil {
			return nil, fmt.Errorf("conveyor/mongo: parse batch id %q: %w", m.BatchID, bErr)
		}
		j.BatchID = parsedBatch
	}
	if m.WorkerID != "" {
		parsedWorker, wErr := id.ParseWorkerID(m.WorkerID)
		if wErr == nil {
			j.WorkerID = parsedWorker
		}
	}
	if m.Result != nil {
		j.Result = &job.Result{
			Payload:   m.Result.Payload,
			Artifacts: m.Result.Artifacts,
			CacheHit:  m.Result.CacheHit,
		}
	}
	if m.Error != nil {
		j.Error = &job.Error{
			Code:    m.Error.Code,
			Message: m.Error.Message,
			Details: m.Error.Details,
		}
	}

	return j, nil
}

// ── Batch model ───────────────────────────────────────────────────

type webhookModel struct {
	URL         string     `bson:"url"`
	State       string     `bson:"state"`
	Attempts    int        `bson:"attempts"`
	LastError   string     `bson:"last_error,omitempty"`
	StartedAt   *time.Time `bson:"started_at,omitempty"`
	DeliveredAt *time.Time `bson:"delivered_at,omitempty"`
}

type batchModel struct {
	ID            string        `bson:"_id"`
	Name          string        `bson:"name"`
	JobIDs        []string      `bson:"job_ids"`
	IsActive      bool          `bson:"is_active"`
	Archived      bool          `bson:"archived"`
	Webhook       *webhookModel `bson:"webhook,omitempty"`
	OwnerID       string        `bson:"owner_id,omitempty"`
	CompletedJobs int           `bson:"completed_jobs"`
	FailedJobs    int           `bson:"failed_jobs"`
	CreatedAt     time.Time     `bson:"created_at"`
	UpdatedAt     time.Time     `bson:"updated_at"`
}

func toWebhookModel(w *batch.Webhook) *webhookModel {
	if w == nil {
		return nil
	}
	return &webhookModel{
		URL:         w.URL,
		State:       string(w.State),
		Attempts:    w.Attempts,
		LastError:   w.LastError,
		StartedAt:   w.StartedAt,
		DeliveredAt: w.DeliveredAt,
	}
}

func fromWebhookModel(m *webhookModel) *batch.Webhook {
	if m == nil {
		return nil
	}
	return &batch.Webhook{
		URL:         m.URL,
		State:       batch.WebhookState(m.State),
		Attempts:    m.Attempts,
		LastError:   m.LastError,
		StartedAt:   m.StartedAt,
		DeliveredAt: m.DeliveredAt,
	}
}

func toBatchModel(b *batch.Batch) *batchModel {
	jobIDs := make([]string, 0, len(b.JobIDs))
	for _, jobID := range b.JobIDs {
		jobIDs = append(jobIDs, jobID.String())
	}
	return &batchModel{
		ID:            b.ID.String(),
		Name:          b.Name,
		JobIDs:        jobIDs,
		IsActive:      b.IsActive,
		Archived:      b.Archived,
		Webhook:       toWebhookModel(b.Webhook),
		OwnerID:       b.OwnerID,
		CompletedJobs: b.CompletedJobs,
		FailedJobs:    b.FailedJobs,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func fromBatchModel(m *batchModel) (*batch.Batch, error) {
	parsedID, err := id.ParseBatchID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: parse batch id %q: %w", m.ID, err)
	}

	jobIDs := make([]id.JobID, 0, len(m.JobIDs))
	for _, raw := range m.JobIDs {
		parsed, jErr := id.ParseJobID(raw)
		if jErr != nil {
			return nil, fmt.Errorf("conveyor/mongo: parse job id %q: %w", raw, jErr)
		}
		jobIDs = append(jobIDs, parsed)
	}

	return &batch.Batch{
		Entity: conveyor.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            parsedID,
		Name:          m.Name,
		JobIDs:        jobIDs,
		IsActive:      m.IsActive,
		Archived:      m.Archived,
		Webhook:       fromWebhookModel(m.Webhook),
		OwnerID:       m.OwnerID,
		CompletedJobs: m.CompletedJobs,
		FailedJobs:    m.FailedJobs,
	}, nil
}

// ── Cache entry model ─────────────────────────────────────────────

type cacheEntryModel struct {
	Fingerprint string    `bson:"_id"`
	Payload     []byte    `bson:"payload,omitempty"`
	Artifacts   []string  `bson:"artifacts,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
}

func toCacheModel(e *cache.Entry) *cacheEntryModel {
	return &cacheEntryModel{
		Fingerprint: e.Fingerprint,
		Payload:     e.Payload,
		Artifacts:   e.Artifacts,
		CreatedAt:   e.CreatedAt,
	}
}

func fromCacheModel(m *cacheEntryModel) *cache.Entry {
	return &cache.Entry{
		Fingerprint: m.Fingerprint,
		Payload:     m.Payload,
		Artifacts:   m.Artifacts,
		CreatedAt:   m.CreatedAt,
	}
}

// ── Worker model ──────────────────────────────────────────────────

type workerModel struct {
	ID          string            `bson:"_id"`
	Hostname    string            `bson:"hostname"`
	Kinds       []string          `bson:"kinds,omitempty"`
	Concurrency int               `bson:"concurrency"`
	State       string            `bson:"state"`
	LastSeen    time.Time         `bson:"last_seen"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
	CreatedAt   time.Time         `bson:"created_at"`
}

func toWorkerModel(w *cluster.Worker) *workerModel {
	return &workerModel{
		ID:          w.ID.String(),
		Hostname:    w.Hostname,
		Kinds:       w.Kinds,
		Concurrency: w.Concurrency,
		State:       string(w.State),
		LastSeen:    w.LastSeen,
		Metadata:    w.Metadata,
		CreatedAt:   w.CreatedAt,
	}
}

func fromWorkerModel(m *workerModel) (*cluster.Worker, error) {
	parsedID, err := id.ParseWorkerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: parse worker id %q: %w", m.ID, err)
	}

	return &cluster.Worker{
		ID:          parsedID,
		Hostname:    m.Hostname,
		Kinds:       m.Kinds,
		Concurrency: m.Concurrency,
		State:       cluster.WorkerState(m.State),
		LastSeen:    m.LastSeen,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
	}, nil
}
