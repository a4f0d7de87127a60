// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/cache"
	"github.com/xraph/conveyor/cluster"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store     = (*Store)(nil)
	_ batch.Store   = (*Store)(nil)
	_ cache.Store   = (*Store)(nil)
	_ cluster.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*job.Job
	batches map[string]*batch.Batch
	entries map[string]*cache.Entry
	workers map[string]*cluster.Worker
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		batches: make(map[string]*batch.Batch),
		entries: make(map[string]*cache.Entry),
		workers: make(map[string]*cluster.Worker),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job in pending state.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.createJobLocked(j)
}

func (m *Store) createJobLocked(j *job.Job) error {
	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return conveyor.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// ClaimPending atomically claims up to limit eligible pending jobs for
// workerID, sets them to running, and returns them. Jobs of inactive or
// archived batches are never claimed. Claim order follows submission
// order (creation time, then ID).
func (m *Store) ClaimPending(_ context.Context, workerID id.WorkerID, kinds []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kindSet := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		kindSet[k] = struct{}{}
	}

	now := time.Now().UTC()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != job.StatePending {
			continue
		}
		if !j.RunAt.IsZero() && j.RunAt.After(now) {
			continue
		}
		if len(kindSet) > 0 {
			if _, ok := kindSet[j.Kind]; !ok {
				continue
			}
		}
		if !j.BatchID.IsNil() {
			b, ok := m.batches[j.BatchID.String()]
			if !ok || !b.IsActive || b.Archived {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	// Submission order: CreatedAt ASC with the K-sortable ID as
	// tie-breaker, so jobs of one batch come out in the order they
	// were submitted.
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].ID.String() < candidates[k].ID.String()
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateRunning
		j.WorkerID = workerID
		n := now
		j.StartedAt = &n
		hb := now
		j.HeartbeatAt = &hb
		j.UpdatedAt = now
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job, rejecting illegal
// state transitions.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	existing, ok := m.jobs[key]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	if err := job.CheckTransition(existing.State, j.State); err != nil {
		return err
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// RestartJob returns a terminal job to pending with cleared result and
// error. Each restart counts against the retry budget.
func (m *Store) RestartJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	if !j.State.Terminal() && j.State != job.StateArchived {
		return nil, conveyor.ErrNotTerminal
	}

	now := time.Now().UTC()
	j.State = job.StatePending
	j.Result = nil
	j.Error = nil
	j.Progress = 0
	j.RetryCount++
	j.WorkerID = id.Nil
	j.RunAt = now
	j.StartedAt = nil
	j.CompletedAt = nil
	j.HeartbeatAt = nil
	j.UpdatedAt = now

	cp := *j
	return &cp, nil
}

// SetProgress records execution progress for a running job. Values are
// clamped to 0–100 and never decrease.
func (m *Store) SetProgress(_ context.Context, jobID id.JobID, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress > j.Progress {
		j.Progress = progress
		j.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return conveyor.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByBatch returns the batch's jobs in submission order.
func (m *Store) ListJobsByBatch(_ context.Context, batchID id.BatchID) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return nil, conveyor.ErrBatchNotFound
	}

	result := make([]*job.Job, 0, len(b.JobIDs))
	for _, jobID := range b.JobIDs {
		if j, found := m.jobs[jobID.String()]; found {
			cp := *j
			result = append(result, &cp)
		}
	}
	return result, nil
}

// ListJobsByState returns jobs matching the given state.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.OwnerID != "" && j.OwnerID != opts.OwnerID {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	// Apply offset / limit.
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Kind != "" && j.Kind != opts.Kind {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// HeartbeatJob renews the lease on a running job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	if j.State != job.StateRunning || j.WorkerID.String() != workerID.String() {
		// The lease moved on; a stale heartbeat must not resurrect it.
		return nil
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateRunning {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// ──────────────────────────────────────────────────
// Batch Store
// ──────────────────────────────────────────────────

// CreateBatch persists the batch and all its jobs as one unit.
func (m *Store) CreateBatch(_ context.Context, b *batch.Batch, jobs []*job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := b.ID.String()
	if _, exists := m.batches[key]; exists {
		return conveyor.ErrBatchAlreadyExists
	}
	for _, j := range jobs {
		if _, exists := m.jobs[j.ID.String()]; exists {
			return conveyor.ErrJobAlreadyExists
		}
	}

	for _, j := range jobs {
		if err := m.createJobLocked(j); err != nil {
			// Unreachable after the existence check above; keep the
			// map consistent regardless.
			for _, created := range jobs {
				delete(m.jobs, created.ID.String())
			}
			return err
		}
	}

	cp := *b
	m.batches[key] = &cp
	return nil
}

// GetBatch retrieves a batch by ID.
func (m *Store) GetBatch(_ context.Context, batchID id.BatchID) (*batch.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return nil, conveyor.ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

// UpdateBatch persists changes to an existing batch.
func (m *Store) UpdateBatch(_ context.Context, b *batch.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := b.ID.String()
	existing, ok := m.batches[key]
	if !ok {
		return conveyor.ErrBatchNotFound
	}
	cp := *b
	// Webhook edge-trigger state is owned by ClaimWebhook/UpdateWebhook:
	// a counter overwrite must not clobber a concurrent claim.
	cp.Webhook = existing.Webhook
	cp.UpdatedAt = time.Now().UTC()
	m.batches[key] = &cp
	return nil
}

// UpdateBatchCounters writes back only the derived counters.
func (m *Store) UpdateBatchCounters(_ context.Context, batchID id.BatchID, completed, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return conveyor.ErrBatchNotFound
	}
	b.CompletedJobs = completed
	b.FailedJobs = failed
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteBatch removes a batch and cascades to all its jobs.
func (m *Store) DeleteBatch(_ context.Context, batchID id.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := batchID.String()
	b, ok := m.batches[key]
	if !ok {
		return conveyor.ErrBatchNotFound
	}
	for _, jobID := range b.JobIDs {
		delete(m.jobs, jobID.String())
	}
	delete(m.batches, key)
	return nil
}

// ListBatches returns batches; archived ones are excluded unless
// opts.IncludeArchived is set.
func (m *Store) ListBatches(_ context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*batch.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		if b.Archived && !opts.IncludeArchived {
			continue
		}
		if opts.OwnerID != "" && b.OwnerID != opts.OwnerID {
			continue
		}
		cp := *b
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// SetBatchActive toggles whether the batch's jobs may be claimed.
func (m *Store) SetBatchActive(_ context.Context, batchID id.BatchID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return conveyor.ErrBatchNotFound
	}
	b.IsActive = active
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// ArchiveBatch marks the batch archived and archives its pending jobs.
func (m *Store) ArchiveBatch(_ context.Context, batchID id.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return conveyor.ErrBatchNotFound
	}

	now := time.Now().UTC()
	b.Archived = true
	b.UpdatedAt = now

	for _, jobID := range b.JobIDs {
		j, found := m.jobs[jobID.String()]
		if !found || j.State != job.StatePending {
			continue
		}
		j.State = job.StateArchived
		j.UpdatedAt = now
	}
	return nil
}

// ClaimWebhook atomically marks webhook delivery as started. Only the
// first caller after the batch turns terminal wins.
func (m *Store) ClaimWebhook(_ context.Context, batchID id.BatchID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return false, conveyor.ErrBatchNotFound
	}
	if b.Webhook == nil || b.Webhook.StartedAt != nil {
		return false, nil
	}

	now := time.Now().UTC()
	w := *b.Webhook
	w.StartedAt = &now
	b.Webhook = &w
	b.UpdatedAt = now
	return true, nil
}

// UpdateWebhook persists delivery bookkeeping for the batch's webhook.
// StartedAt is owned by ClaimWebhook: the stored value wins over
// whatever the caller's copy carries.
func (m *Store) UpdateWebhook(_ context.Context, batchID id.BatchID, w *batch.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return conveyor.ErrBatchNotFound
	}
	cp := *w
	if b.Webhook != nil {
		cp.StartedAt = b.Webhook.StartedAt
	}
	b.Webhook = &cp
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// Cache Store
// ──────────────────────────────────────────────────

// GetEntry returns the cached result for a fingerprint.
func (m *Store) GetEntry(_ context.Context, fingerprint string) (*cache.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

// PutEntry stores a cached result. Write-once: an existing fingerprint
// is never overwritten.
func (m *Store) PutEntry(_ context.Context, e *cache.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[e.Fingerprint]; exists {
		return nil
	}
	cp := *e
	m.entries[e.Fingerprint] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a worker to the cluster registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return conveyor.ErrWorkerNotFound
	}
	delete(m.workers, key)
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return conveyor.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// ListWorkers returns all registered workers.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})
	return result, nil
}

// ReapDeadWorkers marks workers without a recent heartbeat as dead and
// returns them.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.State == cluster.WorkerDead {
			continue
		}
		if w.LastSeen.Before(cutoff) {
			w.State = cluster.WorkerDead
			cp := *w
			dead = append(dead, &cp)
		}
	}
	return dead, nil
}
