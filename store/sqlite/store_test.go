package sqlite_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/cache"
	"github.com/xraph/conveyor/cluster"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/store/sqlite"
)

// newStore opens an in-memory database with the schema applied.
func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func newJob(kind string) *job.Job {
	j := &job.Job{
		ID:     id.NewJobID(),
		Kind:   kind,
		Params: json.RawMessage(`{"url":"s3://in/a.mp4"}`),
		State:  job.StatePending,
		RunAt:  time.Now().UTC(),
	}
	j.Entity = conveyor.NewEntity()
	return j
}

func TestCreateAndGetJob(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	j := newJob("transcribe")

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateJob(ctx, j); err != conveyor.ErrJobAlreadyExists {
		t.Errorf("duplicate create = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Kind != "transcribe" || got.State != job.StatePending {
		t.Errorf("got kind=%q state=%q", got.Kind, got.State)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); err != conveyor.ErrJobNotFound {
		t.Errorf("missing get = %v, want ErrJobNotFound", err)
	}
}

func TestClaimPending(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	workerID := id.NewWorkerID()

	j1 := newJob("transcribe")
	j2 := newJob("ocr")
	future := newJob("transcribe")
	future.RunAt = time.Now().Add(time.Hour)

	for _, j := range []*job.Job{j1, j2, future} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	claimed, err := s.ClaimPending(ctx, workerID, []string{"transcribe"}, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(claimed))
	}
	if claimed[0].ID.String() != j1.ID.String() {
		t.Errorf("claimed %s, want %s", claimed[0].ID, j1.ID)
	}
	if claimed[0].State != job.StateRunning {
		t.Errorf("state = %q, want running", claimed[0].State)
	}
	if claimed[0].WorkerID.String() != workerID.String() {
		t.Errorf("worker = %q, want %q", claimed[0].WorkerID, workerID)
	}
	if claimed[0].StartedAt == nil || claimed[0].HeartbeatAt == nil {
		t.Error("StartedAt/HeartbeatAt not set on claim")
	}

	again, err := s.ClaimPending(ctx, workerID, []string{"transcribe"}, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second claim returned %d jobs, want 0", len(again))
	}
}

func TestClaimPending_NoDoubleClaim(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	const jobCount = 50
	for range jobCount {
		if err := s.CreateJob(ctx, newJob("transcribe")); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	const claimers = 10
	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			workerID := id.NewWorkerID()
			for {
				jobs, err := s.ClaimPending(ctx, workerID, nil, 3)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					claimed[j.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobCount {
		t.Errorf("claimed %d distinct jobs, want %d", len(claimed), jobCount)
	}
	for jobID, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jobID, n)
		}
	}
}

func TestClaimPending_SkipsInactiveAndArchivedBatches(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	makeBatch := func(active, archived bool) *job.Job {
		b := &batch.Batch{
			ID:       id.NewBatchID(),
			Name:     "b",
			IsActive: active,
			Archived: archived,
		}
		b.Entity = conveyor.NewEntity()
		j := newJob("transcribe")
		j.BatchID = b.ID
		b.JobIDs = []id.JobID{j.ID}
		if err := s.CreateBatch(ctx, b, []*job.Job{j}); err != nil {
			t.Fatalf("create batch: %v", err)
		}
		return j
	}

	activeJob := makeBatch(true, false)
	makeBatch(false, false) // inactive
	makeBatch(true, true)   // archived

	claimed, err := s.ClaimPending(ctx, id.NewWorkerID(), nil, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(claimed))
	}
	if claimed[0].ID.String() != activeJob.ID.String() {
		t.Errorf("claimed %s, want %s", claimed[0].ID, activeJob.ID)
	}
}

func TestUpdateJob_RejectsIllegalTransition(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	j := newJob("transcribe")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	j.State = job.StateSuccess // pending → success skips running
	if err := s.UpdateJob(ctx, j); err != conveyor.ErrInvalidTransition {
		t.Errorf("update = %v, want ErrInvalidTransition", err)
	}
}

func TestRestartJob(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	j := newJob("transcribe")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.RestartJob(ctx, j.ID); err != conveyor.ErrNotTerminal {
		t.Errorf("restart pending = %v, want ErrNotTerminal", err)
	}
	if _, err := s.RestartJob(ctx, id.NewJobID()); err != conveyor.ErrJobNotFound {
		t.Errorf("restart missing = %v, want ErrJobNotFound", err)
	}

	claimed, err := s.ClaimPending(ctx, id.NewWorkerID(), nil, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}
	c := claimed[0]
	c.RetryCount = 2
	c.Complete(job.StateFailed, nil, &job.Error{Code: job.CodeFatal, Message: "boom"})
	if err := s.UpdateJob(ctx, c); err != nil {
		t.Fatalf("update: %v", err)
	}

	restarted, err := s.RestartJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if restarted.State != job.StatePending {
		t.Errorf("state = %q, want pending", restarted.State)
	}
	if restarted.Error != nil || restarted.Result != nil {
		t.Error("result/error not cleared on restart")
	}
	if restarted.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", restarted.RetryCount)
	}
	if restarted.CompletedAt != nil {
		t.Error("CompletedAt not cleared on restart")
	}
	if restarted.Progress != 0 {
		t.Errorf("progress = %d, want 0 after restart", restarted.Progress)
	}
}

func TestSetProgress_Monotonic(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	j := newJob("transcribe")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	steps := []struct {
		set  int
		want int
	}{
		{30, 30},
		{60, 60},
		{40, 60},  // lower values are ignored
		{150, 100}, // clamped
		{90, 100},
	}
	for _, step := range steps {
		if err := s.SetProgress(ctx, j.ID, step.set); err != nil {
			t.Fatalf("set progress %d: %v", step.set, err)
		}
		got, err := s.GetJob(ctx, j.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Progress != step.want {
			t.Errorf("after set %d: progress = %d, want %d", step.set, got.Progress, step.want)
		}
	}
}

func TestReapStaleJobs(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	j := newJob("transcribe")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, err := s.ClaimPending(ctx, id.NewWorkerID(), nil, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}

	stale, err := s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("reaped %d fresh jobs, want 0", len(stale))
	}

	time.Sleep(5 * time.Millisecond)
	stale, err = s.ReapStaleJobs(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("reaped %d jobs, want 1", len(stale))
	}
	if stale[0].ID.String() != j.ID.String() {
		t.Errorf("reaped %s, want %s", stale[0].ID, j.ID)
	}
}

func TestHeartbeatJob_StaleWorkerIsNoOp(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	j := newJob("transcribe")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, err := s.ClaimPending(ctx, id.NewWorkerID(), nil, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}

	// A heartbeat from a worker that never held the claim changes nothing.
	if err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.HeartbeatAt.Equal(*claimed[0].HeartbeatAt) {
		t.Error("stale worker heartbeat moved HeartbeatAt")
	}
}

func TestCreateBatch_AllOrNothing(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	dup := newJob("transcribe")
	if err := s.CreateJob(ctx, dup); err != nil {
		t.Fatalf("create: %v", err)
	}

	fresh := newJob("transcribe")
	b := &batch.Batch{
		ID:       id.NewBatchID(),
		Name:     "imports",
		IsActive: true,
		JobIDs:   []id.JobID{fresh.ID, dup.ID},
	}
	b.Entity = conveyor.NewEntity()

	err := s.CreateBatch(ctx, b, []*job.Job{fresh, dup})
	if err != conveyor.ErrJobAlreadyExists {
		t.Fatalf("create batch = %v, want ErrJobAlreadyExists", err)
	}

	// The transaction rolled back: neither the batch nor the fresh job
	// may remain.
	if _, err := s.GetBatch(ctx, b.ID); err != conveyor.ErrBatchNotFound {
		t.Errorf("batch persisted after failed create: %v", err)
	}
	if _, err := s.GetJob(ctx, fresh.ID); err != conveyor.ErrJobNotFound {
		t.Errorf("job persisted after failed create: %v", err)
	}
}

func TestListJobsByBatch_SubmissionOrder(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	jobs := []*job.Job{newJob("a"), newJob("b"), newJob("c")}
	b := &batch.Batch{ID: id.NewBatchID(), Name: "ordered", IsActive: true}
	b.Entity = conveyor.NewEntity()
	for _, j := range jobs {
		j.BatchID = b.ID
		b.JobIDs = append(b.JobIDs, j.ID)
	}
	if err := s.CreateBatch(ctx, b, jobs); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	got, err := s.ListJobsByBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("listed %d jobs, want 3", len(got))
	}
	for i, j := range got {
		if j.ID.String() != jobs[i].ID.String() {
			t.Errorf("position %d: got %s, want %s", i, j.ID, jobs[i].ID)
		}
	}
}

func TestDeleteBatch_Cascades(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	j := newJob("transcribe")
	b := &batch.Batch{ID: id.NewBatchID(), Name: "doomed", IsActive: true, JobIDs: []id.JobID{j.ID}}
	b.Entity = conveyor.NewEntity()
	j.BatchID = b.ID
	if err := s.CreateBatch(ctx, b, []*job.Job{j}); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	if err := s.DeleteBatch(ctx, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); err != conveyor.ErrJobNotFound {
		t.Errorf("job survived batch delete: %v", err)
	}
}

func TestArchiveBatch(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	pending := newJob("transcribe")
	done := newJob("transcribe")
	b := &batch.Batch{
		ID: id.NewBatchID(), Name: "old", IsActive: true,
		JobIDs: []id.JobID{pending.ID, done.ID},
	}
	b.Entity = conveyor.NewEntity()
	pending.BatchID = b.ID
	done.BatchID = b.ID
	if err := s.CreateBatch(ctx, b, []*job.Job{pending, done}); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	// Drive one job to success.
	claimed, err := s.ClaimPending(ctx, id.NewWorkerID(), nil, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}
	claimed[0].Complete(job.StateSuccess, &job.Result{Payload: json.RawMessage(`{}`)}, nil)
	if err := s.UpdateJob(ctx, claimed[0]); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := s.ArchiveBatch(ctx, b.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	got, err := s.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if !got.Archived {
		t.Error("batch not archived")
	}

	jobs, err := s.ListJobsByBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var archived, success int
	for _, j := range jobs {
		switch j.State {
		case job.StateArchived:
			archived++
		case job.StateSuccess:
			success++
		}
	}
	if archived != 1 || success != 1 {
		t.Errorf("archived=%d success=%d, want 1/1", archived, success)
	}
}

func TestUpdateBatchCounters_LeavesFlagsAlone(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	b := &batch.Batch{ID: id.NewBatchID(), Name: "imports", IsActive: true}
	b.Entity = conveyor.NewEntity()
	if err := s.CreateBatch(ctx, b, nil); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if err := s.SetBatchActive(ctx, b.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if err := s.UpdateBatchCounters(ctx, b.ID, 3, 1); err != nil {
		t.Fatalf("update counters: %v", err)
	}

	got, err := s.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if got.CompletedJobs != 3 || got.FailedJobs != 1 {
		t.Errorf("counters = %d/%d, want 3/1", got.CompletedJobs, got.FailedJobs)
	}
	if got.IsActive {
		t.Error("counter write-back flipped IsActive")
	}

	if err := s.UpdateBatchCounters(ctx, id.NewBatchID(), 0, 0); err != conveyor.ErrBatchNotFound {
		t.Errorf("missing batch = %v, want ErrBatchNotFound", err)
	}
}

func TestClaimWebhook_ExactlyOnce(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	b := &batch.Batch{
		ID: id.NewBatchID(), Name: "hooked", IsActive: true,
		Webhook: &batch.Webhook{URL: "https://example.com/hook", State: batch.WebhookNotSent},
	}
	b.Entity = conveyor.NewEntity()
	if err := s.CreateBatch(ctx, b, nil); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	const attempts = 100
	var (
		wins sync.WaitGroup
		won  = make(chan struct{}, attempts)
	)
	for range attempts {
		wins.Add(1)
		go func() {
			defer wins.Done()
			claimed, err := s.ClaimWebhook(ctx, b.ID)
			if err != nil {
				t.Errorf("claim webhook: %v", err)
				return
			}
			if claimed {
				won <- struct{}{}
			}
		}()
	}
	wins.Wait()
	close(won)

	var winners int
	for range won {
		winners++
	}
	if winners != 1 {
		t.Errorf("%d claim winners, want exactly 1", winners)
	}
}

func TestUpdateWebhook_PreservesClaim(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	b := &batch.Batch{
		ID: id.NewBatchID(), Name: "hooked", IsActive: true,
		Webhook: &batch.Webhook{URL: "https://example.com/hook", State: batch.WebhookNotSent},
	}
	b.Entity = conveyor.NewEntity()
	if err := s.CreateBatch(ctx, b, nil); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	claimed, err := s.ClaimWebhook(ctx, b.ID)
	if err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}

	// Delivery bookkeeping carries a webhook copy read before the claim:
	// its nil StartedAt must not null webhook_started_at.
	if err := s.UpdateWebhook(ctx, b.ID, &batch.Webhook{
		URL:      "https://example.com/hook",
		State:    batch.WebhookDelivered,
		Attempts: 1,
	}); err != nil {
		t.Fatalf("update webhook: %v", err)
	}

	got, err := s.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if got.Webhook.State != batch.WebhookDelivered {
		t.Errorf("state = %q, want delivered", got.Webhook.State)
	}
	if got.Webhook.StartedAt == nil {
		t.Error("webhook_started_at cleared by bookkeeping update")
	}

	claimed, err = s.ClaimWebhook(ctx, b.ID)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if claimed {
		t.Error("webhook claim won twice")
	}
}

func TestClaimWebhook_NoWebhookConfigured(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	b := &batch.Batch{ID: id.NewBatchID(), Name: "plain", IsActive: true}
	b.Entity = conveyor.NewEntity()
	if err := s.CreateBatch(ctx, b, nil); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	claimed, err := s.ClaimWebhook(ctx, b.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed {
		t.Error("claimed webhook on a batch without one")
	}
}

func TestCacheEntry_WriteOnce(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	first := &cache.Entry{
		Fingerprint: "abc",
		Payload:     json.RawMessage(`{"text":"hello"}`),
		Artifacts:   []string{"s3://out/a.txt"},
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.PutEntry(ctx, first); err != nil {
		t.Fatalf("put: %v", err)
	}

	second := &cache.Entry{
		Fingerprint: "abc",
		Payload:     json.RawMessage(`{"text":"other"}`),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.PutEntry(ctx, second); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, hit, err := s.GetEntry(ctx, "abc")
	if err != nil || !hit {
		t.Fatalf("get: hit=%v err=%v", hit, err)
	}
	if string(got.Payload) != `{"text":"hello"}` {
		t.Errorf("payload = %s, want first write preserved", got.Payload)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0] != "s3://out/a.txt" {
		t.Errorf("artifacts = %v", got.Artifacts)
	}

	if _, hit, _ := s.GetEntry(ctx, "missing"); hit {
		t.Error("unexpected hit for missing fingerprint")
	}
}

func TestClusterWorkers(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	w := &cluster.Worker{
		ID:        id.NewWorkerID(),
		Hostname:  "media-1",
		Kinds:     []string{"transcribe"},
		State:     cluster.WorkerActive,
		LastSeen:  time.Now().UTC().Add(-time.Hour),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Re-registration refreshes in place.
	w.Hostname = "media-1b"
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	if err := s.HeartbeatWorker(ctx, w.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	workers, err := s.ListWorkers(ctx)
	if err != nil || len(workers) != 1 {
		t.Fatalf("list: %v (%d)", err, len(workers))
	}
	if workers[0].Hostname != "media-1b" {
		t.Errorf("hostname = %q, want refreshed record", workers[0].Hostname)
	}
	if time.Since(workers[0].LastSeen) > time.Minute {
		t.Error("heartbeat did not refresh LastSeen")
	}

	dead, err := s.ReapDeadWorkers(ctx, time.Minute)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(dead) != 0 {
		t.Errorf("reaped %d live workers", len(dead))
	}

	stale := &cluster.Worker{
		ID:        id.NewWorkerID(),
		Hostname:  "media-2",
		State:     cluster.WorkerActive,
		LastSeen:  time.Now().UTC().Add(-time.Hour),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.RegisterWorker(ctx, stale); err != nil {
		t.Fatalf("register: %v", err)
	}
	dead, err = s.ReapDeadWorkers(ctx, time.Minute)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(dead) != 1 || dead[0].State != cluster.WorkerDead {
		t.Fatalf("reap returned %d workers", len(dead))
	}

	if err := s.DeregisterWorker(ctx, w.ID); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if err := s.DeregisterWorker(ctx, w.ID); err != conveyor.ErrWorkerNotFound {
		t.Errorf("double deregister = %v, want ErrWorkerNotFound", err)
	}
}
