package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/store/memory"
	"github.com/xraph/conveyor/worker"
)

func setupExecutor(t *testing.T) (*worker.Executor, *memory.Store, *job.Registry) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)
	agg := batch.NewAggregator(s, s, nil, logger)
	bo := backoff.NewConstant(time.Millisecond)

	executor := worker.NewExecutor(
		reg, extensions, s, s, agg, bo, logger,
		middleware.Recover(logger),
		middleware.Timeout(logger),
	)
	return executor, s, reg
}

func submitAndClaim(t *testing.T, s *memory.Store, kind string, params string, maxRetries int) *job.Job {
	t.Helper()
	ctx := context.Background()

	j := &job.Job{
		ID:         id.NewJobID(),
		Kind:       kind,
		Params:     json.RawMessage(params),
		State:      job.StatePending,
		MaxRetries: maxRetries,
		RunAt:      time.Now().UTC(),
	}
	j.Entity = conveyor.NewEntity()
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create job: %v", err)
	}

	claimed, err := s.ClaimPending(ctx, id.NewWorkerID(), []string{kind}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(claimed))
	}
	return claimed[0]
}

func reclaim(t *testing.T, s *memory.Store, kind string) *job.Job {
	t.Helper()
	claimed, err := s.ClaimPending(context.Background(), id.NewWorkerID(), []string{kind}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("reclaim: %v (%d jobs)", err, len(claimed))
	}
	return claimed[0]
}

func TestExecutor_Success(t *testing.T) {
	executor, s, reg := setupExecutor(t)

	job.RegisterDefinition(reg, job.NewDefinition("transcribe",
		func(_ context.Context, p struct{ URL string }) job.Outcome {
			if p.URL != "s3://in/audio.wav" {
				t.Errorf("params.URL = %q", p.URL)
			}
			return job.Success(json.RawMessage(`{"text":"hello"}`), "s3://out/audio.txt")
		}))

	j := submitAndClaim(t, s, "transcribe", `{"url":"s3://in/audio.wav"}`, 3)
	if err := executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateSuccess {
		t.Errorf("state = %q, want success", got.State)
	}
	if got.Result == nil || string(got.Result.Payload) != `{"text":"hello"}` {
		t.Errorf("result = %+v", got.Result)
	}
	if len(got.Result.Artifacts) != 1 || got.Result.Artifacts[0] != "s3://out/audio.txt" {
		t.Errorf("artifacts = %v", got.Result.Artifacts)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if got.Error != nil {
		t.Errorf("error set on success: %+v", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestExecutor_UnknownKind(t *testing.T) {
	executor, s, _ := setupExecutor(t)

	j := submitAndClaim(t, s, "bogus", `{}`, 3)
	if err := executor.Execute(context.Background(), j); err == nil {
		t.Fatal("expected error for unknown kind")
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
	if got.Error == nil || got.Error.Code != job.CodeUnknownKind {
		t.Errorf("error = %+v, want code UNKNOWN_KIND", got.Error)
	}
	// Unknown kind is never retried.
	if got.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", got.RetryCount)
	}
}

func TestExecutor_RetryableThenSuccess(t *testing.T) {
	executor, s, reg := setupExecutor(t)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("flaky",
		func(_ context.Context, _ struct{}) job.Outcome {
			if calls.Add(1) <= 2 {
				return job.Retryable(errors.New("upstream timeout"))
			}
			return job.Success(json.RawMessage(`{"done":true}`))
		}))

	j := submitAndClaim(t, s, "flaky", `{}`, 3)

	// First two attempts fail transiently and return to pending.
	for attempt := 1; attempt <= 2; attempt++ {
		if err := executor.Execute(context.Background(), j); err == nil {
			t.Fatalf("attempt %d: expected retryable error", attempt)
		}
		got, err := s.GetJob(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.State != job.StatePending {
			t.Fatalf("attempt %d: state = %q, want pending", attempt, got.State)
		}
		if got.RetryCount != attempt {
			t.Errorf("attempt %d: retry count = %d", attempt, got.RetryCount)
		}
		time.Sleep(2 * time.Millisecond) // let the backoff RunAt pass
		j = reclaim(t, s, "flaky")
	}

	// Third attempt succeeds.
	if err := executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateSuccess {
		t.Errorf("state = %q, want success", got.State)
	}
	if got.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", got.RetryCount)
	}
	if calls.Load() != 3 {
		t.Errorf("handler calls = %d, want 3", calls.Load())
	}
}

func TestExecutor_RetryExhausted(t *testing.T) {
	executor, s, reg := setupExecutor(t)

	job.RegisterDefinition(reg, job.NewDefinition("always-down",
		func(_ context.Context, _ struct{}) job.Outcome {
			return job.Retryable(errors.New("connection refused"))
		}))

	j := submitAndClaim(t, s, "always-down", `{}`, 1)

	// First failure returns to pending.
	_ = executor.Execute(context.Background(), j)
	time.Sleep(2 * time.Millisecond)
	j = reclaim(t, s, "always-down")

	// Second failure exhausts the budget.
	_ = executor.Execute(context.Background(), j)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
	if got.Error == nil || got.Error.Code != job.CodeRetryExhausted {
		t.Errorf("error = %+v, want code RETRY_EXHAUSTED", got.Error)
	}
}

func TestExecutor_FatalSkipsRetries(t *testing.T) {
	executor, s, reg := setupExecutor(t)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("corrupt-input",
		func(_ context.Context, _ struct{}) job.Outcome {
			calls.Add(1)
			return job.Fatal(errors.New("unsupported codec"))
		}))

	j := submitAndClaim(t, s, "corrupt-input", `{}`, 5)
	_ = executor.Execute(context.Background(), j)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
	if got.Error == nil || got.Error.Code != job.CodeFatal {
		t.Errorf("error = %+v, want code FATAL", got.Error)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
}

func TestExecutor_CacheHitSkipsHandler(t *testing.T) {
	executor, s, reg := setupExecutor(t)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("ocr",
		func(_ context.Context, _ struct{ URL string }) job.Outcome {
			calls.Add(1)
			return job.Success(json.RawMessage(`{"text":"scanned"}`), "s3://out/page.txt")
		},
		job.WithCache(),
	))

	// First execution populates the cache.
	first := submitAndClaim(t, s, "ocr", `{"url":"s3://in/page.png"}`, 3)
	if err := executor.Execute(context.Background(), first); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	// Same kind + params: served from cache, handler not invoked.
	second := submitAndClaim(t, s, "ocr", `{"url":"s3://in/page.png"}`, 3)
	if err := executor.Execute(context.Background(), second); err != nil {
		t.Fatalf("second execute: %v", err)
	}

	got, err := s.GetJob(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateSuccess {
		t.Errorf("state = %q, want success", got.State)
	}
	if got.Result == nil || !got.Result.CacheHit {
		t.Errorf("result = %+v, want cache hit", got.Result)
	}
	if string(got.Result.Payload) != `{"text":"scanned"}` {
		t.Errorf("payload = %s", got.Result.Payload)
	}
	if len(got.Result.Artifacts) != 1 {
		t.Errorf("artifacts = %v", got.Result.Artifacts)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}

	// Different params miss the cache.
	third := submitAndClaim(t, s, "ocr", `{"url":"s3://in/other.png"}`, 3)
	if err := executor.Execute(context.Background(), third); err != nil {
		t.Fatalf("third execute: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", calls.Load())
	}
}

func TestExecutor_IgnoredParamsStillHitCache(t *testing.T) {
	executor, s, reg := setupExecutor(t)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("thumbnail",
		func(_ context.Context, _ struct {
			URL     string `json:"url"`
			TraceID string `json:"trace_id"`
		}) job.Outcome {
			calls.Add(1)
			return job.Success(json.RawMessage(`{"thumb":"s3://out/t.png"}`))
		},
		job.WithCache("trace_id"),
	))

	first := submitAndClaim(t, s, "thumbnail", `{"url":"s3://in/v.mp4","trace_id":"aaa"}`, 3)
	if err := executor.Execute(context.Background(), first); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	second := submitAndClaim(t, s, "thumbnail", `{"url":"s3://in/v.mp4","trace_id":"bbb"}`, 3)
	if err := executor.Execute(context.Background(), second); err != nil {
		t.Fatalf("second execute: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1 (ignored param must not break caching)", calls.Load())
	}
}

func TestExecutor_PanicIsRetryable(t *testing.T) {
	executor, s, reg := setupExecutor(t)

	job.RegisterDefinition(reg, job.NewDefinition("panicky",
		func(_ context.Context, _ struct{}) job.Outcome {
			panic("boom")
		}))

	j := submitAndClaim(t, s, "panicky", `{}`, 3)
	_ = executor.Execute(context.Background(), j)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StatePending {
		t.Errorf("state = %q, want pending (panic is transient)", got.State)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
}

func TestExecutor_InvalidParamsFail(t *testing.T) {
	executor, s, reg := setupExecutor(t)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("resize",
		func(_ context.Context, _ struct{ Width int }) job.Outcome {
			calls.Add(1)
			return job.Success(json.RawMessage(`{}`))
		}))

	// Malformed params written straight to the store, bypassing
	// submission-time validation.
	j := submitAndClaim(t, s, "resize", `{not json`, 3)
	if err := executor.Execute(context.Background(), j); err == nil {
		t.Fatal("expected error for invalid params")
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
	if got.Error == nil || got.Error.Code != job.CodeValidation {
		t.Errorf("error = %+v, want code VALIDATION", got.Error)
	}
	if calls.Load() != 0 {
		t.Errorf("handler calls = %d, want 0", calls.Load())
	}
}

func TestExecutor_PanicExhaustsWithPanicCode(t *testing.T) {
	executor, s, reg := setupExecutor(t)

	job.RegisterDefinition(reg, job.NewDefinition("panicky",
		func(_ context.Context, _ struct{}) job.Outcome {
			panic("boom")
		}))

	j := submitAndClaim(t, s, "panicky", `{}`, 0)
	_ = executor.Execute(context.Background(), j)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
	if got.Error == nil || got.Error.Code != job.CodePanic {
		t.Errorf("error = %+v, want code PANIC", got.Error)
	}
}

func TestExecutor_TimeoutExhaustsWithTimeoutCode(t *testing.T) {
	executor, s, reg := setupExecutor(t)

	job.RegisterDefinition(reg, job.NewDefinition("stuck",
		func(ctx context.Context, _ struct{}) job.Outcome {
			<-ctx.Done()
			return job.Retryable(ctx.Err())
		},
		job.WithTimeout(5*time.Millisecond),
	))

	j := submitAndClaim(t, s, "stuck", `{}`, 0)
	_ = executor.Execute(context.Background(), j)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
	if got.Error == nil || got.Error.Code != job.CodeTimeout {
		t.Errorf("error = %+v, want code TIMEOUT", got.Error)
	}
}

func TestExecutor_ProgressReporting(t *testing.T) {
	executor, s, reg := setupExecutor(t)

	job.RegisterDefinition(reg, job.NewDefinition("long-haul",
		func(ctx context.Context, _ struct{}) job.Outcome {
			job.ReportProgress(ctx, 25)
			job.ReportProgress(ctx, 75)
			return job.Success(json.RawMessage(`{}`))
		}))

	j := submitAndClaim(t, s, "long-haul", `{}`, 3)
	if err := executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Success forces progress to 100 regardless of the last report.
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
}

func TestExecutor_RecomputesBatchOnTerminal(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	var finished atomic.Bool
	agg := batch.NewAggregator(s, s, func(_ context.Context, _ *batch.Batch, stats batch.Stats) {
		if stats.Status == batch.StatusSuccess {
			finished.Store(true)
		}
	}, logger)

	executor := worker.NewExecutor(reg, extensions, s, s, agg,
		backoff.NewConstant(time.Millisecond), logger)

	job.RegisterDefinition(reg, job.NewDefinition("noop",
		func(_ context.Context, _ struct{}) job.Outcome {
			return job.Success(json.RawMessage(`{}`))
		}))

	ctx := context.Background()
	j := &job.Job{
		ID:    id.NewJobID(),
		Kind:  "noop",
		State: job.StatePending,
		RunAt: time.Now().UTC(),
	}
	j.Entity = conveyor.NewEntity()
	b := &batch.Batch{
		ID: id.NewBatchID(), Name: "one-shot", IsActive: true,
		JobIDs:  []id.JobID{j.ID},
		Webhook: &batch.Webhook{URL: "https://example.com/hook", State: batch.WebhookNotSent},
	}
	b.Entity = conveyor.NewEntity()
	j.BatchID = b.ID
	if err := s.CreateBatch(ctx, b, []*job.Job{j}); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	claimed, err := s.ClaimPending(ctx, id.NewWorkerID(), nil, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}
	if err := executor.Execute(ctx, claimed[0]); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if !finished.Load() {
		t.Error("terminal callback did not fire")
	}
	gotBatch, err := s.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if gotBatch.CompletedJobs != 1 {
		t.Errorf("completed jobs = %d, want 1", gotBatch.CompletedJobs)
	}
}
