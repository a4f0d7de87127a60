// Package engine wires all Conveyor subsystems together. It creates the
// extension registry, job registry, middleware chain, batch aggregator,
// webhook notifier, and worker pool, and provides the Submit and
// administrative operations.
//
// This package exists to break the import cycle: the root conveyor
// package defines Entity (imported by job, batch, etc.) and so cannot
// import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/cache"
	"github.com/xraph/conveyor/cluster"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/limits"
	mw "github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/observability"
	"github.com/xraph/conveyor/owner"
	"github.com/xraph/conveyor/webhook"
	"github.com/xraph/conveyor/worker"
)

// Engine wraps a Conveyor with typed subsystem access.
// Use Build() to create one from a Conveyor.
type Engine struct {
	c          *conveyor.Conveyor
	extensions *ext.Registry
	registry   *job.Registry
	bo         backoff.Strategy
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	jobStore     job.Store
	batchStore   batch.Store
	cacheStore   cache.Store
	clusterStore cluster.Store

	aggregator *batch.Aggregator
	notifier   *webhook.Notifier
	monitor    *cluster.Monitor

	// Per-kind limits.
	limitConfigs []limits.Config
	limitManager *limits.Manager

	notifierOpts []webhook.Option

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithLimitConfig registers per-kind concurrency and rate limiting
// configurations. Kinds not listed have no limits.
func WithLimitConfig(configs ...limits.Config) Option {
	return func(eng *Engine) {
		eng.limitConfigs = append(eng.limitConfigs, configs...)
	}
}

// WithCacheStore overrides the result cache backend. Use it to share
// the cache across instances (e.g. Redis) while keeping a durable
// backend for jobs and batches. Passing nil disables caching.
func WithCacheStore(cs cache.Store) Option {
	return func(eng *Engine) {
		eng.cacheStore = cs
	}
}

// WithNotifierOptions passes extra options to the webhook notifier,
// such as a custom HTTP client or retry strategy.
func WithNotifierOptions(opts ...webhook.Option) Option {
	return func(eng *Engine) {
		eng.notifierOpts = append(eng.notifierOpts, opts...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Conveyor.
// The Conveyor's store must implement job.Store, batch.Store, and
// cluster.Store. cache.Store is optional: a backend without it simply
// disables the result cache.
func Build(c *conveyor.Conveyor, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, conveyor.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement job.Store")
	}

	bs, ok := store.(batch.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement batch.Store")
	}

	cls, ok := store.(cluster.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement cluster.Store")
	}

	// Optional: result caching is skipped when the backend has no
	// cache.Store.
	cs, _ := store.(cache.Store)

	eng := &Engine{
		c:            c,
		extensions:   ext.NewRegistry(logger),
		registry:     job.NewRegistry(),
		jobStore:     js,
		batchStore:   bs,
		cacheStore:   cs,
		clusterStore: cls,
		logger:       logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Default backoff strategy if none provided.
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	config := c.Config()

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/xraph/conveyor")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/conveyor")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/conveyor/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Create the webhook notifier. The extension registry receives
	// delivery outcome events.
	notifierOpts := []webhook.Option{
		webhook.WithEmitter(eng.extensions),
	}
	if config.WebhookAttempts > 0 {
		notifierOpts = append(notifierOpts, webhook.WithMaxAttempts(config.WebhookAttempts))
	}
	notifierOpts = append(notifierOpts, eng.notifierOpts...)
	eng.notifier = webhook.NewNotifier(bs, logger, notifierOpts...)

	// Create the batch aggregator. The terminal callback runs at most
	// once per batch, on the recomputation that wins the webhook claim.
	onTerminal := func(ctx context.Context, b *batch.Batch, stats batch.Stats) {
		eng.extensions.EmitBatchFinished(ctx, b, stats)
		if err := eng.notifier.Deliver(ctx, b, stats); err != nil {
			logger.Warn("webhook delivery gave up",
				slog.String("batch_id", b.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	eng.aggregator = batch.NewAggregator(bs, js, onTerminal, logger)

	// Build default middleware stack: recover → tracing → metrics → logging → owner → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Owner(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Create executor and pool.
	executor := worker.NewExecutor(eng.registry, eng.extensions, js, eng.cacheStore, eng.aggregator, eng.bo, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolKinds(config.Kinds),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithLeaseExpiry(config.LeaseExpiry),
	}

	// Create the limit manager if limit configs were provided.
	if len(eng.limitConfigs) > 0 {
		eng.limitManager = limits.NewManager(eng.limitConfigs...)
		poolOpts = append(poolOpts, worker.WithLimitManager(eng.limitManager))
	}

	eng.pool = worker.NewPool(
		js,
		executor,
		eng.extensions,
		logger,
		poolOpts...,
	)

	// Wire back into the Conveyor.
	c.SetPool(eng.pool)
	c.SetExtensions(eng.extensions)

	// Register this instance in the cluster store.
	hostname, hostnameErr := os.Hostname()
	if hostnameErr != nil {
		hostname = "unknown"
	}
	w := &cluster.Worker{
		ID:          eng.pool.WorkerID(),
		Hostname:    hostname,
		Kinds:       config.Kinds,
		Concurrency: config.Concurrency,
		State:       cluster.WorkerActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if regErr := cls.RegisterWorker(context.Background(), w); regErr != nil {
		logger.Warn("failed to register worker in cluster store", slog.String("error", regErr.Error()))
	}

	eng.monitor = cluster.NewMonitor(cls, eng.pool.WorkerID(), logger,
		cluster.WithHeartbeatInterval(config.HeartbeatInterval),
		cluster.WithDeadThreshold(config.LeaseExpiry),
	)

	return eng, nil
}

// Register registers a typed job definition with the engine. Returns
// ErrDuplicateKind when the kind is already registered.
func Register[T any](eng *Engine, def *job.Definition[T]) error {
	return job.RegisterDefinition(eng.registry, def)
}

// Submit creates and submits a standalone job with typed parameters.
func Submit[T any](ctx context.Context, eng *Engine, kind string, params T) (*job.Job, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for kind %q: %w", kind, err)
	}
	return eng.SubmitRaw(ctx, kind, data)
}

// SubmitRaw submits a job with pre-serialized parameters. The kind must
// be registered and the parameters must pass the kind's validator;
// nothing is persisted otherwise.
func (eng *Engine) SubmitRaw(ctx context.Context, kind string, params []byte) (*job.Job, error) {
	j, err := eng.buildJob(ctx, kind, params)
	if err != nil {
		return nil, err
	}

	if err := eng.jobStore.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobSubmitted(ctx, j)
	return j, nil
}

// buildJob validates kind and params and constructs a pending job
// without persisting it.
func (eng *Engine) buildJob(ctx context.Context, kind string, params []byte) (*job.Job, error) {
	handler, ok := eng.registry.Get(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", conveyor.ErrUnknownKind, kind)
	}
	if err := handler.Validate(params); err != nil {
		return nil, fmt.Errorf("%w: %s", conveyor.ErrInvalidParams, err)
	}

	return &job.Job{
		Entity:     conveyor.NewEntity(),
		ID:         id.NewJobID(),
		Kind:       kind,
		Params:     params,
		State:      job.StatePending,
		MaxRetries: handler.Opts.MaxRetries,
		Timeout:    handler.Opts.Timeout,
		RunAt:      time.Now().UTC(),
		OwnerID:    owner.From(ctx),
	}, nil
}

// JobSpec describes one job inside a batch submission.
type JobSpec struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

// BatchSpec describes a batch submission: a named group of jobs with an
// optional terminal webhook.
type BatchSpec struct {
	Name       string    `json:"name"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	Jobs       []JobSpec `json:"jobs"`
}

// SubmitBatch validates every job spec, then persists the batch and all
// its jobs as one unit. A single invalid spec rejects the whole
// submission with nothing persisted.
func (eng *Engine) SubmitBatch(ctx context.Context, spec BatchSpec) (*batch.Batch, error) {
	b := &batch.Batch{
		Entity:   conveyor.NewEntity(),
		ID:       id.NewBatchID(),
		Name:     spec.Name,
		IsActive: true,
		OwnerID:  owner.From(ctx),
	}
	if spec.WebhookURL != "" {
		b.Webhook = &batch.Webhook{
			URL:   spec.WebhookURL,
			State: batch.WebhookNotSent,
		}
	}

	// Validate everything before persisting anything.
	jobs := make([]*job.Job, 0, len(spec.Jobs))
	for i, js := range spec.Jobs {
		j, err := eng.buildJob(ctx, js.Kind, js.Params)
		if err != nil {
			return nil, fmt.Errorf("batch job %d: %w", i, err)
		}
		j.BatchID = b.ID
		jobs = append(jobs, j)
		b.JobIDs = append(b.JobIDs, j.ID)
	}

	if err := eng.batchStore.CreateBatch(ctx, b, jobs); err != nil {
		return nil, err
	}

	for _, j := range jobs {
		eng.extensions.EmitJobSubmitted(ctx, j)
	}
	return b, nil
}

// GetJob retrieves a job by ID.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.jobStore.GetJob(ctx, jobID)
}

// BatchStats returns the batch and its aggregate stats derived from the
// live job set. Pure read: repeated polling has no side effects.
func (eng *Engine) BatchStats(ctx context.Context, batchID id.BatchID) (*batch.Batch, batch.Stats, error) {
	return eng.aggregator.Stats(ctx, batchID)
}

// RestartJob returns a terminal job to pending with cleared result and
// error, then recomputes its batch so the counters reflect the reopened
// job.
func (eng *Engine) RestartJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.jobStore.RestartJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !j.BatchID.IsNil() {
		if _, recErr := eng.aggregator.Recompute(ctx, j.BatchID); recErr != nil {
			eng.logger.Warn("batch recompute after restart failed",
				slog.String("batch_id", j.BatchID.String()),
				slog.String("error", recErr.Error()),
			)
		}
	}
	return j, nil
}

// ArchiveJob removes a job from default listings. Running jobs cannot
// be archived; the store rejects the transition.
func (eng *Engine) ArchiveJob(ctx context.Context, jobID id.JobID) error {
	j, err := eng.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	j.State = job.StateArchived
	j.Touch()
	if err := eng.jobStore.UpdateJob(ctx, j); err != nil {
		return err
	}
	if !j.BatchID.IsNil() {
		if _, recErr := eng.aggregator.Recompute(ctx, j.BatchID); recErr != nil {
			eng.logger.Warn("batch recompute after archive failed",
				slog.String("batch_id", j.BatchID.String()),
				slog.String("error", recErr.Error()),
			)
		}
	}
	return nil
}

// ArchiveBatch archives the batch and its pending jobs; running jobs
// finish normally.
func (eng *Engine) ArchiveBatch(ctx context.Context, batchID id.BatchID) error {
	return eng.batchStore.ArchiveBatch(ctx, batchID)
}

// SetBatchActive toggles whether the batch's jobs may be claimed.
func (eng *Engine) SetBatchActive(ctx context.Context, batchID id.BatchID, active bool) error {
	return eng.batchStore.SetBatchActive(ctx, batchID, active)
}

// RestartAll restarts every terminal job in the batch. Returns the
// number of jobs restarted.
func (eng *Engine) RestartAll(ctx context.Context, batchID id.BatchID) (int, error) {
	return eng.aggregator.RestartAll(ctx, batchID)
}

// FailAll marks every non-terminal job in the batch failed with the
// given reason. Returns the number of jobs failed.
func (eng *Engine) FailAll(ctx context.Context, batchID id.BatchID, reason string) (int, error) {
	return eng.aggregator.FailAll(ctx, batchID, reason)
}

// ResubmitPending requeues every job of the batch, regardless of state.
// Returns the number of jobs affected.
func (eng *Engine) ResubmitPending(ctx context.Context, batchID id.BatchID) (int, error) {
	return eng.aggregator.ResubmitPending(ctx, batchID)
}

// DeleteJob removes a job permanently. A batch job is also pulled out
// of its batch's member list and counters.
func (eng *Engine) DeleteJob(ctx context.Context, jobID id.JobID) error {
	j, err := eng.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := eng.jobStore.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	if j.BatchID.IsNil() {
		return nil
	}

	b, err := eng.batchStore.GetBatch(ctx, j.BatchID)
	if err != nil {
		return err
	}
	kept := b.JobIDs[:0]
	for _, memberID := range b.JobIDs {
		if memberID.String() != jobID.String() {
			kept = append(kept, memberID)
		}
	}
	b.JobIDs = kept
	b.Touch()
	if err := eng.batchStore.UpdateBatch(ctx, b); err != nil {
		return err
	}
	if _, recErr := eng.aggregator.Recompute(ctx, j.BatchID); recErr != nil {
		eng.logger.Warn("batch recompute after delete failed",
			slog.String("batch_id", j.BatchID.String()),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}

// DeleteBatch removes a batch and all its jobs permanently.
func (eng *Engine) DeleteBatch(ctx context.Context, batchID id.BatchID) error {
	return eng.batchStore.DeleteBatch(ctx, batchID)
}

// ListJobs returns jobs in the given state.
func (eng *Engine) ListJobs(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	return eng.jobStore.ListJobsByState(ctx, state, opts)
}

// ListBatches returns batches, excluding archived ones unless requested.
func (eng *Engine) ListBatches(ctx context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	return eng.batchStore.ListBatches(ctx, opts)
}

// Start begins job processing: the cluster liveness monitor and the
// worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.monitor.Start(ctx); err != nil {
		return err
	}
	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the engine: stops the liveness monitor,
// deregisters this instance from the cluster, drains the pool, and
// notifies extensions.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.monitor.Stop(ctx); err != nil {
		eng.logger.Warn("failed to stop cluster monitor", slog.String("error", err.Error()))
	}
	if err := eng.clusterStore.DeregisterWorker(ctx, eng.pool.WorkerID()); err != nil {
		eng.logger.Warn("failed to deregister worker", slog.String("error", err.Error()))
	}

	return eng.c.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Conveyor returns the underlying Conveyor.
func (eng *Engine) Conveyor() *conveyor.Conveyor { return eng.c }

// Aggregator returns the batch aggregator.
func (eng *Engine) Aggregator() *batch.Aggregator { return eng.aggregator }

// Notifier returns the webhook notifier.
func (eng *Engine) Notifier() *webhook.Notifier { return eng.notifier }

// LimitManager returns the per-kind limit manager, or nil if no limit
// configs were provided.
func (eng *Engine) LimitManager() *limits.Manager { return eng.limitManager }
