// Package observability provides a ready-made extension that records
// system-wide lifecycle metrics via OpenTelemetry.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/job"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/xraph/conveyor/observability"

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.JobSubmitted     = (*MetricsExtension)(nil)
	_ ext.JobCompleted     = (*MetricsExtension)(nil)
	_ ext.JobFailed        = (*MetricsExtension)(nil)
	_ ext.JobRetrying      = (*MetricsExtension)(nil)
	_ ext.JobCacheHit      = (*MetricsExtension)(nil)
	_ ext.BatchFinished    = (*MetricsExtension)(nil)
	_ ext.WebhookDelivered = (*MetricsExtension)(nil)
	_ ext.WebhookExhausted = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle counters for jobs, batches, cache
// hits, and webhook outcomes. Register it as a Conveyor extension to
// automatically track submission rates, completion counts, failure
// rates, retries, cache effectiveness, and webhook delivery health.
type MetricsExtension struct {
	jobSubmitted     metric.Int64Counter
	jobCompleted     metric.Int64Counter
	jobFailed        metric.Int64Counter
	jobRetried       metric.Int64Counter
	cacheHits        metric.Int64Counter
	batchFinished    metric.Int64Counter
	webhookDelivered metric.Int64Counter
	webhookExhausted metric.Int64Counter
	jobDuration      metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use this variant to inject a test MeterProvider.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	// Instrument creation errors fall back to noop instruments.
	m.jobSubmitted, _ = meter.Int64Counter("conveyor.job.submitted",
		metric.WithDescription("Total jobs submitted"))
	m.jobCompleted, _ = meter.Int64Counter("conveyor.job.completed",
		metric.WithDescription("Total jobs that reached success"))
	m.jobFailed, _ = meter.Int64Counter("conveyor.job.failed",
		metric.WithDescription("Total jobs that failed terminally"))
	m.jobRetried, _ = meter.Int64Counter("conveyor.job.retried",
		metric.WithDescription("Total retry attempts scheduled"))
	m.cacheHits, _ = meter.Int64Counter("conveyor.cache.hits",
		metric.WithDescription("Total jobs satisfied from the result cache"))
	m.batchFinished, _ = meter.Int64Counter("conveyor.batch.finished",
		metric.WithDescription("Total batches that reached a terminal status"))
	m.webhookDelivered, _ = meter.Int64Counter("conveyor.webhook.delivered",
		metric.WithDescription("Total batch webhooks acknowledged"))
	m.webhookExhausted, _ = meter.Int64Counter("conveyor.webhook.exhausted",
		metric.WithDescription("Total batch webhooks that exhausted their retries"))
	m.jobDuration, _ = meter.Float64Histogram("conveyor.job.handler_duration",
		metric.WithDescription("Duration of successful job executions in seconds"),
		metric.WithUnit("s"))

	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func kindAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_kind", j.Kind))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.jobSubmitted.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.jobCompleted.Add(ctx, 1, kindAttr(j))
	m.jobDuration.Record(ctx, elapsed.Seconds(), kindAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobFailed.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.jobRetried.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobCacheHit implements ext.JobCacheHit.
func (m *MetricsExtension) OnJobCacheHit(ctx context.Context, j *job.Job, _ string) error {
	m.cacheHits.Add(ctx, 1, kindAttr(j))
	return nil
}

// ── Batch and webhook lifecycle hooks ───────────────

// OnBatchFinished implements ext.BatchFinished.
func (m *MetricsExtension) OnBatchFinished(ctx context.Context, _ *batch.Batch, stats batch.Stats) error {
	m.batchFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(stats.Status)),
	))
	return nil
}

// OnWebhookDelivered implements ext.WebhookDelivered.
func (m *MetricsExtension) OnWebhookDelivered(ctx context.Context, _ *batch.Batch, _ int) error {
	m.webhookDelivered.Add(ctx, 1)
	return nil
}

// OnWebhookExhausted implements ext.WebhookExhausted.
func (m *MetricsExtension) OnWebhookExhausted(ctx context.Context, _ *batch.Batch, _ int, _ error) error {
	m.webhookExhausted.Add(ctx, 1)
	return nil
}
