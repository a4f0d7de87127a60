package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/observability"
)

func setup() (*sdkmetric.ManualReader, *observability.MetricsExtension) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, observability.NewMetricsExtensionWithMeter(mp.Meter("test"))
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_JobCounters(t *testing.T) {
	t.Parallel()

	reader, m := setup()
	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID(), Kind: "transcribe"}

	_ = m.OnJobSubmitted(ctx, j)
	_ = m.OnJobSubmitted(ctx, j)
	_ = m.OnJobCompleted(ctx, j, time.Second)
	_ = m.OnJobFailed(ctx, j, errors.New("boom"))
	_ = m.OnJobRetrying(ctx, j, 1, time.Now())
	_ = m.OnJobCacheHit(ctx, j, "abc123")

	if got := counterValue(t, reader, "conveyor.job.submitted"); got != 2 {
		t.Errorf("submitted = %d, want 2", got)
	}
	if got := counterValue(t, reader, "conveyor.job.completed"); got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
	if got := counterValue(t, reader, "conveyor.job.failed"); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	if got := counterValue(t, reader, "conveyor.job.retried"); got != 1 {
		t.Errorf("retried = %d, want 1", got)
	}
	if got := counterValue(t, reader, "conveyor.cache.hits"); got != 1 {
		t.Errorf("cache hits = %d, want 1", got)
	}
}

func TestMetricsExtension_BatchAndWebhookCounters(t *testing.T) {
	t.Parallel()

	reader, m := setup()
	ctx := context.Background()
	b := &batch.Batch{ID: id.NewBatchID(), Name: "nightly"}

	_ = m.OnBatchFinished(ctx, b, batch.Stats{Status: batch.StatusSuccess})
	_ = m.OnWebhookDelivered(ctx, b, 2)
	_ = m.OnWebhookExhausted(ctx, b, 5, errors.New("connection refused"))

	if got := counterValue(t, reader, "conveyor.batch.finished"); got != 1 {
		t.Errorf("batch finished = %d, want 1", got)
	}
	if got := counterValue(t, reader, "conveyor.webhook.delivered"); got != 1 {
		t.Errorf("webhook delivered = %d, want 1", got)
	}
	if got := counterValue(t, reader, "conveyor.webhook.exhausted"); got != 1 {
		t.Errorf("webhook exhausted = %d, want 1", got)
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	t.Parallel()

	_, m := setup()
	if m.Name() != "observability-metrics" {
		t.Errorf("name = %q", m.Name())
	}
}
