// Package webhook delivers batch-terminal notifications to external
// receivers. Delivery is at-most-once best-effort: retries with backoff
// on failure, then gives up and records exhaustion. Webhook outcomes
// never affect batch or job correctness.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/batch"
)

// Payload is the JSON body POSTed to the batch's webhook URL when the
// batch reaches a terminal status.
type Payload struct {
	BatchID       string       `json:"batch_id"`
	Name          string       `json:"name,omitempty"`
	Status        batch.Status `json:"status"`
	TotalJobs     int          `json:"total_jobs"`
	CompletedJobs int          `json:"completed_jobs"`
	FailedJobs    int          `json:"failed_jobs"`
}

// Emitter receives webhook delivery outcome events. Satisfied by
// ext.Registry.
type Emitter interface {
	EmitWebhookDelivered(ctx context.Context, b *batch.Batch, attempts int)
	EmitWebhookExhausted(ctx context.Context, b *batch.Batch, attempts int, lastErr error)
}

// Notifier POSTs terminal-batch payloads with bounded retries. The
// caller must hold the webhook claim before invoking Deliver, so each
// batch is delivered by exactly one notifier run.
type Notifier struct {
	batches     batch.Store
	client      *http.Client
	strategy    backoff.Strategy
	maxAttempts int
	emitter     Emitter
	logger      *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithClient overrides the HTTP client used for deliveries.
func WithClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithStrategy overrides the retry backoff strategy.
func WithStrategy(s backoff.Strategy) Option {
	return func(n *Notifier) { n.strategy = s }
}

// WithMaxAttempts overrides the delivery attempt budget.
func WithMaxAttempts(attempts int) Option {
	return func(n *Notifier) { n.maxAttempts = attempts }
}

// WithEmitter wires lifecycle event emission for delivery outcomes.
func WithEmitter(e Emitter) Option {
	return func(n *Notifier) { n.emitter = e }
}

// NewNotifier creates a Notifier persisting delivery bookkeeping to the
// given batch store.
func NewNotifier(batches batch.Store, logger *slog.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		batches:     batches,
		client:      &http.Client{Timeout: 10 * time.Second},
		strategy:    backoff.DefaultStrategy(),
		maxAttempts: 5,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Deliver POSTs the terminal payload to the batch's webhook URL,
// retrying with backoff up to the attempt budget. Bookkeeping (state,
// attempts, last error) is persisted after every attempt so operators
// can observe delivery progress. Returns the last delivery error when
// all attempts fail; the batch itself is unaffected either way.
func (n *Notifier) Deliver(ctx context.Context, b *batch.Batch, stats batch.Stats) error {
	if b.Webhook == nil || b.Webhook.URL == "" {
		return nil
	}

	body, err := json.Marshal(Payload{
		BatchID:       b.ID.String(),
		Name:          b.Name,
		Status:        stats.Status,
		TotalJobs:     stats.TotalJobs,
		CompletedJobs: stats.CompletedJobs,
		FailedJobs:    stats.FailedJobs,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload for %s: %w", b.ID, err)
	}

	w := *b.Webhook
	var lastErr error

	for attempt := 0; attempt < n.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := backoff.Sleep(ctx, n.strategy.Delay(attempt)); err != nil {
				lastErr = err
				break
			}
		}

		w.Attempts++
		lastErr = n.post(ctx, w.URL, body)
		if lastErr == nil {
			now := time.Now()
			w.State = batch.WebhookDelivered
			w.LastError = ""
			w.DeliveredAt = &now
			n.persist(ctx, b, &w)

			n.logger.Info("webhook delivered",
				slog.String("batch_id", b.ID.String()),
				slog.Int("attempts", w.Attempts),
			)
			if n.emitter != nil {
				n.emitter.EmitWebhookDelivered(ctx, b, w.Attempts)
			}
			return nil
		}

		w.State = batch.WebhookFailed
		w.LastError = lastErr.Error()
		n.persist(ctx, b, &w)

		n.logger.Warn("webhook delivery failed",
			slog.String("batch_id", b.ID.String()),
			slog.Int("attempt", w.Attempts),
			slog.String("error", lastErr.Error()),
		)
	}

	w.State = batch.WebhookExhausted
	n.persist(ctx, b, &w)

	n.logger.Error("webhook delivery exhausted",
		slog.String("batch_id", b.ID.String()),
		slog.Int("attempts", w.Attempts),
		slog.String("error", w.LastError),
	)
	if n.emitter != nil {
		n.emitter.EmitWebhookExhausted(ctx, b, w.Attempts, lastErr)
	}
	return fmt.Errorf("webhook: delivery to %s exhausted after %d attempts: %w", w.URL, w.Attempts, lastErr)
}

// post performs one delivery attempt. Any non-2xx response is a failure.
func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: receiver returned status %d", resp.StatusCode)
	}
	return nil
}

// persist saves delivery bookkeeping. Persistence failures are logged
// and swallowed: bookkeeping must never abort a delivery loop.
func (n *Notifier) persist(ctx context.Context, b *batch.Batch, w *batch.Webhook) {
	if err := n.batches.UpdateWebhook(ctx, b.ID, w); err != nil {
		n.logger.Error("webhook bookkeeping persist failed",
			slog.String("batch_id", b.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
