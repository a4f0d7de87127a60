package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conveyor/id"
)

// Monitor keeps one instance's cluster record alive: it sends periodic
// heartbeats for the owning worker and marks peers without a recent
// heartbeat as dead. Their in-flight jobs are reclaimed separately by
// the job store's stale-job reaper.
type Monitor struct {
	store    Store
	workerID id.WorkerID
	logger   *slog.Logger

	interval  time.Duration
	threshold time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithHeartbeatInterval sets how often the monitor renews this
// instance's last-seen timestamp.
func WithHeartbeatInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// WithDeadThreshold sets how stale a peer's last-seen timestamp must be
// before the monitor marks it dead.
func WithDeadThreshold(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.threshold = d }
}

// NewMonitor creates a Monitor for the given worker identity.
func NewMonitor(store Store, workerID id.WorkerID, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:     store,
		workerID:  workerID,
		logger:    logger,
		interval:  15 * time.Second,
		threshold: time.Minute,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the heartbeat loop. It returns immediately. A
// non-positive interval disables the monitor.
func (m *Monitor) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.interval <= 0 {
		return nil
	}
	m.running = true

	m.wg.Add(1)
	go m.loop()
	return nil
}

// Stop halts the heartbeat loop and waits for it to finish.
func (m *Monitor) Stop(_ context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	return nil
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.beat()
		}
	}
}

func (m *Monitor) beat() {
	ctx := context.Background()

	if err := m.store.HeartbeatWorker(ctx, m.workerID); err != nil {
		m.logger.Warn("cluster heartbeat failed",
			slog.String("worker_id", m.workerID.String()),
			slog.String("error", err.Error()),
		)
	}

	dead, err := m.store.ReapDeadWorkers(ctx, m.threshold)
	if err != nil {
		m.logger.Warn("dead-worker reap failed", slog.String("error", err.Error()))
		return
	}
	for _, w := range dead {
		m.logger.Warn("marked worker dead",
			slog.String("worker_id", w.ID.String()),
			slog.String("hostname", w.Hostname),
			slog.Time("last_seen", w.LastSeen),
		)
	}
}
