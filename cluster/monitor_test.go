package cluster_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/conveyor/cluster"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/store/memory"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func registerWorker(t *testing.T, s *memory.Store, lastSeen time.Time) id.WorkerID {
	t.Helper()
	w := &cluster.Worker{
		ID:        id.NewWorkerID(),
		Hostname:  "test-host",
		State:     cluster.WorkerActive,
		LastSeen:  lastSeen,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.RegisterWorker(context.Background(), w); err != nil {
		t.Fatalf("register worker: %v", err)
	}
	return w.ID
}

func TestMonitor_HeartbeatAdvancesLastSeen(t *testing.T) {
	t.Parallel()
	s := memory.New()
	registered := time.Now().UTC().Add(-time.Second)
	workerID := registerWorker(t, s, registered)

	m := cluster.NewMonitor(s, workerID, slog.Default(),
		cluster.WithHeartbeatInterval(5*time.Millisecond),
		cluster.WithDeadThreshold(time.Minute),
	)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop(context.Background())

	waitFor(t, "heartbeat to advance last_seen", func() bool {
		workers, err := s.ListWorkers(context.Background())
		if err != nil || len(workers) != 1 {
			return false
		}
		return workers[0].LastSeen.After(registered)
	})
}

func TestMonitor_MarksStalePeerDead(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ownerID := registerWorker(t, s, time.Now().UTC())
	staleID := registerWorker(t, s, time.Now().UTC().Add(-time.Hour))

	m := cluster.NewMonitor(s, ownerID, slog.Default(),
		cluster.WithHeartbeatInterval(5*time.Millisecond),
		cluster.WithDeadThreshold(time.Minute),
	)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop(context.Background())

	waitFor(t, "stale peer marked dead", func() bool {
		workers, err := s.ListWorkers(context.Background())
		if err != nil {
			return false
		}
		for _, w := range workers {
			if w.ID.String() == staleID.String() {
				return w.State == cluster.WorkerDead
			}
		}
		return false
	})

	// The heartbeating owner must stay active.
	workers, err := s.ListWorkers(context.Background())
	if err != nil {
		t.Fatalf("list workers: %v", err)
	}
	for _, w := range workers {
		if w.ID.String() == ownerID.String() && w.State != cluster.WorkerActive {
			t.Errorf("owner state = %q, want active", w.State)
		}
	}
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	s := memory.New()
	workerID := registerWorker(t, s, time.Now().UTC())

	m := cluster.NewMonitor(s, workerID, slog.Default(),
		cluster.WithHeartbeatInterval(time.Millisecond),
	)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
