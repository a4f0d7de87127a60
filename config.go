package conveyor

import "time"

// Config holds configuration for a Conveyor coordinator.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently
	// by this instance.
	Concurrency int

	// Kinds restricts which job kinds this instance will claim.
	// Empty means all registered kinds.
	Kinds []string

	// PollInterval is how often idle workers poll for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs
	// during graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs renew their lease.
	HeartbeatInterval time.Duration

	// LeaseExpiry is how long a running job may go without a heartbeat
	// before another instance reclaims it.
	LeaseExpiry time.Duration

	// MaxRetries is the default retry budget for kinds that do not
	// declare their own.
	MaxRetries int

	// WebhookAttempts bounds webhook delivery retries per batch.
	WebhookAttempts int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       8,
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		LeaseExpiry:       30 * time.Second,
		MaxRetries:        3,
		WebhookAttempts:   5,
	}
}
