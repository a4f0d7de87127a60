// Package limits provides per-kind and per-owner rate limiting and
// concurrency control for job dispatch. Slow media kinds (transcoding,
// transcription) typically get a low MaxConcurrency; kinds that call
// rate-limited external APIs (OCR, LLM transforms) get a RateLimit.
package limits

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-kind behaviour such as rate limiting and concurrency.
type Config struct {
	// Kind is the job kind this config applies to.
	Kind string

	// MaxConcurrency limits how many jobs of this kind may run
	// simultaneously on the local worker pool. Zero means no
	// kind-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second that may be
	// started for this kind. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// kindState tracks runtime state for a single kind.
type kindState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// ownerState tracks runtime state for a single kind+owner pair.
type ownerState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// Manager controls per-kind and per-owner rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	kinds  map[string]*kindState
	owners map[string]*ownerState
}

// NewManager creates a Manager with the given kind configurations.
// Kinds not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		kinds:  make(map[string]*kindState, len(configs)),
		owners: make(map[string]*ownerState),
	}
	for _, cfg := range configs {
		m.kinds[cfg.Kind] = newKindState(cfg)
	}
	return m
}

func newKindState(cfg Config) *kindState {
	ks := &kindState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ks.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ks
}

// Acquire checks rate limits and concurrency for the given kind and
// owner. If the job is allowed to proceed it increments the active
// counters and returns true. The caller MUST call Release when the job
// completes.
func (m *Manager) Acquire(kind, ownerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ks := m.kinds[kind]
	if ks != nil {
		if ks.limiter != nil && !ks.limiter.Allow() {
			return false
		}
		if ks.config.MaxConcurrency > 0 && ks.active >= ks.config.MaxConcurrency {
			return false
		}
	}

	if ownerID != "" {
		os := m.owners[ownerKey(kind, ownerID)]
		if os != nil {
			if os.limiter != nil && !os.limiter.Allow() {
				return false
			}
			if os.maxConcurrency > 0 && os.active >= os.maxConcurrency {
				return false
			}
			os.active++
		}
	}

	if ks != nil {
		ks.active++
	}

	return true
}

// Release decrements the active job count for the kind and owner.
func (m *Manager) Release(kind, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ks := m.kinds[kind]; ks != nil && ks.active > 0 {
		ks.active--
	}

	if ownerID != "" {
		if os := m.owners[ownerKey(kind, ownerID)]; os != nil && os.active > 0 {
			os.active--
		}
	}
}

// SetKindConfig dynamically updates (or creates) a kind configuration.
func (m *Manager) SetKindConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.kinds[cfg.Kind]
	ks := newKindState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ks.active = existing.active
	}
	m.kinds[cfg.Kind] = ks
}

// ActiveCount returns the current number of active jobs for a kind.
func (m *Manager) ActiveCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ks := m.kinds[kind]; ks != nil {
		return ks.active
	}
	return 0
}

// OwnerConfig defines rate limits and concurrency for a specific owner
// on a specific kind.
type OwnerConfig struct {
	// Kind is the job kind this config applies to.
	Kind string

	// OwnerID is the owner identifier (job.OwnerID).
	OwnerID string

	// RateLimit is the sustained jobs per second for this owner.
	RateLimit float64

	// RateBurst is the burst size for the owner's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this owner on this
	// kind. Zero means no owner-specific concurrency limit.
	MaxConcurrency int
}

// ownerKey builds the map key for a kind+owner pair.
func ownerKey(kind, ownerID string) string {
	return fmt.Sprintf("%s:%s", kind, ownerID)
}

// SetOwnerConfig configures rate limits and concurrency for a specific
// owner on a specific kind. Calling this multiple times for the same
// kind+owner replaces the previous configuration.
func (m *Manager) SetOwnerConfig(cfg OwnerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ownerKey(cfg.Kind, cfg.OwnerID)
	existing := m.owners[key]

	os := &ownerState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		os.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		os.active = existing.active
	}
	m.owners[key] = os
}
