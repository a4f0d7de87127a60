package job

import "time"

// Options configures per-kind execution behavior.
type Options struct {
	// MaxRetries is the retry budget for transient failures.
	MaxRetries int

	// Timeout bounds one handler invocation. A deadline hit is treated
	// as a retryable failure. Zero means no per-kind timeout.
	Timeout time.Duration

	// Cacheable enables the content-addressed result cache for this
	// kind. The fingerprint covers the kind plus all parameters except
	// those listed in IgnoreParams.
	Cacheable bool

	// IgnoreParams names top-level parameter keys that do not affect
	// the handler's output (request trace ids, cache-control flags).
	// They are excluded from the cache fingerprint; omitting an
	// output-affecting key here would cause incorrect cache hits.
	IgnoreParams []string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Timeout:    10 * time.Minute,
	}
}

// Option is a functional option for configuring a kind definition.
type Option func(*Options)

// WithMaxRetries sets the retry budget for transient failures.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithTimeout sets the per-invocation execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithCache enables the result cache for this kind, excluding the named
// parameter keys from the fingerprint.
func WithCache(ignoreParams ...string) Option {
	return func(o *Options) {
		o.Cacheable = true
		o.IgnoreParams = ignoreParams
	}
}
