package job

import "context"

// Definition is a typed handler definition for one job kind.
// T is the parameter type (must be JSON-serializable).
type Definition[T any] struct {
	// Kind is the unique identifier for this job type.
	Kind string

	// Validate checks parameters at submission time. Nil means any
	// well-formed T is accepted.
	Validate func(params T) error

	// Execute performs the work and reports a tagged Outcome.
	Execute func(ctx context.Context, params T) Outcome

	// Opts configures retries, timeout, and caching.
	Opts Options
}

// NewDefinition creates a typed handler definition for a kind.
func NewDefinition[T any](kind string, execute func(ctx context.Context, params T) Outcome, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Kind:    kind,
		Execute: execute,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// WithValidator sets the submission-time parameter validator.
func (d *Definition[T]) WithValidator(fn func(params T) error) *Definition[T] {
	d.Validate = fn
	return d
}
