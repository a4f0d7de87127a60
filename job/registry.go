package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xraph/conveyor"
)

// HandlerFunc is a type-erased job handler that accepts raw JSON
// parameters. The typed Definition[T] is converted to a HandlerFunc at
// registration time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, params []byte) Outcome

// ValidateFunc is a type-erased submission-time parameter check.
type ValidateFunc func(params []byte) error

// Handler is the registered capability set for one kind.
type Handler struct {
	Kind     string
	Execute  HandlerFunc
	Validate ValidateFunc
	Opts     Options
}

// Registry maps job kinds to type-erased handlers.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]*Handler),
	}
}

// RegisterDefinition registers a typed kind definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the parameters
// into T before calling the typed handler. Registering a kind twice
// returns ErrDuplicateKind; the original handler stays in place.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) error {
	execute := func(ctx context.Context, params []byte) Outcome {
		var t T
		if len(params) > 0 {
			if err := json.Unmarshal(params, &t); err != nil {
				return Fatal(fmt.Errorf("unmarshal params for kind %q: %w", def.Kind, err))
			}
		}
		return def.Execute(ctx, t)
	}

	validate := func(params []byte) error {
		var t T
		if len(params) > 0 {
			if err := json.Unmarshal(params, &t); err != nil {
				return fmt.Errorf("unmarshal params for kind %q: %w", def.Kind, err)
			}
		}
		if def.Validate != nil {
			return def.Validate(t)
		}
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[def.Kind]; exists {
		return fmt.Errorf("%w: %q", conveyor.ErrDuplicateKind, def.Kind)
	}
	r.handlers[def.Kind] = &Handler{
		Kind:     def.Kind,
		Execute:  execute,
		Validate: validate,
		Opts:     def.Opts,
	}
	return nil
}

// Get returns the handler for the given kind.
// Returns false if no handler is registered.
func (r *Registry) Get(kind string) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns all registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}
