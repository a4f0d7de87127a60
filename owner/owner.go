// Package owner provides helpers to capture and restore the coarse
// per-request owner identifier from/to context.Context.
//
// The owner id is the only access-control surface of the engine: it is
// captured at submission time, persisted on the Job and Batch records,
// and restored into the handler's context during execution.
package owner

import "context"

type ownerKey struct{}

// With attaches an owner id to the context. An empty id returns the
// context unchanged.
func With(ctx context.Context, ownerID string) context.Context {
	if ownerID == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// From extracts the owner id from the context. Returns an empty string
// when no owner is present.
func From(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey{}).(string); ok {
		return v
	}
	return ""
}
