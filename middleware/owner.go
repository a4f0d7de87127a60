package middleware

import (
	"context"

	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/owner"
)

// Owner returns middleware that restores the submitting owner's identity
// from the job's OwnerID field into the context. This ensures handlers see
// the same owner as the original submit caller.
func Owner() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.OwnerID != "" {
			ctx = owner.With(ctx, j.OwnerID)
		}
		return next(ctx)
	}
}
