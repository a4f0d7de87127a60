package job

import "context"

// ProgressFunc reports execution progress (0–100) for the job currently
// being executed. Reports are monotonic: the store ignores values lower
// than what is already recorded.
type ProgressFunc func(ctx context.Context, progress int)

type progressKey struct{}

// WithProgress attaches a progress reporter to the context. The worker
// installs one before invoking a handler.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress reports progress for the current job, if a reporter is
// attached. Safe to call from any handler; a no-op otherwise.
func ReportProgress(ctx context.Context, progress int) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok {
		fn(ctx, progress)
	}
}
