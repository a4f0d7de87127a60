package job

import "encoding/json"

// Disposition classifies how the worker should treat a handler outcome.
type Disposition int

const (
	// DispositionSuccess means the handler produced a result.
	DispositionSuccess Disposition = iota
	// DispositionRetryable means the failure is transient (network,
	// rate limit) and the job may be attempted again.
	DispositionRetryable
	// DispositionFatal means the handler declared the failure
	// unrecoverable; the job must not be retried.
	DispositionFatal
)

// Outcome is the tagged result of one handler invocation. Exactly one of
// the three constructors builds it, so the worker's retry/fatal
// classification is explicit rather than inferred from error types.
type Outcome struct {
	Disposition Disposition
	Payload     json.RawMessage
	Artifacts   []string
	Err         error
}

// Success returns a successful outcome carrying the serialized result
// payload and any generated artifact references.
func Success(payload json.RawMessage, artifacts ...string) Outcome {
	return Outcome{Disposition: DispositionSuccess, Payload: payload, Artifacts: artifacts}
}

// Retryable returns a transient-failure outcome. The worker returns the
// job to pending (with backoff) while the retry budget lasts.
func Retryable(err error) Outcome {
	return Outcome{Disposition: DispositionRetryable, Err: err}
}

// Fatal returns an unrecoverable-failure outcome. The worker fails the
// job immediately regardless of remaining retries.
func Fatal(err error) Outcome {
	return Outcome{Disposition: DispositionFatal, Err: err}
}
