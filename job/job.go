package job

import (
	"encoding/json"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be claimed by a worker.
	StatePending State = "pending"
	// StateRunning means a worker holds the claim and is executing the job.
	StateRunning State = "running"
	// StateSuccess means the job finished and its result is recorded.
	StateSuccess State = "success"
	// StateFailed means the job failed terminally; its error is recorded.
	StateFailed State = "failed"
	// StateArchived means an operator removed the job from default
	// listings. Archived jobs keep their result or error.
	StateArchived State = "archived"
)

// Terminal reports whether s is a computed terminal state. Archived is
// operator-only and deliberately excluded: batch status derivation treats
// archived jobs the same as their pre-archive outcome being absent.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// Error is the structured failure payload persisted on a failed job.
// It is the only failure channel visible to clients.
type Error struct {
	Code    string            `json:"code" bson:"code"`
	Message string            `json:"message" bson:"message"`
	Details map[string]string `json:"details,omitempty" bson:"details,omitempty"`
}

// Error codes persisted on failed jobs.
const (
	CodeValidation     = "VALIDATION"
	CodeUnknownKind    = "UNKNOWN_KIND"
	CodeFatal          = "FATAL"
	CodeRetryExhausted = "RETRY_EXHAUSTED"
	CodeTimeout        = "TIMEOUT"
	CodePanic          = "PANIC"
)

// Result is the structured success payload of a job: the serialized
// handler output plus references to any generated artifacts (file paths,
// object-store keys).
type Result struct {
	Payload   json.RawMessage `json:"payload,omitempty" bson:"payload,omitempty"`
	Artifacts []string        `json:"artifacts,omitempty" bson:"artifacts,omitempty"`
	// CacheHit records whether the payload was served from the result
	// cache instead of a handler invocation.
	CacheHit bool `json:"cache_hit,omitempty" bson:"cache_hit,omitempty"`
}

// Job represents one unit of work with a kind, parameters, and a status
// lifecycle. Result and Error are mutually exclusive; both are unset
// while the job is pending or running.
type Job struct {
	conveyor.Entity `bson:",inline"`

	ID      id.JobID `json:"id" bson:"_id"`
	BatchID id.BatchID `json:"batch_id,omitempty" bson:"batch_id,omitempty"`

	Kind   string          `json:"kind" bson:"kind"`
	Params json.RawMessage `json:"params,omitempty" bson:"params,omitempty"`

	State    State   `json:"state" bson:"state"`
	Progress int     `json:"progress" bson:"progress"`
	Result   *Result `json:"result,omitempty" bson:"result,omitempty"`
	Error    *Error  `json:"error,omitempty" bson:"error,omitempty"`

	OwnerID string `json:"owner_id,omitempty" bson:"owner_id,omitempty"`

	RetryCount int `json:"retry_count" bson:"retry_count"`
	MaxRetries int `json:"max_retries" bson:"max_retries"`

	// WorkerID identifies the instance holding the claim while running.
	WorkerID id.WorkerID `json:"worker_id,omitempty" bson:"worker_id,omitempty"`

	RunAt       time.Time  `json:"run_at" bson:"run_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty" bson:"heartbeat_at,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty" bson:"timeout,omitempty"`
}

// CheckTransition validates a state change. Stores call it before
// persisting an update so every backend enforces the same machine:
//
//	pending  → running, failed (unknown kind), archived
//	running  → pending (retry), success, failed
//	success  → archived
//	failed   → archived
//	archived → (none)
//
// Terminal → pending is only legal through RestartJob, which stores
// implement separately.
func CheckTransition(from, to State) error {
	if from == to {
		return nil
	}

	allowed := map[State][]State{
		StatePending:  {StateRunning, StateFailed, StateArchived},
		StateRunning:  {StatePending, StateSuccess, StateFailed},
		StateSuccess:  {StateArchived},
		StateFailed:   {StateArchived},
		StateArchived: {},
	}

	for _, s := range allowed[from] {
		if s == to {
			return nil
		}
	}
	return conveyor.ErrInvalidTransition
}

// Complete records the first transition into a terminal state, setting
// CompletedAt exactly once. It enforces result/error exclusivity.
func (j *Job) Complete(state State, result *Result, jobErr *Error) {
	j.State = state
	if state == StateSuccess {
		j.Result = result
		j.Error = nil
		j.Progress = 100
	} else {
		j.Error = jobErr
		j.Result = nil
	}
	if j.CompletedAt == nil {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
}

// ResetForRetry returns the job to pending for another attempt, clearing
// all execution state. RunAt carries the backoff delay.
func (j *Job) ResetForRetry(runAt time.Time) {
	j.State = StatePending
	j.RetryCount++
	j.Result = nil
	j.Error = nil
	j.Progress = 0
	j.WorkerID = id.Nil
	j.StartedAt = nil
	j.HeartbeatAt = nil
	j.RunAt = runAt
}
