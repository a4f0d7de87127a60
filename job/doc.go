// Package job defines the Job entity, its state machine, the persistence
// contract for jobs, and the handler registry that maps a job's kind to
// the code that executes it.
//
// A Job is one unit of media-processing work: a kind (which handler runs
// it), opaque JSON parameters, and a status lifecycle
// pending → running → success/failed, with archived as an operator-only
// terminal state. Handlers report their outcome through the tagged
// Outcome type rather than bare errors, so the worker's retry/fatal
// classification is explicit.
package job
