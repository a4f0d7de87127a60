package conveyor

import "errors"

var (
	// Store errors.
	ErrNoStore = errors.New("conveyor: no store configured")

	// Not found errors.
	ErrJobNotFound    = errors.New("conveyor: job not found")
	ErrBatchNotFound  = errors.New("conveyor: batch not found")
	ErrWorkerNotFound = errors.New("conveyor: worker not found")

	// Conflict errors.
	ErrJobAlreadyExists   = errors.New("conveyor: job already exists")
	ErrBatchAlreadyExists = errors.New("conveyor: batch already exists")

	// State errors.
	ErrInvalidTransition = errors.New("conveyor: invalid state transition")
	ErrNotTerminal       = errors.New("conveyor: job is not in a terminal state")

	// Registration errors.
	ErrUnknownKind   = errors.New("conveyor: no handler registered for kind")
	ErrDuplicateKind = errors.New("conveyor: handler kind already registered")
	ErrInvalidParams = errors.New("conveyor: invalid job parameters")
)
