package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database.
	ErrJobNotFound = errors.New("job not found")

	// ErrArtifactNotFound is returned when an artifact record is missing.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrHashingFailed is returned when the content hash of an upload cannot
	// be computed. No artifact is created in that case.
	ErrHashingFailed = errors.New("failed to hash upload content")

	// ErrInvalidTransition is returned when a status change violates the
	// forward-only state machine.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrStageAlreadyDone is returned when an executor finds the job already
	// at or past the status this invocation would produce. Redeliveries hit
	// this path and must exit without side effects.
	ErrStageAlreadyDone = errors.New("stage already completed or in progress")

	// ErrMissingPrecondition is returned when a stage executor finds its
	// required prior-stage artifact absent.
	ErrMissingPrecondition = errors.New("required prior-stage artifact missing")

	// ErrStageComputationFailed wraps errors surfaced by the external pose
	// or render computation.
	ErrStageComputationFailed = errors.New("stage computation failed")

	// ErrUnknownAlgorithm is returned for a pose algorithm id outside the
	// known variant registry.
	ErrUnknownAlgorithm = errors.New("unknown pose algorithm id")
)

// RetryableError wraps transient infrastructure errors that should trigger a
// broker requeue rather than a terminal failure.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
