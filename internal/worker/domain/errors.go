package domain

import "errors"

var (
	// ErrJobFailed is returned when a job ends without a match and has been marked failed
	ErrJobFailed = errors.New("job failed")

	// ErrWorkerFault is returned when no search unit could keep running
	ErrWorkerFault = errors.New("all search units faulted")

	// ErrJobNotActive is returned when a stop is requested for a job this worker is not running
	ErrJobNotActive = errors.New("job is not running on this worker")

	// ErrInvalidJobID is returned when a queue message does not carry a UUID
	ErrInvalidJobID = errors.New("invalid job id")

	// ErrStopRequested is the cancellation cause of an external stop
	ErrStopRequested = errors.New("stop requested")

	// ErrJobTimeout is the cancellation cause of an expired job deadline
	ErrJobTimeout = errors.New("job timeout exceeded")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
