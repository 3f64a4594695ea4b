package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNoJobsFound is returned when discovery yields an empty batch.
	ErrNoJobsFound = errors.New("no jobs found")
	// ErrMissingInputFile is wrapped with the path of the first absent input.
	ErrMissingInputFile = errors.New("missing input file")
	// ErrUnsafePath marks a path that cannot be quoted inside the engine expression.
	ErrUnsafePath = errors.New("unsafe path")
)

// ConfigurationError aborts the whole batch before any job is dispatched.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SimulationFailedError reports a non-zero or abnormal engine exit.
type SimulationFailedError struct {
	Folder   string
	Code     int
	Signaled bool
}

func (e *SimulationFailedError) Error() string {
	if e.Signaled {
		return fmt.Sprintf("simulation in %s terminated by signal (status %d)", e.Folder, e.Code)
	}
	return fmt.Sprintf("simulation in %s failed with status: %d", e.Folder, e.Code)
}

// PublishError is recorded when a completed job could not be uploaded.
type PublishError struct {
	Folder string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Folder, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ExitCode maps a job error to the status recorded in the aggregator.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var sim *SimulationFailedError
	if errors.As(err, &sim) && sim.Code != 0 {
		return sim.Code
	}
	return 1
}
