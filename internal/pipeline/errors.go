package pipeline

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Start when a pipeline run is already
// active for the deal. At most one run per deal may be in flight.
var ErrAlreadyRunning = errors.New("pipeline already running for deal")

// StageError wraps a failure with the stage it happened in. The runner
// records the stage on the deal's error detail and in the error event.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// SchemaValidationError is returned when a generation stage's output
// could not be decoded into (or did not validate against) its expected
// shape after all retries.
type SchemaValidationError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("stage %s produced invalid output after %d attempts: %v", e.Stage, e.Attempts, e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }
