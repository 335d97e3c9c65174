package export

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when the timeline is empty or has an open region.
	ErrNotReady = errors.New("timeline not ready for export")
	// ErrBackendFailure is matched by every *StepError.
	ErrBackendFailure = errors.New("backend failure")
	// ErrInvalidDestination is returned before any trim when the destination
	// cannot be written.
	ErrInvalidDestination = errors.New("invalid destination")
	// ErrCleanupIncomplete is returned in strict cleanup mode when some
	// intermediate files could not be deleted.
	ErrCleanupIncomplete = errors.New("intermediate cleanup incomplete")
)

// Stage names the part of an export that failed.
type Stage string

const (
	StageTrim        Stage = "trim"
	StageConcatenate Stage = "concatenate"
	StagePromote     Stage = "promote"
)

// StepError is a backend failure tied to the stage and, for trims, the
// 1-based region that failed.
type StepError struct {
	Stage Stage
	Step  int
	Err   error
}

func (e *StepError) Error() string {
	if e.Stage == StageTrim {
		return fmt.Sprintf("%s step %d: %v", e.Stage, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func (e *StepError) Is(target error) bool { return target == ErrBackendFailure }
