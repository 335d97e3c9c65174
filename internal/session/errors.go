package session

import (
	"context"
	"errors"

	"github.com/heimdex/vidcut/internal/export"
	"github.com/heimdex/vidcut/internal/media"
	"github.com/heimdex/vidcut/internal/timeline"
)

var (
	// ErrBusy is returned for mutations attempted while an export runs.
	ErrBusy = errors.New("export in progress")
	// ErrNoMedia is returned when an operation needs a loaded source.
	ErrNoMedia = media.ErrNoMedia
)

// Error codes shared by history records and the HTTP API.
const (
	CodeInvalidState      = "INVALID_STATE"
	CodeInvalidRange      = "INVALID_RANGE"
	CodeOutOfRange        = "OUT_OF_RANGE"
	CodeNotReady          = "NOT_READY"
	CodeBackendFailure    = "BACKEND_FAILURE"
	CodeBusy              = "BUSY"
	CodeNoMedia           = "NO_MEDIA"
	CodeBadRequest        = "BAD_REQUEST"
	CodeCanceled          = "CANCELED"
	CodeCleanupIncomplete = "CLEANUP_INCOMPLETE"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorCode classifies err into one of the Code constants.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, timeline.ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, timeline.ErrInvalidRange):
		return CodeInvalidRange
	case errors.Is(err, timeline.ErrOutOfRange):
		return CodeOutOfRange
	case errors.Is(err, export.ErrNotReady):
		return CodeNotReady
	case errors.Is(err, export.ErrBackendFailure):
		return CodeBackendFailure
	case errors.Is(err, ErrBusy):
		return CodeBusy
	case errors.Is(err, ErrNoMedia):
		return CodeNoMedia
	case errors.Is(err, export.ErrInvalidDestination):
		return CodeBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.Is(err, export.ErrCleanupIncomplete):
		return CodeCleanupIncomplete
	default:
		return CodeInternal
	}
}

// ErrorStep returns the failing 1-based step of a backend failure, or 0.
func ErrorStep(err error) int {
	var se *export.StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return 0
}

// ErrorStage returns the failing stage of a backend failure, or "".
func ErrorStage(err error) string {
	var se *export.StepError
	if errors.As(err, &se) {
		return string(se.Stage)
	}
	return ""
}
