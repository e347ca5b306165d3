package router

import "errors"

// Errors reported to the sending client as error events
var (
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrStudentsOnly         = errors.New("only students can submit focus scores")
	ErrInstructorsOnlyTimer = errors.New("only instructors can update timer")
	ErrInstructorsOnly      = errors.New("only instructors can control sessions")
	ErrFocusUpdateFailed    = errors.New("failed to update focus score")
	ErrEndSessionFailed     = errors.New("failed to end session")
	ErrStatsUnavailable     = errors.New("failed to compute session stats")
	ErrInternal             = errors.New("internal server error")
)
