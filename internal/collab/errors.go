package collab

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionEnded is returned for any mutation after the session ended.
	ErrSessionEnded = errors.New("session ended")

	// ErrUnknownParticipant is returned when a presence update names a
	// participant that is not on the roster.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrRosterFull is returned when a join would exceed the participant cap.
	ErrRosterFull = errors.New("roster full")
)

// ValidationError reports input rejected before it touched the Document.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
