package coordinator

import (
	"errors"
	"fmt"
)

// Reason is a stable failure code callers can branch on to decide whether a
// command is worth retrying.
type Reason string

const (
	ReasonValidation     Reason = "validation"
	ReasonAlreadyRunning Reason = "already-running"
	ReasonNotFound       Reason = "not-found"
	ReasonUnavailable    Reason = "dependency-unavailable"
	ReasonExhausted      Reason = "resource-exhausted"
)

// Error is a coordinator command failure with a stable reason code.
type Error struct {
	Reason Reason
	msg    string
}

func (e *Error) Error() string { return e.msg }

func errf(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, msg: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the reason code from err, or empty for non-coordinator
// errors.
func ReasonOf(err error) Reason {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}
