package provider

import (
	"errors"
	"fmt"
)

// Sentinel classifications for failures that must not be retried blindly.
var (
	// ErrAccountBlocked means the platform reports a permanent block.
	ErrAccountBlocked = errors.New("account permanently blocked")
	// ErrInvalidCredentials means login was rejected outright.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotAccessible means the media source rejected access (permissions),
	// as opposed to a transient failure.
	ErrNotAccessible = errors.New("media source not accessible")
)

// ChallengeError reports that the platform requires manual verification.
// Automated retry cannot resolve a challenge, so it is terminal for the
// session until a human intervenes.
type ChallengeError struct {
	ChallengeType string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("authentication challenge required (%s)", e.ChallengeType)
}

// IsPermanent reports whether err is a terminal classification that must
// never be retried.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrAccountBlocked) || errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrNotAccessible) {
		return true
	}
	var ch *ChallengeError
	return errors.As(err, &ch)
}
