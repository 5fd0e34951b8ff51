package services

import (
	"errors"
	"fmt"
)

// Domain rule violations. These are surfaced to the caller with a 4xx
// status and are never retried or logged as system errors.
var (
	ErrScrimNotFound          = errors.New("scrim not found")
	ErrScrimFull              = errors.New("scrim is full")
	ErrAlreadyAdmitted        = errors.New("team is already participating in this scrim")
	ErrScrimNotJoinable       = errors.New("scrim is not accepting teams")
	ErrNotParticipant         = errors.New("team is not participating in this scrim")
	ErrNotAuthorized          = errors.New("not authorized")
	ErrInvalidStateTransition = errors.New("invalid scrim state transition")
	ErrInvalidResultsPayload  = errors.New("invalid results payload")
	ErrTeamNotFound           = errors.New("team not found")
)

// EligibilityError reports every failed requirement check so a team can
// fix all issues in one pass.
type EligibilityError struct {
	FailedChecks []Check
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("team does not meet scrim requirements: %v", e.FailedChecks)
}

// IsDomainError reports whether err is a domain rule violation rather
// than an infrastructure fault. Domain errors must never be retried.
func IsDomainError(err error) bool {
	var eligErr *EligibilityError
	if errors.As(err, &eligErr) {
		return true
	}
	for _, domain := range []error{
		ErrScrimNotFound, ErrScrimFull, ErrAlreadyAdmitted,
		ErrScrimNotJoinable, ErrNotParticipant, ErrNotAuthorized,
		ErrInvalidStateTransition, ErrInvalidResultsPayload, ErrTeamNotFound,
	} {
		if errors.Is(err, domain) {
			return true
		}
	}
	return false
}
