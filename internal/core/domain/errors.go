package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrElectionNotFound      = errors.New("election not found")
	ErrElectionNotOpen       = errors.New("election is not open for voting")
	ErrNotRegistered         = errors.New("voter is not registered for this election")
	ErrAlreadyCast           = errors.New("voter has already cast a ballot")
	ErrWindowNotFound        = errors.New("ballot window not found")
	ErrWindowExists          = errors.New("ballot window already exists")
	ErrWindowExpired         = errors.New("ballot window expired")
	ErrSessionOriginMismatch = errors.New("ballot window was opened from a different origin")
	ErrBallotNotFound        = errors.New("ballot not found")
	ErrDuplicateBallot       = errors.New("ballot already stored for this voter")
	ErrValidationFailed      = errors.New("answers do not match the election questions")
	ErrBusy                  = errors.New("another submission is in progress, retry shortly")
	ErrLockNotAcquired       = errors.New("lock not acquired")
	ErrLockUnavailable       = errors.New("lock service unavailable")
	ErrTransient             = errors.New("transient storage failure")
	ErrRowLockTimeout        = errors.New("timed out waiting for the voter row lock")
	ErrInternal              = errors.New("internal server error")
)

// ValidationError lists the question ids whose answers were rejected.
type ValidationError struct {
	QuestionIDs []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidationFailed, strings.Join(e.QuestionIDs, ", "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}
