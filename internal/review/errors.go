package review

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the session's current state.
	ErrInvalidState = errors.New("review: operation not allowed in current state")

	// ErrSessionFinished is returned for operations attempted after the session finished.
	ErrSessionFinished = fmt.Errorf("%w: session finished", ErrInvalidState)
)

// IntegrityError reports a plan whose card could not be found. It is not fatal:
// the session shows a placeholder and carries on.
type IntegrityError struct {
	PlanID int64
	CardID int64
	Err    error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("review: plan %d references missing card %d: %v", e.PlanID, e.CardID, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed write of a review. Nothing was committed
// and the session did not advance, so the same submission can be retried.
type PersistenceError struct {
	CardID int64
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("review: saving review of card %d: %v", e.CardID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
