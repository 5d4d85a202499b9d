package voting

import (
	"errors"
	"fmt"
)

// Messages returned by the state machine.
const (
	MsgStarted        = "Voting started"
	MsgStopped        = "Voting stopped"
	MsgTallied        = "Voting tallied"
	MsgAlreadyStarted = "Voting already started"
	MsgNotStarted     = "Voting is not started"
	MsgAlreadyStopped = "Voting already stopped"
	MsgNotStopped     = "Voting is not stopped"
	MsgAlreadyTallied = "Voting already tallied"
	MsgActionNotFound = "Action not found, try with start, stop or tally"
)

var (
	// ErrPermissionDenied is returned when an authenticated caller without
	// administrator rights attempts a privileged operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnauthenticated is returned when a privileged operation is attempted
	// without an identity. It wraps ErrPermissionDenied.
	ErrUnauthenticated = fmt.Errorf("%w: authentication required", ErrPermissionDenied)
	// ErrInvalidState is wrapped by every StateError.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnknownAction is returned by Apply for an action other than start,
	// stop or tally.
	ErrUnknownAction = errors.New("unknown action")
	// ErrNotFound is returned when the voting does not exist.
	ErrNotFound = errors.New("voting not found")
	// ErrNotOpen is returned when a ballot is submitted outside the open phase.
	ErrNotOpen = errors.New("voting is not open")
	// ErrNotEligible is returned when the voter is not in the census.
	ErrNotEligible = errors.New("voter is not eligible")
	// ErrAlreadyVoted is returned when the voting only accepts the first
	// ballot of every voter.
	ErrAlreadyVoted = errors.New("voter already cast a ballot")
	// ErrHasBallots is returned when deleting a voting that has ballots.
	ErrHasBallots = errors.New("voting has ballots")
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation error")
)

// StateError is a transition attempted out of order. The persisted state is
// left untouched.
type StateError struct {
	Message string
}

func (e *StateError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrInvalidState) hold for every StateError.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

func stateError(msg string) error {
	return &StateError{Message: msg}
}

// ValidationError is a missing or malformed field of a request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing field %q", e.Field)
	}
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func missingField(field string) error {
	return &ValidationError{Field: field}
}

func invalidField(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
