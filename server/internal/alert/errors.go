package alert

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("alert not found")
	ErrInvalidState = errors.New("invalid state")
	ErrForbidden    = errors.New("forbidden")
	ErrPersistence  = errors.New("persistence error")
)

// Codes distinguish denials that share a kind.
const (
	CodeAlreadyResolved     = "already_resolved"
	CodeAlreadyAcknowledged = "already_acknowledged"
	CodeNotEligible         = "not_eligible"
	CodeNotCreator          = "not_creator"
)

// Error is returned by every Engine operation that fails.
type Error struct {
	Kind error
	Code string
	Msg  string

	// Alert is the state that was applied in memory. Set only for
	// ErrPersistence.
	Alert *Alert

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Is matches the error kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Applied returns the in-memory alert state carried by a persistence error.
func Applied(err error) (Alert, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae.Alert != nil {
		return *ae.Alert, true
	}
	return Alert{}, false
}

// CodeOf returns the denial code carried by err, or "".
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func validationError(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func notFound(id string) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf("alert %s not found", id)}
}

func invalidState(code, format string, args ...any) error {
	return &Error{Kind: ErrInvalidState, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func forbidden(code, format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func persistenceError(a Alert, err error) error {
	return &Error{
		Kind:  ErrPersistence,
		Msg:   fmt.Sprintf("alert %s applied but not persisted", a.ID),
		Alert: &a,
		Err:   err,
	}
}
