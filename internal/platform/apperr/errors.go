// Package apperr defines the error kinds returned by workflow operations.
//
// Every failure carries the entity, id, attempted action and the state that
// was observed, so callers can decide whether to retry or report.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
)

// Sentinels for errors.Is matching on kind.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
)

// Error is a structured workflow failure.
type Error struct {
	Kind    Kind   `json:"kind"`
	Entity  string `json:"entity,omitempty"`
	ID      string `json:"id,omitempty"`
	Action  string `json:"action,omitempty"`
	State   string `json:"state,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Entity != "" {
		fmt.Fprintf(&b, ": %s", e.Entity)
		if e.ID != "" {
			fmt.Fprintf(&b, " %s", e.ID)
		}
	}
	if e.Action != "" {
		fmt.Fprintf(&b, ": %s", e.Action)
	}
	if e.State != "" {
		fmt.Fprintf(&b, " (state %s)", e.State)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of entity details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NotFound reports an unknown entity id.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Message: entity + " not found"}
}

// InvalidTransition reports an action that is not legal from the observed state.
func InvalidTransition(entity, id, action, state, msg string) *Error {
	return &Error{Kind: KindInvalidTransition, Entity: entity, ID: id, Action: action, State: state, Message: msg}
}

// Validation reports malformed input.
func Validation(entity, action, msg string) *Error {
	return &Error{Kind: KindValidation, Entity: entity, Action: action, Message: msg}
}

// Validationf is Validation with a format string.
func Validationf(entity, action, format string, args ...any) *Error {
	return Validation(entity, action, fmt.Sprintf(format, args...))
}

// Conflict reports a lost race or a uniqueness clash in the store.
func Conflict(entity, id, action, msg string, cause error) *Error {
	return &Error{Kind: KindConflict, Entity: entity, ID: id, Action: action, Message: msg, Err: cause}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// WithAction fills in the action on a copy of err when it is an *Error
// without one. Repositories do not know which action they serve.
func WithAction(err error, action string) error {
	e, ok := As(err)
	if !ok || e.Action != "" {
		return err
	}
	cp := *e
	cp.Action = action
	return &cp
}
