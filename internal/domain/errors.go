package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoModelTier is returned when a model call is attempted for the none tier.
	ErrNoModelTier = errors.New("tier none has no model")
	// ErrMultipleToolCalls is returned when one turn carries more than one action.
	ErrMultipleToolCalls = errors.New("more than one action in a single turn")
	// ErrConfirmationNotFound is returned for unknown or expired confirmations.
	ErrConfirmationNotFound = errors.New("confirmation not found")
	// ErrAlreadyConsumed is returned when a confirmed action is executed twice.
	ErrAlreadyConsumed = errors.New("confirmation already consumed")
	// ErrNotConfirmed is returned when an unconfirmed action is consumed.
	ErrNotConfirmed = errors.New("action is not confirmed")
	// ErrAlreadyResolved is returned when a terminal confirmation is resolved again.
	ErrAlreadyResolved = errors.New("confirmation already resolved")
)

// ModelErrorKind classifies model backend failures.
type ModelErrorKind string

const (
	ModelErrorAuth       ModelErrorKind = "auth"
	ModelErrorRateLimit  ModelErrorKind = "rate_limit"
	ModelErrorTimeout    ModelErrorKind = "timeout"
	ModelErrorServer     ModelErrorKind = "server"
	ModelErrorConnection ModelErrorKind = "connection"
	ModelErrorMalformed  ModelErrorKind = "malformed"
)

// ModelError is the typed failure returned by model backends.
type ModelError struct {
	Kind       ModelErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *ModelError) Error() string {
	msg := fmt.Sprintf("model %s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModelError) Unwrap() error { return e.Err }

// Transient reports whether the call may succeed when retried.
func (e *ModelError) Transient() bool {
	switch e.Kind {
	case ModelErrorRateLimit, ModelErrorTimeout, ModelErrorServer, ModelErrorConnection:
		return true
	default:
		return false
	}
}

// ModelErrorKindOf extracts the kind of a wrapped ModelError.
func ModelErrorKindOf(err error) (ModelErrorKind, bool) {
	var modelErr *ModelError
	if errors.As(err, &modelErr) {
		return modelErr.Kind, true
	}
	return "", false
}

// ToolValidationError reports a tool call that failed schema validation.
type ToolValidationError struct {
	Tool   ToolName
	Field  string
	Reason string
}

func (e *ToolValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s call: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("invalid %s call: %s %s", e.Tool, e.Field, e.Reason)
}

// PathSafetyError reports a write target outside the sandbox or on the deny-list.
type PathSafetyError struct {
	Path   string
	Reason string
}

func (e *PathSafetyError) Error() string {
	return fmt.Sprintf("unsafe path %q: %s", e.Path, e.Reason)
}

// CommandRejectedError reports a command or package refused before spawning.
type CommandRejectedError struct {
	Command string
	Reason  string
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("command %q rejected: %s", e.Command, e.Reason)
}
