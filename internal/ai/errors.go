package ai

import (
	"errors"
	"fmt"
)

// Kind is a stable machine-readable failure class.
type Kind string

const (
	// KindProviderUnavailable means the requested or default provider has
	// no credential configured. Fatal for the triggering request.
	KindProviderUnavailable Kind = "provider_unavailable"
	// KindGenerationFailure wraps a vendor call error. Fatal for primary
	// generation, swallowed by best-effort derived steps.
	KindGenerationFailure Kind = "generation_failure"
)

// Error pairs a Kind with a human message and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var aiErr *Error
	return errors.As(err, &aiErr) && aiErr.Kind == kind
}

func generationFailure(provider string, err error) error {
	return &Error{
		Kind:    KindGenerationFailure,
		Message: fmt.Sprintf("provider %s call failed", provider),
		Err:     err,
	}
}
