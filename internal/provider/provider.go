// Package provider defines the uniform client interface over the external
// territory authorities and the adapters that implement it.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/territory-engine/internal/model"
)

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	// KindTimeout means the provider did not answer within the deadline.
	KindTimeout ErrorKind = "timeout"
	// KindUnreachable means the provider could not be reached or errored.
	KindUnreachable ErrorKind = "unreachable"
	// KindNotCovered means the provider explicitly has no data for the code.
	// Not a failure for availability accounting.
	KindNotCovered ErrorKind = "not_covered"
	// KindMalformed means the provider answered with an unparseable body.
	KindMalformed ErrorKind = "malformed_response"
)

// Error is a classified failure from a single provider call.
type Error struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified provider error.
func NewError(provider string, kind ErrorKind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// KindOf extracts the error kind from a provider call error, defaulting to
// KindUnreachable for unclassified errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnreachable
}

// IsNotCovered reports whether the provider explicitly declined coverage.
func IsNotCovered(err error) bool {
	return KindOf(err) == KindNotCovered
}

// Client is one external territory authority. Implementations must not retry
// internally; retry policy belongs to the orchestrator.
type Client interface {
	// Name returns the provider identifier used in audit logs and coverage rules.
	Name() string
	// Validate looks up the service territory for a ZIP code. On failure the
	// returned error is an *Error carrying the failure kind.
	Validate(ctx context.Context, zip model.ZipCode) (*model.Candidate, error)
}
