// Package failure defines the error taxonomy shared by the bootstrap stages.
// Each kind maps to a different terminal view.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a bootstrap failure.
type Kind string

const (
	KindNone        Kind = ""
	KindValidation  Kind = "validation"
	KindCapability  Kind = "capability"
	KindAuth        Kind = "auth"
	KindExtraction  Kind = "extraction"
	KindEnvironment Kind = "environment"
	KindUnknown     Kind = "unknown"
)

// ValidationError is returned when the archive does not match the bootstrap
// (hash mismatch, missing archive, truncated upload).
type ValidationError struct {
	Reason      string
	Remediation string
	Err         error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// CapabilityError is returned when the host lacks something required to
// continue, such as an extraction engine or a decryption method.
type CapabilityError struct {
	Reason      string
	Remediation string
	Err         error
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("missing capability: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("missing capability: %s", e.Reason)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// AuthError is returned when a submitted archive password is rejected.
// Reason is always safe to show to the client.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	return e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ExtractionError is returned when an engine or the folder reconciliation fails.
type ExtractionError struct {
	Reason      string
	Remediation string
	Err         error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// EnvironmentError is returned when runtime overrides could not be written.
// It is logged and never shown to the client.
type EnvironmentError struct {
	Reason string
	Err    error
}

func (e *EnvironmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("environment adaptation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("environment adaptation failed: %s", e.Reason)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of the first taxonomy error found in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var (
		validation  *ValidationError
		capability  *CapabilityError
		auth        *AuthError
		extraction  *ExtractionError
		environment *EnvironmentError
	)

	switch {
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &capability):
		return KindCapability
	case errors.As(err, &auth):
		return KindAuth
	case errors.As(err, &extraction):
		return KindExtraction
	case errors.As(err, &environment):
		return KindEnvironment
	default:
		return KindUnknown
	}
}

// RemediationOf returns the remediation hint attached to err, if any.
func RemediationOf(err error) string {
	var (
		validation *ValidationError
		capability *CapabilityError
		extraction *ExtractionError
	)

	switch {
	case errors.As(err, &validation):
		return validation.Remediation
	case errors.As(err, &capability):
		return capability.Remediation
	case errors.As(err, &extraction):
		return extraction.Remediation
	default:
		return ""
	}
}

// Message returns a client-facing message for err without the wrapped cause.
func Message(err error) string {
	var (
		validation *ValidationError
		capability *CapabilityError
		auth       *AuthError
		extraction *ExtractionError
	)

	switch {
	case errors.As(err, &validation):
		return validation.Reason
	case errors.As(err, &capability):
		return capability.Reason
	case errors.As(err, &auth):
		return auth.Reason
	case errors.As(err, &extraction):
		return extraction.Reason
	case err == nil:
		return ""
	default:
		return "unexpected error"
	}
}
