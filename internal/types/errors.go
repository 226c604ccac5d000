package types

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================
//
// Three classes cover everything the core can reject. None of them is
// fatal: a rejected event leaves tracker state untouched and later
// events process normally. The core never retries internally.

// ValidationError marks a malformed event: missing required fields or
// an invalid enum value. The event is rejected before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InvariantViolation marks an event that is well-formed but would break
// a structural invariant (a Return with no open loop, a constraint
// cycle). The attempted change is rolled back entirely.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

// ConfigurationError is surfaced at configuration-load time, before any
// event is processed.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Key, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsInvariant reports whether err is (or wraps) an InvariantViolation.
func IsInvariant(err error) bool {
	var v *InvariantViolation
	return errors.As(err, &v)
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var v *ConfigurationError
	return errors.As(err, &v)
}
