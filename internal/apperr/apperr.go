// Package apperr classifies errors by propagation policy: whether a
// caller should retry, surface to telemetry, or halt the process.
package apperr

import (
	"errors"
	"fmt"
)

// Class is one of the five propagation categories.
type Class string

const (
	// ClassTransientExternal is a retryable failure of an external system
	// (network blip, 5xx, broker rate-limit). Callers retry with backoff.
	ClassTransientExternal Class = "transient_external"
	// ClassPermanentExternal is a non-retryable external rejection (4xx
	// other than auth, malformed request the broker refuses outright).
	ClassPermanentExternal Class = "permanent_external"
	// ClassInvariantViolation means internal state contradicts an
	// assumption the code relies on; always logged, usually fatal to the
	// current job, never silently swallowed.
	ClassInvariantViolation Class = "invariant_violation"
	// ClassBusinessRejection is an expected refusal by a business rule
	// (correlation cap, sector cap, insufficient confidence). Not an
	// error in the operational sense; logged at info/debug.
	ClassBusinessRejection Class = "business_rejection"
	// ClassCatastrophic threatens money or data safety (token persistence
	// failure, database corruption). Surfaces as fatal to the process.
	ClassCatastrophic Class = "catastrophic"
)

// Error wraps an underlying cause with a Class and a stable Tag used for
// ErrorLogRow's type_tag and for typed dispatch in retry policies.
type Error struct {
	Class Class
	Tag   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Class, e.Tag)
	}
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Tag, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified Error.
func New(class Class, tag string, err error) *Error {
	return &Error{Class: class, Tag: tag, Err: err}
}

// Transient wraps err as a retryable external failure.
func Transient(tag string, err error) *Error {
	return New(ClassTransientExternal, tag, err)
}

// Permanent wraps err as a non-retryable external rejection.
func Permanent(tag string, err error) *Error {
	return New(ClassPermanentExternal, tag, err)
}

// Invariant wraps err as an internal invariant violation.
func Invariant(tag string, err error) *Error {
	return New(ClassInvariantViolation, tag, err)
}

// BusinessRejection wraps a business-rule refusal; not an operational error.
func BusinessRejection(tag string, err error) *Error {
	return New(ClassBusinessRejection, tag, err)
}

// Catastrophic wraps err as a process-fatal failure.
func Catastrophic(tag string, err error) *Error {
	return New(ClassCatastrophic, tag, err)
}

// Retryable reports whether the retry policy should attempt this error
// again, independent of attempt counting.
func Retryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Class == ClassTransientExternal
	}
	return false
}
