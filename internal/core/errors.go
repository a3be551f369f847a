// Package core defines the fundamental types and errors for Second Brain.
package core

import (
	"errors"
	"fmt"
)

// Core errors that can occur across the system
var (
	// Storage errors
	ErrRecordNotFound   = errors.New("record not found")
	ErrDuplicateRecord  = errors.New("duplicate record")
	ErrStateConflict    = errors.New("conversation state was modified concurrently")
	ErrRunInProgress    = errors.New("a pipeline run is already in progress")
	ErrAlreadyCaptured  = errors.New("capture was already processed")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrNoPendingList    = errors.New("no recent list for this thread")
	ErrSelectionRange   = errors.New("selection out of range")
	ErrNothingToFix     = errors.New("no recent capture to fix for this thread")
	ErrMissingRequired  = errors.New("missing required field")
	ErrUnauthorized     = errors.New("invalid webhook signature")
	ErrAdapterUnknown   = errors.New("unknown adapter name")
	ErrClassifierFailed = errors.New("classification failed")
)

// TransientError marks a failure worth retrying: rate limits, timeouts,
// flaky networks. Retry loops unwrap errors with IsTransient before backing
// off; anything else is treated as permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ValidationError is a user-correctable mistake in a chat command. The reply
// text tells the user what to send instead; conversation state is left alone.
type ValidationError struct {
	Reply string
}

func (e *ValidationError) Error() string {
	return e.Reply
}

// Invalid builds a ValidationError with a corrective reply.
func Invalid(format string, args ...interface{}) error {
	return &ValidationError{Reply: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a user-correctable command error and
// returns its corrective reply text.
func IsValidation(err error) (string, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reply, true
	}
	return "", false
}
