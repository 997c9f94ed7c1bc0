package kin

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to these so callers can use errors.Is.
var (
	ErrInput     = errors.New("invalid input")
	ErrAmbiguous = errors.New("ambiguous match")
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrAdapter   = errors.New("adapter failure")
)

// InputError reports a malformed signal. The signal is skipped; resolution continues.
type InputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInput }

// ConflictError reports a write that would give two persons the same identifier.
type ConflictError struct {
	Field      string
	Value      string
	ExistingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already belongs to person %s", e.Field, e.Value, e.ExistingID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// AdapterError wraps a failed or partial adapter fetch.
type AdapterError struct {
	Adapter  string
	Attempts int
	Partial  bool
	Err      error
}

func (e *AdapterError) Error() string {
	kind := "failed"
	if e.Partial {
		kind = "returned partial results"
	}
	return fmt.Sprintf("adapter %s %s after %d attempt(s): %v", e.Adapter, kind, e.Attempts, e.Err)
}

func (e *AdapterError) Unwrap() []error { return []error{ErrAdapter, e.Err} }
