package search

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrDocumentUnavailable is returned for documents that do not exist and
	// for documents the caller may not see. The two cases are indistinguishable.
	ErrDocumentUnavailable = errors.New("document not available")
)

type BackendErrorKind string

const (
	BackendTimeout   BackendErrorKind = "timeout"
	BackendTransient BackendErrorKind = "transient"
	BackendTerminal  BackendErrorKind = "terminal"
)

// BackendError is a classified retrieval backend failure.
type BackendError struct {
	Kind      BackendErrorKind
	Operation string
	Cause     error
}

func (e *BackendError) Error() string {
	if e == nil {
		return "retrieval backend failed"
	}
	if e.Cause == nil {
		return fmt.Sprintf("retrieval backend failed (op=%s kind=%s)", e.Operation, e.Kind)
	}
	return fmt.Sprintf("retrieval backend failed (op=%s kind=%s): %v", e.Operation, e.Kind, e.Cause)
}

func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewBackendError builds a BackendError of the given kind.
func NewBackendError(op string, kind BackendErrorKind, cause error) error {
	return &BackendError{Kind: kind, Operation: op, Cause: cause}
}

// IsTimeout reports whether err is a backend timeout.
func IsTimeout(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == BackendTimeout
}

// classify turns err into a BackendError unless it already is one. Deadline
// errors become timeouts; anything else unclassified is treated as transient.
func classify(op string, err error) error {
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewBackendError(op, BackendTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return NewBackendError(op, BackendTransient, err)
	}
}
