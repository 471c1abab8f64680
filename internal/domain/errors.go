package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the coarse classification surfaced to callers when an
// acquisition fails.
type ErrorKind string

const (
	KindResolution ErrorKind = "resolution"
	KindNetwork    ErrorKind = "network"
	KindFormat     ErrorKind = "format"
	KindFilesystem ErrorKind = "filesystem"
	KindCanceled   ErrorKind = "canceled"
	KindUnknown    ErrorKind = "unknown"
)

// ErrInFlight is returned by Ensure while another acquisition is resolving or extracting
var ErrInFlight = errors.New("acquisition already in flight")

// ErrNoSource indicates neither a bundled archive nor a remote URL is available
var ErrNoSource = errors.New("no payload source available")

// ErrNoPayloadEntry indicates the container ended without a file entry
var ErrNoPayloadEntry = errors.New("container has no payload entry")

// ErrUnsupportedEntry indicates an entry the stream reader cannot decode (encrypted, unknown method, ...)
var ErrUnsupportedEntry = errors.New("unsupported container entry")

// Error carries a classification alongside the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind. A nil err yields nil.
func NewError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the classification of err. Context cancellation and deadline
// errors are reported as KindCanceled even when wrapped by another kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
