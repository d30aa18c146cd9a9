package types

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrFocusFailed         = errors.New("focus failed")
	ErrWriteFailed         = errors.New("write failed")

	ErrAlreadyRunning = errors.New("a sequence is already running")
	ErrNotRunning     = errors.New("no sequence is running")
)

// CaptureError is a failure of the capture pipeline. Kind is one of
// ErrResourceUnavailable, ErrFocusFailed or ErrWriteFailed.
type CaptureError struct {
	Kind error
	Err  error
}

func NewCaptureError(kind, err error) *CaptureError {
	return &CaptureError{Kind: kind, Err: err}
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
