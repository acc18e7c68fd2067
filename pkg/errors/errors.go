package errors

import (
	"errors"
	"fmt"
)

// Domain error types for the pipeline

var (
	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")
)

// Processing errors

var (
	// ErrRejected indicates a record failed a cleaning/validation check
	ErrRejected = errors.New("record rejected")

	// ErrQueueClosed indicates the intake queue was closed
	ErrQueueClosed = errors.New("intake queue closed")

	// ErrQueueFull indicates the intake queue is at capacity
	ErrQueueFull = errors.New("intake queue full")
)

// Bus and storage errors

var (
	// ErrBusUnavailable indicates the stream bus cannot be reached
	ErrBusUnavailable = errors.New("stream bus unavailable")

	// ErrFlushFailed indicates an archive batch write failed
	ErrFlushFailed = errors.New("archive flush failed")
)

// RejectionError carries the reason a record was dropped by a cleaning step
type RejectionError struct {
	Step   string
	Reason string
}

// Error implements the error interface
func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected by %s: %s", e.Step, e.Reason)
}

// Unwrap lets errors.Is match ErrRejected
func (e *RejectionError) Unwrap() error {
	return ErrRejected
}

// NewRejection creates a rejection error for a cleaning step
func NewRejection(step, reason string) *RejectionError {
	return &RejectionError{Step: step, Reason: reason}
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
