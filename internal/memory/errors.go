package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition signals a plan status change the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid plan status transition")
	// ErrUnknownReceiver signals a directed conversation naming an agent
	// that is not on the roster.
	ErrUnknownReceiver = errors.New("unknown conversation receiver")
	// ErrPlanNotFound signals a status update against a missing plan id.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrClosed signals use of a store after Close.
	ErrClosed = errors.New("store is closed")
)

// StorageError wraps an underlying storage failure. Unlike the sentinel
// errors above, these mean the log can no longer be trusted and the
// simulation must halt.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsFatal reports whether err is a storage failure rather than a
// rejected-input sentinel.
func IsFatal(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
