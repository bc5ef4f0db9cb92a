package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidConfig        = errors.New("invalid connection config")
	ErrInvalidSpecification = errors.New("invalid output specification")
	ErrMalformedDescription = errors.New("malformed output description")
	ErrNotConnected         = errors.New("connector not connected")
	ErrRepository           = errors.New("docs4u repository error")
	ErrInterrupted          = errors.New("interrupted")
	ErrLockTimeout          = errors.New("lock wait timed out")
	ErrInvalidBackend       = errors.New("invalid backend")
	ErrDataStoreAccess      = errors.New("data store read/write error")
)

func Err(typedError error, innerErr error, msgTemplate string, args ...any) error {
	if msgTemplate == "" {
		return errors.Join(typedError, innerErr)
	} else {
		return errors.Join(typedError, innerErr, fmt.Errorf(msgTemplate, args...))
	}
}

// ServiceInterruption is the transient failure class: the caller should retry the
// operation once RetryAfter has passed.
type ServiceInterruption struct {
	Message    string
	RetryAfter time.Time
	Err        error
}

func (e *ServiceInterruption) Error() string {
	if e.RetryAfter.IsZero() {
		return fmt.Sprintf("service interruption: %s", e.Message)
	}
	return fmt.Sprintf("service interruption: %s (retry after %s)", e.Message, e.RetryAfter.Format(time.RFC3339))
}

func (e *ServiceInterruption) Unwrap() error { return e.Err }

// IsInterrupted reports whether err means the operation was cancelled rather than failed.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}

// Interrupted wraps err so that it carries ErrInterrupted.
func Interrupted(err error) error {
	if errors.Is(err, ErrInterrupted) {
		return err
	}
	return errors.Join(ErrInterrupted, err)
}
