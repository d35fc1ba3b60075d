package domain

import (
	"context"
	"errors"
)

// Error taxonomy shared by stores and services. Call sites wrap these with
// fmt.Errorf("%w: ...") and callers match with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("conflict")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyClaimed    = errors.New("job already claimed")
	ErrInfrastructure    = errors.New("infrastructure error")
)

// IsRetryable reports whether a failure is transient and worth another attempt.
// Caller-fault errors are never retryable; anything unclassified is assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrInfrastructure), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return true
}
