package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the chat domain. Every error returned by stores,
// services and the gateway wraps exactly one of these so callers can branch
// with errors.Is regardless of how much context was added on the way up.
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("requested resource not found")
	ErrAuth       = errors.New("authentication failed")
)

// Wire codes reported to clients.
const (
	CodeValidation = "validation"
	CodeForbidden  = "forbidden"
	CodeConflict   = "conflict"
	CodeNotFound   = "not_found"
	CodeAuth       = "auth"
	CodeInternal   = "internal"
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Authf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuth, fmt.Sprintf(format, args...))
}

// Code maps an error to its wire code. Errors outside the taxonomy are
// reported as internal.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAuth):
		return CodeAuth
	default:
		return CodeInternal
	}
}

// PublicMessage returns the text that is safe to show a client. Internal
// errors are not echoed since they may carry queries or driver details.
func PublicMessage(err error) string {
	if Code(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
