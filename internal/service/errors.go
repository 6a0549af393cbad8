package service

import "errors"

// ErrValidation marks caller input that can never succeed as sent.
var ErrValidation = errors.New("validation failed")

// ErrUnavailable marks an infrastructure failure (store or limiter) that the
// caller may retry later. It is never used for an unknown or revoked key.
var ErrUnavailable = errors.New("service unavailable")

// ValidationError describes the rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
