package config

import "errors"

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrUnavailable is returned when the store cannot be reached or a query
// fails for a reason other than a missing row. Callers surface it as a
// server error and never treat it as ErrNotFound.
var ErrUnavailable = errors.New("storage unavailable")

// UnavailableError wraps a driver or transport failure. It matches both
// ErrUnavailable and the underlying error under errors.Is.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return e.Op + ": " + ErrUnavailable.Error() + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}

// MetadataError reports that a key row was written but its metadata row was
// not. The key remains valid; the caller decides how to surface the gap.
type MetadataError struct {
	KeyID string
	Err   error
}

func (e *MetadataError) Error() string {
	return "api key " + e.KeyID + " created without metadata: " + e.Err.Error()
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}
