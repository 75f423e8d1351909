package models

import (
	"errors"
	"fmt"
)

// Business-rule failures. These are expected, recoverable-by-the-caller
// conditions; the core never retries them.
var (
	ErrUnauthorized = errors.New("no authenticated actor")
	ErrNotFound     = errors.New("not found")

	// ErrCargoUnavailable means the cargo offer is no longer NEW at
	// assignment time: the dispatcher lost a race or the offer was
	// already handled.
	ErrCargoUnavailable = errors.New("this offer is no longer available for assignment")

	// ErrVehicleUnavailable means the vehicle is not idle at assignment time.
	ErrVehicleUnavailable = errors.New("this vehicle is no longer available for assignment")

	ErrForbidden = errors.New("action not permitted for this user")
)

// ValidationError reports malformed input on a specific field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a storage failure so callers can tell
// infrastructure trouble apart from business-rule rejections. A read-only
// query path may degrade on it; a transactional path must propagate it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err originates in the storage layer.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
