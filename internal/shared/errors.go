package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor lacks the capability an operation
	// requires. Raised before any state is touched.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates a malformed request payload.
	ErrValidation = errors.New("validation failed")
)
