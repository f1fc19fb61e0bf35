package server

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the engine. The HTTP layer maps each kind to
// a status code with errors.Is; store failures it cannot classify are
// wrapped as ErrUnknown with the cause in the message.
var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBadRequest    = errors.New("bad request")
	ErrUnprocessable = errors.New("unprocessable payload")
	ErrConflict      = errors.New("conflict")
	ErrUnknown       = errors.New("storage failure")
)

// storeErr wraps an unexpected store-layer failure as ErrUnknown.
// Retrying is an outer layer's decision; the engine only propagates.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnknown, op, err)
}
