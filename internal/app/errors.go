package app

import (
	"errors"
	"fmt"
)

var (
	ErrSignatureInvalid  = errors.New("payment signature invalid")
	ErrGatewayDeclined   = errors.New("payment declined by gateway")
	ErrUnknownReference  = errors.New("payment reference does not resolve to a record")
	ErrAlreadySettled    = errors.New("payment already settled")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidStatus     = errors.New("unknown status")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrAmountMismatch    = errors.New("paid amount does not match record")
	ErrForbidden         = errors.New("forbidden")
	ErrRateLimited       = errors.New("too many payment attempts")
	ErrInvalidReport     = errors.New("invalid report request")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrUnknownPackage    = errors.New("unknown premium package")
)

// RateLimitError carries the wait before another payment session may be created.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %ds", ErrRateLimited, e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
