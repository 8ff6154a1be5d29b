package types

import "errors"

// Domain errors returned by the exchange engine. Handlers translate these
// into HTTP status codes.
var (
	ErrInvalidOrder      = errors.New("invalid order: amount and price must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds to cover order")
	ErrOrderNotFound     = errors.New("order not found")
	ErrNotCancellable    = errors.New("order is not cancellable")
	ErrForbidden         = errors.New("order belongs to another account")
)
