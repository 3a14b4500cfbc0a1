package domain

import "errors"

// Error kinds returned by the engine. Callers match them with errors.Is;
// returned errors wrap these with context.
var (
	ErrNotFound            = errors.New("not found")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrAlreadyListed       = errors.New("already listed")
	ErrNotActive           = errors.New("listing not active")
	ErrListingStale        = errors.New("listing stale: seller no longer holds asset")
	ErrZeroPrincipal       = errors.New("zero principal")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTicketTooLarge      = errors.New("ticket exceeds driver capacity")
)
