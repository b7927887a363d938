package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the execution core. Callers match with errors.Is
// and map each kind to a specific user-visible rejection.
var (
	// Ledger errors
	ErrInsufficientCapital   = errors.New("insufficient capital")
	ErrExposureLimitExceeded = errors.New("exposure limit exceeded")
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrReservationExceeded   = errors.New("commit exceeds reserved amount")

	// Gating errors
	ErrConfidenceTooLow     = errors.New("confidence below configured minimum")
	ErrConfirmationRejected = errors.New("confirmation rejected by operator")
	ErrConfirmationExpired  = errors.New("confirmation expired")
	ErrTicketNotFound       = errors.New("confirmation ticket not found")
	ErrTicketConsumed       = errors.New("confirmation ticket already consumed")

	// Order errors
	ErrValidation     = errors.New("validation failed")
	ErrDuplicateOrder = errors.New("duplicate client order id")
	ErrOrderNotFound  = errors.New("order not found")
	ErrEntryTimeout   = errors.New("entry order timed out")

	// State errors
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionTerminal = errors.New("position already terminal")
	ErrReconciliation   = errors.New("venue state disagrees with local state")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

func wrapValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
