package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")

	ErrEventNotFound  = fmt.Errorf("event %w", ErrNotFound)
	ErrTicketNotFound = fmt.Errorf("ticket %w", ErrNotFound)

	ErrEventNameRequired = fmt.Errorf("%w: event name required", ErrInvalidInput)
	ErrInvalidPrice      = fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	ErrInvalidCapacity   = fmt.Errorf("%w: max tickets must be positive", ErrInvalidInput)
	ErrEventInPast       = fmt.Errorf("%w: event must start in the future", ErrInvalidInput)
	ErrInvalidQuantity   = fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	ErrHolderRequired    = fmt.Errorf("%w: holder required", ErrInvalidInput)

	ErrInactiveEvent             = errors.New("event is not active")
	ErrSoldOut                   = errors.New("sold out")
	ErrQuantityExceedsPerTxLimit = errors.New("quantity exceeds per-purchase limit")
	ErrPerUserLimitExceeded      = errors.New("per-user ticket limit exceeded")
	ErrIncorrectPayment          = errors.New("incorrect payment amount")
	ErrEventAlreadyOccurred      = errors.New("event already occurred")
	ErrAlreadyUsed               = errors.New("ticket already used")
	ErrOutsideRedemptionWindow   = errors.New("outside redemption window")
	ErrNotOwner                  = errors.New("not ticket owner")
)

// IsRejection reports whether err is a business-rule rejection rather than an infrastructure failure.
func IsRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var rejections = []error{
	ErrInvalidInput,
	ErrUnauthorized,
	ErrNotFound,
	ErrInactiveEvent,
	ErrSoldOut,
	ErrQuantityExceedsPerTxLimit,
	ErrPerUserLimitExceeded,
	ErrIncorrectPayment,
	ErrEventAlreadyOccurred,
	ErrAlreadyUsed,
	ErrOutsideRedemptionWindow,
	ErrNotOwner,
}

// Reason returns a stable snake_case name for a rejection, or "internal" for anything else.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, ErrTicketNotFound):
		return "ticket_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInactiveEvent):
		return "inactive_event"
	case errors.Is(err, ErrSoldOut):
		return "sold_out"
	case errors.Is(err, ErrQuantityExceedsPerTxLimit):
		return "quantity_exceeds_per_tx_limit"
	case errors.Is(err, ErrPerUserLimitExceeded):
		return "per_user_limit_exceeded"
	case errors.Is(err, ErrIncorrectPayment):
		return "incorrect_payment"
	case errors.Is(err, ErrEventAlreadyOccurred):
		return "event_already_occurred"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrOutsideRedemptionWindow):
		return "outside_redemption_window"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	default:
		return "internal"
	}
}
