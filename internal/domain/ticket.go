package domain

import "time"

// Ticket is a single-entry credential for one event, held by exactly one identity.
type Ticket struct {
	ID          int64
	EventID     int64
	Holder      string
	Used        bool
	PurchasedAt time.Time
	UsedAt      *time.Time
}

// ValidAt reports whether the ticket would still admit its holder at now.
func (t Ticket) ValidAt(event Event, now time.Time) bool {
	return !t.Used && event.Active && now.Before(event.StartsAt)
}

// CheckRedemption applies the redemption preconditions that follow the existence check.
func CheckRedemption(t Ticket, event Event, now time.Time) error {
	if t.Used {
		return ErrAlreadyUsed
	}
	if !event.Active {
		return ErrInactiveEvent
	}
	if !event.InRedemptionWindow(now) {
		return ErrOutsideRedemptionWindow
	}
	return nil
}

// CheckTransfer validates a holder change.
func CheckTransfer(t Ticket, from, to string) error {
	if to == "" {
		return ErrHolderRequired
	}
	if t.Holder != from {
		return ErrNotOwner
	}
	return nil
}
