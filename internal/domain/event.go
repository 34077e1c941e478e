package domain

import (
	"math"
	"time"
)

const (
	// MaxTicketsPerUser caps how many tickets one identity may buy for one event.
	MaxTicketsPerUser = 5
	// MaxTicketsPerPurchase caps the quantity of a single purchase.
	MaxTicketsPerPurchase = 5

	RedemptionOpensBefore = 2 * time.Hour
	RedemptionClosesAfter = 6 * time.Hour
)

// Event is a priced, capacity-bounded inventory of tickets for one scheduled occasion.
type Event struct {
	ID          int64
	Name        string
	Price       int64
	MaxTickets  int
	TicketsSold int
	StartsAt    time.Time
	Active      bool
	CreatedAt   time.Time
}

// NewEvent validates creation arguments and returns an active event with no id assigned yet.
func NewEvent(name string, price int64, maxTickets int, startsAt, now time.Time) (Event, error) {
	if name == "" {
		return Event{}, ErrEventNameRequired
	}
	if price <= 0 {
		return Event{}, ErrInvalidPrice
	}
	if maxTickets <= 0 {
		return Event{}, ErrInvalidCapacity
	}
	if !startsAt.After(now) {
		return Event{}, ErrEventInPast
	}
	return Event{
		Name:       name,
		Price:      price,
		MaxTickets: maxTickets,
		StartsAt:   startsAt.UTC(),
		Active:     true,
		CreatedAt:  now,
	}, nil
}

func (e Event) Remaining() int {
	return e.MaxTickets - e.TicketsSold
}

// Cost returns price*quantity, or false when the product overflows int64.
func (e Event) Cost(quantity int) (int64, bool) {
	if quantity <= 0 {
		return 0, quantity == 0
	}
	if e.Price > math.MaxInt64/int64(quantity) {
		return 0, false
	}
	return e.Price * int64(quantity), true
}

// RedemptionWindow returns the inclusive bounds during which tickets may be redeemed.
func (e Event) RedemptionWindow() (opens, closes time.Time) {
	return e.StartsAt.Add(-RedemptionOpensBefore), e.StartsAt.Add(RedemptionClosesAfter)
}

func (e Event) InRedemptionWindow(now time.Time) bool {
	opens, closes := e.RedemptionWindow()
	return !now.Before(opens) && !now.After(closes)
}

// PurchaseRequest carries everything CheckPurchase needs to decide a purchase.
type PurchaseRequest struct {
	Buyer    string
	Quantity int
	Paid     int64
	// Held is the buyer's purchase-time count for the event before this purchase.
	Held int
	Now  time.Time
}

// CheckPurchase applies the purchase preconditions in order; the first failure wins.
// A nil event means the event does not exist, which reports ErrInactiveEvent.
func CheckPurchase(event *Event, req PurchaseRequest) error {
	if event == nil || !event.Active {
		return ErrInactiveEvent
	}
	if req.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if req.Buyer == "" {
		return ErrHolderRequired
	}
	if req.Quantity > MaxTicketsPerPurchase {
		return ErrQuantityExceedsPerTxLimit
	}
	if req.Held+req.Quantity > MaxTicketsPerUser {
		return ErrPerUserLimitExceeded
	}
	if event.TicketsSold+req.Quantity > event.MaxTickets {
		return ErrSoldOut
	}
	if cost, ok := event.Cost(req.Quantity); !ok || cost != req.Paid {
		return ErrIncorrectPayment
	}
	if !req.Now.Before(event.StartsAt) {
		return ErrEventAlreadyOccurred
	}
	return nil
}
