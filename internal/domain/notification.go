package domain

import (
	"strconv"
	"time"
)

// Notification is an after-the-fact record of a state change, delivered to external consumers.
type Notification interface {
	// Kind is a stable dotted name such as "ticket.purchased".
	Kind() string
	// Key groups notifications that must stay ordered relative to each other.
	Key() string
}

type EventCreated struct {
	EventID    int64     `json:"event_id"`
	Name       string    `json:"name"`
	Price      int64     `json:"price"`
	MaxTickets int       `json:"max_tickets"`
	StartsAt   time.Time `json:"starts_at"`
}

func (EventCreated) Kind() string  { return "event.created" }
func (n EventCreated) Key() string { return eventKey(n.EventID) }

type EventActivityChanged struct {
	EventID int64 `json:"event_id"`
	Active  bool  `json:"active"`
}

func (EventActivityChanged) Kind() string  { return "event.activity_changed" }
func (n EventActivityChanged) Key() string { return eventKey(n.EventID) }

type TicketPurchased struct {
	TicketID    int64     `json:"ticket_id"`
	EventID     int64     `json:"event_id"`
	Holder      string    `json:"holder"`
	Price       int64     `json:"price"`
	PurchasedAt time.Time `json:"purchased_at"`
}

func (TicketPurchased) Kind() string  { return "ticket.purchased" }
func (n TicketPurchased) Key() string { return eventKey(n.EventID) }

type TicketUsed struct {
	TicketID int64     `json:"ticket_id"`
	EventID  int64     `json:"event_id"`
	Holder   string    `json:"holder"`
	UsedAt   time.Time `json:"used_at"`
}

func (TicketUsed) Kind() string  { return "ticket.used" }
func (n TicketUsed) Key() string { return eventKey(n.EventID) }

type TicketTransferred struct {
	TicketID int64  `json:"ticket_id"`
	EventID  int64  `json:"event_id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

func (TicketTransferred) Kind() string  { return "ticket.transferred" }
func (n TicketTransferred) Key() string { return eventKey(n.EventID) }

func eventKey(id int64) string {
	return "event-" + strconv.FormatInt(id, 10)
}
