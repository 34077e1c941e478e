// Package memory is an in-process authoritative store for the catalog and the ledger.
//
// Transactions are serialized behind one writer lock, matching the single-authority execution model;
// writes made inside a failed transaction are undone in reverse order before the lock is released.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cimillas/ticket-ledger/internal/domain"
)

type holderKey struct {
	eventID int64
	holder  string
}

type Store struct {
	mu sync.RWMutex

	events       []domain.Event
	tickets      []domain.Ticket
	holderCounts map[holderKey]int

	nextEventID  int64
	nextTicketID int64
}

func NewStore() *Store {
	return &Store{holderCounts: make(map[holderKey]int)}
}

type txKey struct{}

type tx struct {
	store *Store
	undo  []func()
}

func (t *tx) onRollback(fn func()) {
	if t != nil {
		t.undo = append(t.undo, fn)
	}
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (s *Store) txFromContext(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	if t == nil || t.store != s {
		return nil
	}
	return t
}

// WithTx runs fn with exclusive access to the store. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFromContext(ctx) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (s *Store) read(ctx context.Context, fn func()) {
	if s.txFromContext(ctx) != nil {
		fn()
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

func (s *Store) write(ctx context.Context, fn func(t *tx) error) error {
	if t := s.txFromContext(ctx); t != nil {
		return fn(t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(nil)
}

func (s *Store) NextEventID(ctx context.Context) (int64, error) {
	var id int64
	err := s.write(ctx, func(t *tx) error {
		id = s.nextEventID
		s.nextEventID++
		t.onRollback(func() { s.nextEventID-- })
		return nil
	})
	return id, err
}

func (s *Store) InsertEvent(ctx context.Context, event domain.Event) error {
	return s.write(ctx, func(t *tx) error {
		if event.ID != int64(len(s.events)) {
			return fmt.Errorf("insert event: id %d out of sequence, expected %d", event.ID, len(s.events))
		}
		s.events = append(s.events, event)
		t.onRollback(func() { s.events = s.events[:len(s.events)-1] })
		return nil
	})
}

func (s *Store) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	var (
		event domain.Event
		err   error
	)
	s.read(ctx, func() {
		event, err = s.eventLocked(id)
	})
	return event, err
}

// GetEventForUpdate is GetEvent; the transaction already holds the writer lock.
func (s *Store) GetEventForUpdate(ctx context.Context, id int64) (domain.Event, error) {
	return s.GetEvent(ctx, id)
}

func (s *Store) eventLocked(id int64) (domain.Event, error) {
	if id < 0 || id >= int64(len(s.events)) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return s.events[id], nil
}

func (s *Store) SetEventActive(ctx context.Context, id int64, active bool) error {
	return s.write(ctx, func(t *tx) error {
		if _, err := s.eventLocked(id); err != nil {
			return err
		}
		prev := s.events[id].Active
		s.events[id].Active = active
		t.onRollback(func() { s.events[id].Active = prev })
		return nil
	})
}

func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	var events []domain.Event
	s.read(ctx, func() {
		events = make([]domain.Event, len(s.events))
		copy(events, s.events)
	})
	return events, nil
}

func (s *Store) AddTicketsSold(ctx context.Context, eventID int64, n int) error {
	return s.write(ctx, func(t *tx) error {
		event, err := s.eventLocked(eventID)
		if err != nil {
			return err
		}
		if event.TicketsSold+n > event.MaxTickets {
			return fmt.Errorf("add tickets sold: event %d would exceed capacity", eventID)
		}
		s.events[eventID].TicketsSold += n
		t.onRollback(func() { s.events[eventID].TicketsSold -= n })
		return nil
	})
}

func (s *Store) HolderCount(ctx context.Context, eventID int64, holder string) (int, error) {
	var n int
	s.read(ctx, func() {
		n = s.holderCounts[holderKey{eventID: eventID, holder: holder}]
	})
	return n, nil
}

func (s *Store) AddHolderCount(ctx context.Context, eventID int64, holder string, n int) error {
	return s.write(ctx, func(t *tx) error {
		key := holderKey{eventID: eventID, holder: holder}
		prev, existed := s.holderCounts[key]
		s.holderCounts[key] = prev + n
		t.onRollback(func() {
			if existed {
				s.holderCounts[key] = prev
			} else {
				delete(s.holderCounts, key)
			}
		})
		return nil
	})
}

func (s *Store) NextTicketIDs(ctx context.Context, n int) (int64, error) {
	var first int64
	err := s.write(ctx, func(t *tx) error {
		if n <= 0 {
			return fmt.Errorf("reserve ticket ids: invalid count %d", n)
		}
		first = s.nextTicketID
		s.nextTicketID += int64(n)
		t.onRollback(func() { s.nextTicketID -= int64(n) })
		return nil
	})
	return first, err
}

func (s *Store) InsertTickets(ctx context.Context, tickets []domain.Ticket) error {
	return s.write(ctx, func(t *tx) error {
		for i, ticket := range tickets {
			if want := int64(len(s.tickets) + i); ticket.ID != want {
				return fmt.Errorf("insert tickets: id %d out of sequence, expected %d", ticket.ID, want)
			}
		}
		before := len(s.tickets)
		for _, ticket := range tickets {
			s.tickets = append(s.tickets, cloneTicket(ticket))
		}
		t.onRollback(func() { s.tickets = s.tickets[:before] })
		return nil
	})
}

func (s *Store) GetTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	var (
		ticket domain.Ticket
		err    error
	)
	s.read(ctx, func() {
		ticket, err = s.ticketLocked(id)
	})
	return ticket, err
}

func (s *Store) GetTicketForUpdate(ctx context.Context, id int64) (domain.Ticket, error) {
	return s.GetTicket(ctx, id)
}

func (s *Store) ticketLocked(id int64) (domain.Ticket, error) {
	if id < 0 || id >= int64(len(s.tickets)) {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return cloneTicket(s.tickets[id]), nil
}

func (s *Store) MarkTicketUsed(ctx context.Context, ticket domain.Ticket) error {
	return s.write(ctx, func(t *tx) error {
		if _, err := s.ticketLocked(ticket.ID); err != nil {
			return err
		}
		prev := s.tickets[ticket.ID]
		if prev.Used {
			return domain.ErrAlreadyUsed
		}
		usedAt := time.Time{}
		if ticket.UsedAt != nil {
			usedAt = *ticket.UsedAt
		}
		s.tickets[ticket.ID].Used = true
		s.tickets[ticket.ID].UsedAt = &usedAt
		t.onRollback(func() { s.tickets[ticket.ID] = prev })
		return nil
	})
}

func (s *Store) SetTicketHolder(ctx context.Context, id int64, holder string) error {
	return s.write(ctx, func(t *tx) error {
		if _, err := s.ticketLocked(id); err != nil {
			return err
		}
		prev := s.tickets[id].Holder
		s.tickets[id].Holder = holder
		t.onRollback(func() { s.tickets[id].Holder = prev })
		return nil
	})
}

func (s *Store) ListTicketsByHolder(ctx context.Context, holder string) ([]domain.Ticket, error) {
	var out []domain.Ticket
	s.read(ctx, func() {
		for _, ticket := range s.tickets {
			if ticket.Holder == holder {
				out = append(out, cloneTicket(ticket))
			}
		}
	})
	return out, nil
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	if t.UsedAt != nil {
		at := *t.UsedAt
		t.UsedAt = &at
	}
	return t
}
