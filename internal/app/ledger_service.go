package app

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cimillas/ticket-ledger/internal/auth"
	"github.com/cimillas/ticket-ledger/internal/clock"
	"github.com/cimillas/ticket-ledger/internal/domain"
)

type LedgerRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetEvent(ctx context.Context, id int64) (domain.Event, error)
	GetEventForUpdate(ctx context.Context, id int64) (domain.Event, error)
	AddTicketsSold(ctx context.Context, eventID int64, n int) error
	HolderCount(ctx context.Context, eventID int64, holder string) (int, error)
	AddHolderCount(ctx context.Context, eventID int64, holder string, n int) error
	// NextTicketIDs reserves n consecutive ticket ids and returns the first.
	NextTicketIDs(ctx context.Context, n int) (int64, error)
	InsertTickets(ctx context.Context, tickets []domain.Ticket) error
	GetTicket(ctx context.Context, id int64) (domain.Ticket, error)
	GetTicketForUpdate(ctx context.Context, id int64) (domain.Ticket, error)
	MarkTicketUsed(ctx context.Context, t domain.Ticket) error
	SetTicketHolder(ctx context.Context, id int64, holder string) error
	ListTicketsByHolder(ctx context.Context, holder string) ([]domain.Ticket, error)
}

// LedgerService owns tickets: purchase, redemption, transfer and validity checks.
type LedgerService struct {
	repo   LedgerRepository
	clock  clock.Clock
	policy auth.Policy
	obs    observers
}

func NewLedgerService(repo LedgerRepository, clk clock.Clock, policy auth.Policy, opts ...Option) *LedgerService {
	obs := defaultObservers()
	for _, opt := range opts {
		opt(&obs)
	}
	return &LedgerService{
		repo:   repo,
		clock:  clk,
		policy: policy,
		obs:    obs,
	}
}

type PurchaseInput struct {
	EventID  int64
	Buyer    string
	Quantity int
	Paid     int64
}

// PurchaseTickets mints Quantity tickets for Buyer, all or nothing. Tickets are returned in mint order.
func (s *LedgerService) PurchaseTickets(ctx context.Context, in PurchaseInput) (tickets []domain.Ticket, err error) {
	const op = "ledger.PurchaseTickets"
	ctx, span := s.obs.start(ctx, op,
		attribute.Int64("ledger.event_id", in.EventID),
		attribute.Int("ledger.quantity", in.Quantity),
	)
	defer func() { s.obs.finish(span, op, err) }()

	now := s.clock.Now()
	var pending []domain.Notification

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		var event *domain.Event
		found, err := s.repo.GetEventForUpdate(txCtx, in.EventID)
		switch {
		case err == nil:
			event = &found
		case !errors.Is(err, domain.ErrEventNotFound):
			return err
		}

		held := 0
		if event != nil && in.Buyer != "" {
			if held, err = s.repo.HolderCount(txCtx, in.EventID, in.Buyer); err != nil {
				return err
			}
		}

		if err := domain.CheckPurchase(event, domain.PurchaseRequest{
			Buyer:    in.Buyer,
			Quantity: in.Quantity,
			Paid:     in.Paid,
			Held:     held,
			Now:      now,
		}); err != nil {
			return err
		}

		first, err := s.repo.NextTicketIDs(txCtx, in.Quantity)
		if err != nil {
			return err
		}
		minted := make([]domain.Ticket, in.Quantity)
		pending = make([]domain.Notification, 0, in.Quantity)
		for i := range minted {
			minted[i] = domain.Ticket{
				ID:          first + int64(i),
				EventID:     in.EventID,
				Holder:      in.Buyer,
				PurchasedAt: now,
			}
			pending = append(pending, domain.TicketPurchased{
				TicketID:    minted[i].ID,
				EventID:     in.EventID,
				Holder:      in.Buyer,
				Price:       event.Price,
				PurchasedAt: now,
			})
		}

		if err := s.repo.InsertTickets(txCtx, minted); err != nil {
			return err
		}
		if err := s.repo.AddTicketsSold(txCtx, in.EventID, in.Quantity); err != nil {
			return err
		}
		if err := s.repo.AddHolderCount(txCtx, in.EventID, in.Buyer, in.Quantity); err != nil {
			return err
		}
		tickets = minted
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obs.recorder.TicketsPurchased(in.EventID, in.Quantity)
	s.obs.publish(ctx, pending)
	return tickets, nil
}

// RedeemTicket marks a ticket used. Only callers allowed to redeem may do so, and only inside the
// event's redemption window.
func (s *LedgerService) RedeemTicket(ctx context.Context, caller auth.Principal, ticketID int64) (ticket domain.Ticket, err error) {
	const op = "ledger.RedeemTicket"
	ctx, span := s.obs.start(ctx, op, attribute.Int64("ledger.ticket_id", ticketID))
	defer func() { s.obs.finish(span, op, err) }()

	if err := s.policy.Authorize(caller, auth.ActionRedeemTickets); err != nil {
		return domain.Ticket{}, err
	}

	now := s.clock.Now()
	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.repo.GetTicketForUpdate(txCtx, ticketID)
		if err != nil {
			return err
		}
		event, err := s.repo.GetEvent(txCtx, current.EventID)
		if err != nil {
			return err
		}
		if err := domain.CheckRedemption(current, event, now); err != nil {
			return err
		}

		current.Used = true
		current.UsedAt = &now
		if err := s.repo.MarkTicketUsed(txCtx, current); err != nil {
			return err
		}
		ticket = current
		return nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}

	s.obs.recorder.TicketRedeemed(ticket.EventID)
	s.obs.publish(ctx, []domain.Notification{domain.TicketUsed{
		TicketID: ticket.ID,
		EventID:  ticket.EventID,
		Holder:   ticket.Holder,
		UsedAt:   now,
	}})
	return ticket, nil
}

type TransferInput struct {
	TicketID int64
	From     string
	To       string
}

// TransferTicket moves a ticket to a new holder. Purchase-time holder counts are left untouched.
func (s *LedgerService) TransferTicket(ctx context.Context, in TransferInput) (ticket domain.Ticket, err error) {
	const op = "ledger.TransferTicket"
	ctx, span := s.obs.start(ctx, op, attribute.Int64("ledger.ticket_id", in.TicketID))
	defer func() { s.obs.finish(span, op, err) }()

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.repo.GetTicketForUpdate(txCtx, in.TicketID)
		if err != nil {
			return err
		}
		if err := domain.CheckTransfer(current, in.From, in.To); err != nil {
			return err
		}
		if err := s.repo.SetTicketHolder(txCtx, in.TicketID, in.To); err != nil {
			return err
		}
		current.Holder = in.To
		ticket = current
		return nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}

	s.obs.recorder.TicketTransferred()
	s.obs.publish(ctx, []domain.Notification{domain.TicketTransferred{
		TicketID: ticket.ID,
		EventID:  ticket.EventID,
		From:     in.From,
		To:       in.To,
	}})
	return ticket, nil
}

// IsValid reports whether the ticket would admit its holder now. Unknown tickets are simply invalid;
// the error is reserved for storage failures.
func (s *LedgerService) IsValid(ctx context.Context, ticketID int64) (bool, error) {
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if errors.Is(err, domain.ErrTicketNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	event, err := s.repo.GetEvent(ctx, ticket.EventID)
	if err != nil {
		return false, err
	}
	return ticket.ValidAt(event, s.clock.Now()), nil
}

// GetUserTicketCount returns the purchase-time count for (eventID, holder), zero when unknown.
func (s *LedgerService) GetUserTicketCount(ctx context.Context, eventID int64, holder string) (int, error) {
	return s.repo.HolderCount(ctx, eventID, holder)
}

func (s *LedgerService) GetTicket(ctx context.Context, ticketID int64) (domain.Ticket, error) {
	return s.repo.GetTicket(ctx, ticketID)
}

func (s *LedgerService) ListHolderTickets(ctx context.Context, holder string) ([]domain.Ticket, error) {
	if holder == "" {
		return nil, domain.ErrHolderRequired
	}
	return s.repo.ListTicketsByHolder(ctx, holder)
}
