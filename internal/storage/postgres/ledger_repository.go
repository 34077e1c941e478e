package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cimillas/ticket-ledger/internal/domain"
)

const ticketColumns = `id, event_id, holder, used, purchased_at, used_at`

// LedgerRepository stores tickets and per-holder purchase counts.
//
// Purchases lock the event row, then the ticket counter, then the holder count. Redemption locks the
// ticket row and only reads the event, so the two never wait on each other in opposite order.
type LedgerRepository struct {
	db
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db{pool: pool}}
}

func (r *LedgerRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *LedgerRepository) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	return getEvent(ctx, r.db, id, false)
}

func (r *LedgerRepository) GetEventForUpdate(ctx context.Context, id int64) (domain.Event, error) {
	return getEvent(ctx, r.db, id, true)
}

func (r *LedgerRepository) AddTicketsSold(ctx context.Context, eventID int64, n int) error {
	const stmt = `
UPDATE events SET tickets_sold = tickets_sold + $2
WHERE id = $1 AND tickets_sold + $2 <= max_tickets`

	tag, err := r.exec(ctx, stmt, eventID, n)
	if err != nil {
		return fmt.Errorf("add tickets sold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("add tickets sold: event %d missing or would exceed capacity", eventID)
	}
	return nil
}

func (r *LedgerRepository) HolderCount(ctx context.Context, eventID int64, holder string) (int, error) {
	const query = `SELECT purchased FROM holder_counts WHERE event_id = $1 AND holder = $2`
	var n int
	if err := r.queryRow(ctx, query, eventID, holder).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("holder count: %w", err)
	}
	return n, nil
}

func (r *LedgerRepository) AddHolderCount(ctx context.Context, eventID int64, holder string, n int) error {
	const stmt = `
INSERT INTO holder_counts (event_id, holder, purchased) VALUES ($1, $2, $3)
ON CONFLICT (event_id, holder) DO UPDATE SET purchased = holder_counts.purchased + EXCLUDED.purchased`

	if _, err := r.exec(ctx, stmt, eventID, holder, n); err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrEventNotFound
		}
		return fmt.Errorf("add holder count: %w", err)
	}
	return nil
}

func (r *LedgerRepository) NextTicketIDs(ctx context.Context, n int) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("reserve ticket ids: invalid count %d", n)
	}
	first, err := r.nextIDs(ctx, "ticket", n)
	if err != nil {
		return 0, fmt.Errorf("reserve ticket ids: %w", err)
	}
	return first, nil
}

func (r *LedgerRepository) InsertTickets(ctx context.Context, tickets []domain.Ticket) error {
	columns := []string{"id", "event_id", "holder", "used", "purchased_at", "used_at"}
	_, err := r.copyFrom(ctx, pgx.Identifier{"tickets"}, columns,
		pgx.CopyFromSlice(len(tickets), func(i int) ([]any, error) {
			t := tickets[i]
			return []any{t.ID, t.EventID, t.Holder, t.Used, t.PurchasedAt, t.UsedAt}, nil
		}),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("insert tickets: id already taken: %w", err)
		case isForeignKeyViolation(err):
			return domain.ErrEventNotFound
		}
		return fmt.Errorf("insert tickets: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	return r.getTicket(ctx, id, false)
}

func (r *LedgerRepository) GetTicketForUpdate(ctx context.Context, id int64) (domain.Ticket, error) {
	return r.getTicket(ctx, id, true)
}

func (r *LedgerRepository) getTicket(ctx context.Context, id int64, forUpdate bool) (domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTicket(r.queryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// MarkTicketUsed sets the used flag once; a ticket that is already used is left alone.
func (r *LedgerRepository) MarkTicketUsed(ctx context.Context, t domain.Ticket) error {
	if t.UsedAt == nil {
		return fmt.Errorf("mark ticket used: ticket %d has no used_at", t.ID)
	}
	tag, err := r.exec(ctx, `UPDATE tickets SET used = TRUE, used_at = $2 WHERE id = $1 AND NOT used`, t.ID, *t.UsedAt)
	if err != nil {
		return fmt.Errorf("mark ticket used: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.getTicket(ctx, t.ID, false); err != nil {
		return err
	}
	return domain.ErrAlreadyUsed
}

func (r *LedgerRepository) SetTicketHolder(ctx context.Context, id int64, holder string) error {
	tag, err := r.exec(ctx, `UPDATE tickets SET holder = $2 WHERE id = $1`, id, holder)
	if err != nil {
		return fmt.Errorf("set ticket holder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTicketNotFound
	}
	return nil
}

func (r *LedgerRepository) ListTicketsByHolder(ctx context.Context, holder string) ([]domain.Ticket, error) {
	rows, err := r.query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE holder = $1 ORDER BY id`, holder)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	tickets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Ticket, error) {
		return scanTicket(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var t domain.Ticket
	if err := row.Scan(&t.ID, &t.EventID, &t.Holder, &t.Used, &t.PurchasedAt, &t.UsedAt); err != nil {
		return domain.Ticket{}, err
	}
	t.PurchasedAt = t.PurchasedAt.UTC()
	if t.UsedAt != nil {
		at := t.UsedAt.UTC()
		t.UsedAt = &at
	}
	return t, nil
}
