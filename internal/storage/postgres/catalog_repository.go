package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cimillas/ticket-ledger/internal/domain"
)

const eventColumns = `id, name, price, max_tickets, tickets_sold, starts_at, active, created_at`

type CatalogRepository struct {
	db
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{db: db{pool: pool}}
}

func (r *CatalogRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *CatalogRepository) NextEventID(ctx context.Context) (int64, error) {
	id, err := r.nextIDs(ctx, "event", 1)
	if err != nil {
		return 0, fmt.Errorf("next event id: %w", err)
	}
	return id, nil
}

func (r *CatalogRepository) InsertEvent(ctx context.Context, event domain.Event) error {
	const stmt = `
INSERT INTO events (` + eventColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.exec(ctx, stmt,
		event.ID,
		event.Name,
		event.Price,
		event.MaxTickets,
		event.TicketsSold,
		event.StartsAt,
		event.Active,
		event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert event: id %d already taken: %w", event.ID, err)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *CatalogRepository) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	return getEvent(ctx, r.db, id, false)
}

func (r *CatalogRepository) GetEventForUpdate(ctx context.Context, id int64) (domain.Event, error) {
	return getEvent(ctx, r.db, id, true)
}

func (r *CatalogRepository) SetEventActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.exec(ctx, `UPDATE events SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set event active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (r *CatalogRepository) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := r.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Event, error) {
		return scanEvent(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func getEvent(ctx context.Context, d db, id int64, forUpdate bool) (domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	event, err := scanEvent(d.queryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.Name, &e.Price, &e.MaxTickets, &e.TicketsSold, &e.StartsAt, &e.Active, &e.CreatedAt)
	if err != nil {
		return domain.Event{}, err
	}
	e.StartsAt = e.StartsAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
