package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/ticket-ledger/internal/app"
	"github.com/cimillas/ticket-ledger/internal/auth"
	"github.com/cimillas/ticket-ledger/internal/clock"
	"github.com/cimillas/ticket-ledger/internal/domain"
	"github.com/cimillas/ticket-ledger/internal/storage/postgres"
	"github.com/cimillas/ticket-ledger/internal/testutil"
)

func TestServices_ConcurrentPurchasesNeverOversell(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	now := time.Now().UTC()
	clk := clock.NewFixed(now)
	policy := auth.NewPolicy(auth.RoleAdmin)
	admin := auth.Principal{Subject: "owner", Roles: []string{auth.RoleAdmin}}

	catalog := app.NewCatalogService(postgres.NewCatalogRepository(pool), clk, policy)
	ledger := app.NewLedgerService(postgres.NewLedgerRepository(pool), clk, policy)

	event, err := catalog.CreateEvent(ctx, admin, app.CreateEventInput{
		Name: "Concert", Price: 100, MaxTickets: 7, StartsAt: now.Add(time.Hour),
	})
	require.NoError(t, err)

	const buyers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		sold    int
		soldOut int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tickets, err := ledger.PurchaseTickets(ctx, app.PurchaseInput{
				EventID: event.ID, Buyer: fmt.Sprintf("buyer-%d", i), Quantity: 1, Paid: 100,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrSoldOut)
				soldOut++
				return
			}
			sold += len(tickets)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 7, sold)
	assert.Equal(t, buyers-7, soldOut)

	stored, err := catalog.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.TicketsSold)

	for id := int64(0); id < 7; id++ {
		valid, err := ledger.IsValid(ctx, id)
		require.NoError(t, err)
		assert.True(t, valid, "ticket %d", id)
	}
	valid, err := ledger.IsValid(ctx, 7)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestServices_RedeemAndTransfer(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	clk := clock.NewManual(time.Now())
	policy := auth.NewPolicy(auth.RoleAdmin)
	admin := auth.Principal{Subject: "owner", Roles: []string{auth.RoleAdmin}}

	catalog := app.NewCatalogService(postgres.NewCatalogRepository(pool), clk, policy)
	ledger := app.NewLedgerService(postgres.NewLedgerRepository(pool), clk, policy)

	event, err := catalog.CreateEvent(ctx, admin, app.CreateEventInput{
		Name: "Concert", Price: 40, MaxTickets: 10, StartsAt: clk.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	tickets, err := ledger.PurchaseTickets(ctx, app.PurchaseInput{EventID: event.ID, Buyer: "alice", Quantity: 2, Paid: 80})
	require.NoError(t, err)

	moved, err := ledger.TransferTicket(ctx, app.TransferInput{TicketID: tickets[1].ID, From: "alice", To: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "bob", moved.Holder)

	redeemed, err := ledger.RedeemTicket(ctx, admin, tickets[1].ID)
	require.NoError(t, err)
	assert.True(t, redeemed.Used)

	_, err = ledger.RedeemTicket(ctx, admin, tickets[1].ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyUsed)

	count, err := ledger.GetUserTicketCount(ctx, event.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
