package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/ticket-ledger/internal/domain"
	"github.com/cimillas/ticket-ledger/internal/testutil"
)

var startsAt = time.Date(2030, 6, 1, 20, 0, 0, 0, time.UTC)

func TestCatalogRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewCatalogRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	t.Run("NextEventID and InsertEvent", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		for want := int64(0); want < 3; want++ {
			err := repo.WithTx(ctx, func(txCtx context.Context) error {
				id, err := repo.NextEventID(txCtx)
				require.NoError(t, err)
				assert.Equal(t, want, id)
				return repo.InsertEvent(txCtx, domain.Event{
					ID: id, Name: "Concert", Price: 100, MaxTickets: 2,
					StartsAt: startsAt, Active: true, CreatedAt: startsAt.Add(-time.Hour),
				})
			})
			require.NoError(t, err)
		}

		events, err := repo.ListEvents(ctx)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.EqualValues(t, 2, events[2].ID)
		assert.Equal(t, startsAt, events[0].StartsAt)
		assert.Equal(t, time.UTC, events[0].CreatedAt.Location())
	})

	t.Run("rolled back reservation is reused", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		boom := errors.New("boom")
		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			_, err := repo.NextEventID(txCtx)
			require.NoError(t, err)
			return boom
		})
		require.ErrorIs(t, err, boom)

		id, err := repo.NextEventID(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 0, id)
	})

	t.Run("GetEvent and SetEventActive", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		event := testutil.InsertEvent(t, ctx, pool, domain.Event{
			Name: "Play", Price: 30, MaxTickets: 10, StartsAt: startsAt, Active: true,
		})

		require.NoError(t, repo.SetEventActive(ctx, event.ID, false))

		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			got, err := repo.GetEventForUpdate(txCtx, event.ID)
			require.NoError(t, err)
			assert.False(t, got.Active)
			assert.Equal(t, "Play", got.Name)
			return nil
		})
		require.NoError(t, err)

		_, err = repo.GetEvent(ctx, event.ID+1)
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
		assert.ErrorIs(t, repo.SetEventActive(ctx, event.ID+1, true), domain.ErrEventNotFound)
	})
}
