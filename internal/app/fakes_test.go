package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cimillas/ticket-ledger/internal/auth"
	"github.com/cimillas/ticket-ledger/internal/clock"
	"github.com/cimillas/ticket-ledger/internal/domain"
	"github.com/cimillas/ticket-ledger/internal/storage/memory"
)

var (
	admin = auth.Principal{Subject: "owner", Roles: []string{auth.RoleAdmin}}
	guest = auth.Principal{Subject: "guest"}

	epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, msg := range n.sent {
		out[i] = msg.Kind()
	}
	return out
}

type recordingRecorder struct {
	mu          sync.Mutex
	created     int
	purchased   int
	redeemed    int
	transferred int
	rejected    map[string]int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{rejected: make(map[string]int)}
}

func (r *recordingRecorder) EventCreated() {
	r.mu.Lock()
	r.created++
	r.mu.Unlock()
}

func (r *recordingRecorder) TicketsPurchased(_ int64, quantity int) {
	r.mu.Lock()
	r.purchased += quantity
	r.mu.Unlock()
}

func (r *recordingRecorder) TicketRedeemed(int64) {
	r.mu.Lock()
	r.redeemed++
	r.mu.Unlock()
}

func (r *recordingRecorder) TicketTransferred() {
	r.mu.Lock()
	r.transferred++
	r.mu.Unlock()
}

func (r *recordingRecorder) Rejected(op string, err error) {
	r.mu.Lock()
	r.rejected[op+":"+domain.Reason(err)]++
	r.mu.Unlock()
}

type fixture struct {
	store    *memory.Store
	clock    *clock.Manual
	catalog  *CatalogService
	ledger   *LedgerService
	notifier *recordingNotifier
	recorder *recordingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		clock:    clock.NewManual(epoch),
		notifier: &recordingNotifier{},
		recorder: newRecordingRecorder(),
	}
	policy := auth.NewPolicy(auth.RoleAdmin)
	opts := []Option{WithNotifier(f.notifier), WithRecorder(f.recorder)}
	f.catalog = NewCatalogService(f.store, f.clock, policy, opts...)
	f.ledger = NewLedgerService(f.store, f.clock, policy, opts...)
	return f
}

// createEvent creates an active event starting `in` from the fixture's current time.
func (f *fixture) createEvent(t *testing.T, price int64, maxTickets int, in time.Duration) domain.Event {
	t.Helper()
	event, err := f.catalog.CreateEvent(context.Background(), admin, CreateEventInput{
		Name:       "Concert",
		Price:      price,
		MaxTickets: maxTickets,
		StartsAt:   f.clock.Now().Add(in),
	})
	require.NoError(t, err)
	return event
}

func (f *fixture) buy(t *testing.T, event domain.Event, buyer string, quantity int) []domain.Ticket {
	t.Helper()
	tickets, err := f.ledger.PurchaseTickets(context.Background(), PurchaseInput{
		EventID:  event.ID,
		Buyer:    buyer,
		Quantity: quantity,
		Paid:     event.Price * int64(quantity),
	})
	require.NoError(t, err)
	return tickets
}
