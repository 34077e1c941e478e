package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/ticket-ledger/internal/app"
	"github.com/cimillas/ticket-ledger/internal/auth"
	"github.com/cimillas/ticket-ledger/internal/clock"
	"github.com/cimillas/ticket-ledger/internal/metrics"
	"github.com/cimillas/ticket-ledger/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	clock   *clock.Manual
	tokens  *auth.Tokens
	metrics *metrics.Metrics
	router  *gin.Engine
}

func newHarness(t *testing.T, configure ...func(*RouterConfig)) *harness {
	t.Helper()
	store := memory.NewStore()
	clk := clock.NewManual(epoch)
	policy := auth.NewPolicy(auth.RoleAdmin).Allow(auth.ActionRedeemTickets, "door")
	h := &harness{
		clock:   clk,
		tokens:  auth.NewTokens("test-secret", "ticket-ledger", clk),
		metrics: metrics.New(),
	}
	cfg := RouterConfig{
		CORSOrigins: []string{"http://localhost:5173"},
		Tokens:      h.tokens,
		Metrics:     h.metrics,
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	catalog := app.NewCatalogService(store, clk, policy, app.WithRecorder(h.metrics))
	ledger := app.NewLedgerService(store, clk, policy, app.WithRecorder(h.metrics))
	h.router = NewRouter(catalog, ledger, cfg)
	return h
}

func (h *harness) token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	raw, err := h.tokens.Issue(auth.Principal{Subject: subject, Roles: roles}, 72*time.Hour)
	require.NoError(t, err)
	return raw
}

func (h *harness) do(t *testing.T, method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

// createEvent creates an event priced 100 starting a day after epoch.
func (h *harness) createEvent(t *testing.T, maxTickets int) eventResponse {
	t.Helper()
	body := `{"name":"Concert","price":100,"max_tickets":` + itoa(maxTickets) + `,"starts_at":"2025-01-02T12:00:00Z"}`
	rec := h.do(t, http.MethodPost, "/admin/events", h.token(t, "owner", auth.RoleAdmin), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var event eventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	return event
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestRouter_CreateEvent(t *testing.T) {
	h := newHarness(t)

	first := h.createEvent(t, 2)
	second := h.createEvent(t, 10)

	assert.Equal(t, int64(0), first.ID)
	assert.Equal(t, int64(1), second.ID)
	assert.True(t, first.Active)
	assert.Equal(t, 2, first.Remaining)
	assert.Equal(t, epoch, first.CreatedAt)

	rec := h.do(t, http.MethodGet, "/events", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Events, 2)
}

func TestRouter_CreateEventRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	body := `{"name":"Concert","price":100,"max_tickets":2,"starts_at":"2025-01-02T12:00:00Z"}`

	rec := h.do(t, http.MethodPost, "/admin/events", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeUnauthenticated, decodeError(t, rec).Code)

	rec = h.do(t, http.MethodPost, "/admin/events", h.token(t, "guest"), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Code)

	rec = h.do(t, http.MethodPost, "/admin/events", "not-a-jwt", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_CreateEventValidation(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, "owner", auth.RoleAdmin)

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "malformed", body: `{"name":`, code: codeInvalidRequestBody},
		{name: "unknown field", body: `{"name":"x","price":1,"max_tickets":1,"starts_at":"2025-01-02T12:00:00Z","zone":"a"}`, code: codeInvalidRequestBody},
		{name: "empty name", body: `{"name":"","price":1,"max_tickets":1,"starts_at":"2025-01-02T12:00:00Z"}`, code: "invalid_input"},
		{name: "zero price", body: `{"name":"x","price":0,"max_tickets":1,"starts_at":"2025-01-02T12:00:00Z"}`, code: "invalid_input"},
		{name: "in the past", body: `{"name":"x","price":1,"max_tickets":1,"starts_at":"2024-12-31T12:00:00Z"}`, code: "invalid_input"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/admin/events", token, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec).Code)
		})
	}
}

func TestRouter_CreateEventAcceptsLongName(t *testing.T) {
	h := newHarness(t)
	name := strings.Repeat("n", 201)
	body := `{"name":"` + name + `","price":100,"max_tickets":2,"starts_at":"2025-01-02T12:00:00Z"}`

	rec := h.do(t, http.MethodPost, "/admin/events", h.token(t, "owner", auth.RoleAdmin), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var event eventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Equal(t, name, event.Name)
}

func TestRouter_PurchaseUntilSoldOut(t *testing.T) {
	h := newHarness(t)
	event := h.createEvent(t, 2)
	alice := h.token(t, "alice")

	rec := h.do(t, http.MethodPost, "/events/0/purchases", alice, `{"quantity":2,"paid":200}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var bought ticketsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bought))
	require.Len(t, bought.Tickets, 2)
	assert.Equal(t, int64(0), bought.Tickets[0].ID)
	assert.Equal(t, int64(1), bought.Tickets[1].ID)
	assert.Equal(t, "alice", bought.Tickets[0].Holder)
	assert.Equal(t, event.ID, bought.Tickets[0].EventID)
	assert.Nil(t, bought.Tickets[0].UsedAt)

	rec = h.do(t, http.MethodPost, "/events/0/purchases", h.token(t, "bob"), `{"quantity":1,"paid":100}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "sold_out", decodeError(t, rec).Code)

	rec = h.do(t, http.MethodGet, "/events/0", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got eventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.TicketsSold)
	assert.Equal(t, 0, got.Remaining)

	rec = h.do(t, http.MethodGet, "/events/0/holders/alice/count", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"event_id":0,"holder":"alice","count":2}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/me/tickets", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var mine ticketsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	assert.Len(t, mine.Tickets, 2)
}

func TestRouter_PurchaseRejections(t *testing.T) {
	h := newHarness(t)
	h.createEvent(t, 100)
	buyer := h.token(t, "carol")

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{name: "wrong payment", path: "/events/0/purchases", body: `{"quantity":1,"paid":99}`, status: http.StatusUnprocessableEntity, code: "incorrect_payment"},
		{name: "over per-purchase limit", path: "/events/0/purchases", body: `{"quantity":6,"paid":600}`, status: http.StatusUnprocessableEntity, code: "quantity_exceeds_per_tx_limit"},
		{name: "zero quantity", path: "/events/0/purchases", body: `{"quantity":0,"paid":0}`, status: http.StatusBadRequest, code: "invalid_input"},
		{name: "unknown event", path: "/events/9/purchases", body: `{"quantity":1,"paid":100}`, status: http.StatusConflict, code: "inactive_event"},
		{name: "bad id", path: "/events/abc/purchases", body: `{"quantity":1,"paid":100}`, status: http.StatusBadRequest, code: codeInvalidID},
		{name: "negative payment", path: "/events/0/purchases", body: `{"quantity":1,"paid":-1}`, status: http.StatusUnprocessableEntity, code: "incorrect_payment"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, tc.path, buyer, tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec).Code)
		})
	}

	rec := h.do(t, http.MethodPost, "/events/0/purchases", "", `{"quantity":1,"paid":100}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_RedeemAndValidity(t *testing.T) {
	h := newHarness(t)
	h.createEvent(t, 10)
	rec := h.do(t, http.MethodPost, "/events/0/purchases", h.token(t, "dave"), `{"quantity":1,"paid":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodGet, "/tickets/0/validity", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ticket_id":0,"valid":true}`, rec.Body.String())

	door := h.token(t, "gate-1", "door")

	rec = h.do(t, http.MethodPost, "/tickets/0/redeem", door, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "outside_redemption_window", decodeError(t, rec).Code)

	rec = h.do(t, http.MethodPost, "/tickets/0/redeem", h.token(t, "dave"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	h.clock.Advance(23 * time.Hour)
	rec = h.do(t, http.MethodPost, "/tickets/0/redeem", door, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ticket ticketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ticket))
	assert.True(t, ticket.Used)
	require.NotNil(t, ticket.UsedAt)
	assert.Equal(t, epoch.Add(23*time.Hour), *ticket.UsedAt)

	rec = h.do(t, http.MethodPost, "/tickets/0/redeem", door, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_used", decodeError(t, rec).Code)

	rec = h.do(t, http.MethodGet, "/tickets/0/validity", "", "")
	assert.JSONEq(t, `{"ticket_id":0,"valid":false}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/tickets/42/validity", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ticket_id":42,"valid":false}`, rec.Body.String())
}

func TestRouter_Transfer(t *testing.T) {
	h := newHarness(t)
	h.createEvent(t, 10)
	erin := h.token(t, "erin")
	rec := h.do(t, http.MethodPost, "/events/0/purchases", erin, `{"quantity":1,"paid":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodPost, "/tickets/0/transfer", erin, `{"to":"frank"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ticket ticketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ticket))
	assert.Equal(t, "frank", ticket.Holder)

	rec = h.do(t, http.MethodPost, "/tickets/0/transfer", erin, `{"to":"grace"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_owner", decodeError(t, rec).Code)

	rec = h.do(t, http.MethodGet, "/tickets/0", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ticket))
	assert.Equal(t, "frank", ticket.Holder)

	// Purchase-time counts stay with the original buyer.
	rec = h.do(t, http.MethodGet, "/events/0/holders/erin/count", "", "")
	assert.JSONEq(t, `{"event_id":0,"holder":"erin","count":1}`, rec.Body.String())
}

func TestRouter_ToggleEvent(t *testing.T) {
	h := newHarness(t)
	h.createEvent(t, 10)
	admin := h.token(t, "owner", auth.RoleAdmin)

	rec := h.do(t, http.MethodPost, "/admin/events/0/toggle", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var event eventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.False(t, event.Active)

	rec = h.do(t, http.MethodPost, "/events/0/purchases", h.token(t, "heidi"), `{"quantity":1,"paid":100}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "inactive_event", decodeError(t, rec).Code)

	rec = h.do(t, http.MethodPost, "/admin/events/7/toggle", admin, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "event_not_found", decodeError(t, rec).Code)
}

func TestRouter_InactiveEventCheckedBeforePayment(t *testing.T) {
	h := newHarness(t)
	h.createEvent(t, 10)

	rec := h.do(t, http.MethodPost, "/admin/events/0/toggle", h.token(t, "owner", auth.RoleAdmin), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/events/0/purchases", h.token(t, "ivy"), `{"quantity":1,"paid":-1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "inactive_event", decodeError(t, rec).Code)
}

func TestRouter_WithoutTokenParserRejectsBearerTokens(t *testing.T) {
	h := newHarness(t, func(cfg *RouterConfig) { cfg.Tokens = nil })

	rec := h.do(t, http.MethodGet, "/events", h.token(t, "sam"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeUnauthenticated, decodeError(t, rec).Code)
	assert.Equal(t, `Bearer error="invalid_token"`, rec.Header().Get("WWW-Authenticate"))

	rec = h.do(t, http.MethodGet, "/events", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, decodeError(t, rec).Code)

	rec = h.do(t, http.MethodDelete, "/events", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, codeMethodNotAllowed, decodeError(t, rec).Code)

	rec = h.do(t, http.MethodGet, "/tickets/5", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ticket_not_found", decodeError(t, rec).Code)
}

func TestRouter_Metrics(t *testing.T) {
	h := newHarness(t)
	h.createEvent(t, 1)
	h.do(t, http.MethodGet, "/events/0", "", "")

	rec := h.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `ticket_ledger_http_requests_total{method="GET",route="/events/:id",status="200"} 1`)
	assert.Contains(t, body, "ticket_ledger_events_created_total 1")
}

func TestRouter_WithoutMetrics(t *testing.T) {
	h := newHarness(t, func(cfg *RouterConfig) { cfg.Metrics = nil })

	rec := h.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
