package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cimillas/ticket-ledger/internal/app"
	"github.com/cimillas/ticket-ledger/internal/auth"
	"github.com/cimillas/ticket-ledger/internal/domain"
)

type TicketPurchaser interface {
	PurchaseTickets(ctx context.Context, in app.PurchaseInput) ([]domain.Ticket, error)
}

type TicketRedeemer interface {
	RedeemTicket(ctx context.Context, caller auth.Principal, ticketID int64) (domain.Ticket, error)
}

type TicketTransferrer interface {
	TransferTicket(ctx context.Context, in app.TransferInput) (domain.Ticket, error)
}

// TicketReader covers the read-only ledger queries.
type TicketReader interface {
	GetTicket(ctx context.Context, ticketID int64) (domain.Ticket, error)
	IsValid(ctx context.Context, ticketID int64) (bool, error)
	GetUserTicketCount(ctx context.Context, eventID int64, holder string) (int, error)
	ListHolderTickets(ctx context.Context, holder string) ([]domain.Ticket, error)
}

// HandlePurchase buys tickets for the authenticated subject.
func HandlePurchase(svc TicketPurchaser) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req purchaseRequest
		if !decodeJSON(c, &req) {
			return
		}

		tickets, err := svc.PurchaseTickets(c.Request.Context(), app.PurchaseInput{
			EventID:  id,
			Buyer:    principalFrom(c).Subject,
			Quantity: req.Quantity,
			Paid:     req.Paid,
		})
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusCreated, newTicketsResponse(tickets))
	}
}

func HandleRedeem(svc TicketRedeemer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		ticket, err := svc.RedeemTicket(c.Request.Context(), principalFrom(c), id)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, newTicketResponse(ticket))
	}
}

// HandleTransfer moves a ticket owned by the authenticated subject to another holder.
func HandleTransfer(svc TicketTransferrer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req transferRequest
		if !decodeJSON(c, &req) {
			return
		}

		ticket, err := svc.TransferTicket(c.Request.Context(), app.TransferInput{
			TicketID: id,
			From:     principalFrom(c).Subject,
			To:       req.To,
		})
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, newTicketResponse(ticket))
	}
}

func HandleGetTicket(svc TicketReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		ticket, err := svc.GetTicket(c.Request.Context(), id)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, newTicketResponse(ticket))
	}
}

func HandleValidity(svc TicketReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		valid, err := svc.IsValid(c.Request.Context(), id)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, validityResponse{TicketID: id, Valid: valid})
	}
}

func HandleHolderCount(svc TicketReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		holder := c.Param("holder")
		count, err := svc.GetUserTicketCount(c.Request.Context(), id, holder)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, holderCountResponse{EventID: id, Holder: holder, Count: count})
	}
}

func HandleMyTickets(svc TicketReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		tickets, err := svc.ListHolderTickets(c.Request.Context(), principalFrom(c).Subject)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, newTicketsResponse(tickets))
	}
}

type purchaseRequest struct {
	Quantity int   `json:"quantity"`
	Paid     int64 `json:"paid"`
}

type transferRequest struct {
	To string `json:"to"`
}

type ticketResponse struct {
	ID          int64      `json:"id"`
	EventID     int64      `json:"event_id"`
	Holder      string     `json:"holder"`
	Used        bool       `json:"used"`
	PurchasedAt time.Time  `json:"purchased_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
}

type ticketsResponse struct {
	Tickets []ticketResponse `json:"tickets"`
}

type validityResponse struct {
	TicketID int64 `json:"ticket_id"`
	Valid    bool  `json:"valid"`
}

type holderCountResponse struct {
	EventID int64  `json:"event_id"`
	Holder  string `json:"holder"`
	Count   int    `json:"count"`
}

func newTicketResponse(t domain.Ticket) ticketResponse {
	return ticketResponse{
		ID:          t.ID,
		EventID:     t.EventID,
		Holder:      t.Holder,
		Used:        t.Used,
		PurchasedAt: t.PurchasedAt,
		UsedAt:      t.UsedAt,
	}
}

func newTicketsResponse(tickets []domain.Ticket) ticketsResponse {
	resp := ticketsResponse{Tickets: make([]ticketResponse, 0, len(tickets))}
	for _, t := range tickets {
		resp.Tickets = append(resp.Tickets, newTicketResponse(t))
	}
	return resp
}
