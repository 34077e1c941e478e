package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/cimillas/ticket-ledger/internal/app"
	"github.com/cimillas/ticket-ledger/internal/auth"
	"github.com/cimillas/ticket-ledger/internal/domain"
)

// EventCreator is the minimal interface needed to create events.
type EventCreator interface {
	CreateEvent(ctx context.Context, caller auth.Principal, in app.CreateEventInput) (domain.Event, error)
}

type EventToggler interface {
	ToggleActive(ctx context.Context, caller auth.Principal, eventID int64) (domain.Event, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, eventID int64) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
}

func HandleCreateEvent(svc EventCreator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createEventRequest
		if !decodeJSON(c, &req) {
			return
		}

		event, err := svc.CreateEvent(c.Request.Context(), principalFrom(c), app.CreateEventInput{
			Name:       req.Name,
			Price:      req.Price,
			MaxTickets: req.MaxTickets,
			StartsAt:   req.StartsAt,
		})
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusCreated, newEventResponse(event))
	}
}

func HandleToggleEvent(svc EventToggler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		event, err := svc.ToggleActive(c.Request.Context(), principalFrom(c), id)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, newEventResponse(event))
	}
}

func HandleListEvents(svc EventReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := svc.ListEvents(c.Request.Context())
		if err != nil {
			writeServiceError(c, err)
			return
		}
		resp := listEventsResponse{Events: make([]eventResponse, 0, len(events))}
		for _, e := range events {
			resp.Events = append(resp.Events, newEventResponse(e))
		}
		c.JSON(http.StatusOK, resp)
	}
}

func HandleGetEvent(svc EventReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		event, err := svc.GetEvent(c.Request.Context(), id)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, newEventResponse(event))
	}
}

type createEventRequest struct {
	Name       string    `json:"name"`
	Price      int64     `json:"price"`
	MaxTickets int       `json:"max_tickets"`
	StartsAt   time.Time `json:"starts_at" binding:"required"`
}

type eventResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Price       int64     `json:"price"`
	MaxTickets  int       `json:"max_tickets"`
	TicketsSold int       `json:"tickets_sold"`
	Remaining   int       `json:"remaining"`
	StartsAt    time.Time `json:"starts_at"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type listEventsResponse struct {
	Events []eventResponse `json:"events"`
}

func newEventResponse(e domain.Event) eventResponse {
	return eventResponse{
		ID:          e.ID,
		Name:        e.Name,
		Price:       e.Price,
		MaxTickets:  e.MaxTickets,
		TicketsSold: e.TicketsSold,
		Remaining:   e.Remaining(),
		StartsAt:    e.StartsAt,
		Active:      e.Active,
		CreatedAt:   e.CreatedAt,
	}
}

// decodeJSON decodes a strict JSON body into dst and runs its binding tags. On failure it writes a
// 400 and returns false.
func decodeJSON(c *gin.Context, dst any) bool {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return false
	}
	if err := binding.Validator.ValidateStruct(dst); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	return pathInt(c, "id")
}

func pathInt(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidID, "invalid "+name)
		return 0, false
	}
	return id, true
}
