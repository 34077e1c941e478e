package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Catalog is everything the router needs from the event catalog.
type Catalog interface {
	EventCreator
	EventToggler
	EventReader
}

// Ledger is everything the router needs from the ticket ledger.
type Ledger interface {
	TicketPurchaser
	TicketRedeemer
	TicketTransferrer
	TicketReader
}

// MetricsExporter records request metrics and serves the scrape endpoint.
type MetricsExporter interface {
	HTTPObserver
	Handler() http.Handler
}

type RouterConfig struct {
	Logger      *zap.Logger
	CORSOrigins []string
	Tokens      TokenParser
	// Metrics is optional; when nil no /metrics route is mounted.
	Metrics MetricsExporter
	// Idempotency is optional; when nil Idempotency-Key headers are ignored.
	Idempotency *IdempotencyConfig
	Tracing     bool
}

func NewRouter(catalog Catalog, ledger Ledger, cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.ContextWithFallback = true

	r.Use(Recovery(cfg.Logger), RequestID())
	if cfg.Tracing {
		r.Use(Tracing())
	}
	if cfg.Metrics != nil {
		r.Use(Metrics(cfg.Metrics))
	}
	r.Use(RequestLogger(cfg.Logger), CORS(cfg.CORSOrigins), Authenticate(cfg.Tokens))

	r.NoRoute(NotFoundHandler)
	r.NoMethod(MethodNotAllowedHandler)

	r.GET("/health", HealthHandler)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	r.GET("/events", HandleListEvents(catalog))
	r.GET("/events/:id", HandleGetEvent(catalog))
	r.GET("/events/:id/holders/:holder/count", HandleHolderCount(ledger))
	r.GET("/tickets/:id", HandleGetTicket(ledger))
	r.GET("/tickets/:id/validity", HandleValidity(ledger))

	admin := r.Group("/admin", RequireSubject())
	admin.POST("/events", HandleCreateEvent(catalog))
	admin.POST("/events/:id/toggle", HandleToggleEvent(catalog))

	authed := r.Group("/", RequireSubject())
	purchase := []gin.HandlerFunc{}
	if cfg.Idempotency != nil {
		purchase = append(purchase, Idempotency(*cfg.Idempotency))
	}
	purchase = append(purchase, HandlePurchase(ledger))
	authed.POST("/events/:id/purchases", purchase...)
	authed.POST("/tickets/:id/redeem", HandleRedeem(ledger))
	authed.POST("/tickets/:id/transfer", HandleTransfer(ledger))
	authed.GET("/me/tickets", HandleMyTickets(ledger))

	return r
}
