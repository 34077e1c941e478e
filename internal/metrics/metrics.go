// Package metrics exports ledger and HTTP metrics on a private Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cimillas/ticket-ledger/internal/domain"
)

const namespace = "ticket_ledger"

type Metrics struct {
	reg *prometheus.Registry

	eventsCreated      prometheus.Counter
	ticketsPurchased   *prometheus.CounterVec
	ticketsRedeemed    *prometheus.CounterVec
	ticketsTransferred prometheus.Counter
	rejections         *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		eventsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_created_total",
			Help:      "Total number of events created.",
		}),
		ticketsPurchased: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_purchased_total",
			Help:      "Total number of tickets minted by purchases.",
		}, []string{"event_id"}),
		ticketsRedeemed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_redeemed_total",
			Help:      "Total number of tickets redeemed.",
		}, []string{"event_id"}),
		ticketsTransferred: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_transferred_total",
			Help:      "Total number of ticket transfers.",
		}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Operations refused by a business rule, by operation and reason.",
		}, []string{"op", "reason"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) EventCreated() {
	m.eventsCreated.Inc()
}

func (m *Metrics) TicketsPurchased(eventID int64, quantity int) {
	m.ticketsPurchased.WithLabelValues(strconv.FormatInt(eventID, 10)).Add(float64(quantity))
}

func (m *Metrics) TicketRedeemed(eventID int64) {
	m.ticketsRedeemed.WithLabelValues(strconv.FormatInt(eventID, 10)).Inc()
}

func (m *Metrics) TicketTransferred() {
	m.ticketsTransferred.Inc()
}

func (m *Metrics) Rejected(op string, err error) {
	m.rejections.WithLabelValues(op, domain.Reason(err)).Inc()
}

// ObserveHTTP records one served request. route is the matched pattern, not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          m.reg,
	})
}
