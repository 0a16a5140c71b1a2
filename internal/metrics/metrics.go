// Package metrics exposes the server's Prometheus collectors. Everything
// registers on a private registry so tests can run many servers in one
// process without collector name collisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	requests            *prometheus.CounterVec
	messagesDelivered   prometheus.Counter
	messagesDeleted     prometheus.Counter
	evictions           prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_connections_accepted_total",
			Help: "TCP connections accepted since startup.",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parley_connections_active",
			Help: "Currently open client connections.",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_requests_total",
			Help: "Dispatched conversations by opcode.",
		}, []string{"opcode"}),
		messagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_messages_delivered_total",
			Help: "Messages stored for delivery, counting each fan-out copy.",
		}),
		messagesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_messages_deleted_total",
			Help: "Messages deleted by their recipient.",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_evictions_total",
			Help: "Connections closed by the liveness sweep.",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	m.connectionsAccepted.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	m.connectionsActive.Dec()
}

// Request counts one dispatched opcode by its wire name.
func (m *Metrics) Request(opcode string) {
	m.requests.WithLabelValues(opcode).Inc()
}

func (m *Metrics) MessagesDelivered(n int) {
	m.messagesDelivered.Add(float64(n))
}

func (m *Metrics) MessageDeleted() {
	m.messagesDeleted.Inc()
}

func (m *Metrics) ConnectionEvicted() {
	m.evictions.Inc()
}

// RegisterLoggedIn registers a gauge evaluated at scrape time. The callback
// may take locks; scrapes are infrequent.
func (m *Metrics) RegisterLoggedIn(fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "parley_users_logged_in",
		Help: "Users currently holding a session.",
	}, fn))
}

// RegisterJournal registers scrape-time counters over the journal's append
// and drop tallies.
func (m *Metrics) RegisterJournal(appends, drops func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "parley_journal_appends_total",
		Help: "Records appended to the journal.",
	}, appends))
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "parley_journal_dropped_total",
		Help: "Records dropped because the journal is invalid.",
	}, drops))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
