// Package metrics holds the Prometheus instrumentation for the loyalty
// service. Collectors are registered against a private registry so tests
// can build as many instances as they like.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the loyalty service.
type Metrics struct {
	registry *prometheus.Registry

	// Transactions counts created ledger records.
	// Labels: kind, suspicious ("true"|"false")
	Transactions *prometheus.CounterVec
	// PointsMoved sums absolute point amounts moved per kind.
	PointsMoved *prometheus.CounterVec
	// Requests counts HTTP requests. Labels: method, route, status
	Requests *prometheus.CounterVec
	// RequestDuration observes HTTP handler latency per route.
	RequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_transactions_total",
			Help: "Ledger records created, by kind.",
		}, []string{"kind", "suspicious"}),
		PointsMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_points_moved_total",
			Help: "Absolute point amounts moved, by kind.",
		}, []string{"kind"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loyalty_http_request_duration_seconds",
			Help:    "HTTP handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(m.Transactions, m.PointsMoved, m.Requests, m.RequestDuration)
	return m
}

// ObserveTransaction records one created ledger entry.
func (m *Metrics) ObserveTransaction(kind string, amount int, suspicious bool) {
	if m == nil {
		return
	}
	flag := "false"
	if suspicious {
		flag = "true"
	}
	m.Transactions.WithLabelValues(kind, flag).Inc()
	if amount < 0 {
		amount = -amount
	}
	m.PointsMoved.WithLabelValues(kind).Add(float64(amount))
}

// ObserveRequest records one served HTTP request against the matched
// route pattern.
func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
