package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orders"

type Metrics struct {
	Requests        *prometheus.CounterVec
	LatencyMS       *prometheus.HistogramVec
	ProductLookups  *prometheus.CounterVec
	LookupLatencyMS prometheus.Histogram

	registry *prometheus.Registry
}

// BreakerStates reports each circuit breaker's current state by name.
type BreakerStates func() map[string]int

// breakerCollector reads breaker states when scraped, so the exported gauge
// is never behind or ahead of the breakers themselves.
type breakerCollector struct {
	desc   *prometheus.Desc
	states BreakerStates
}

func (c *breakerCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *breakerCollector) Collect(ch chan<- prometheus.Metric) {
	for name, state := range c.states() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(state), name)
	}
}

// New registers the collectors on reg. Tests pass a fresh registry so
// repeated construction does not collide.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		ProductLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "product_lookups_total",
			Help:      "Remote product lookups by outcome.",
		}, []string{"outcome"}),
		LookupLatencyMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "product_lookup_duration_ms",
			Help:      "Remote product lookup latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		registry: reg,
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.ProductLookups, m.LookupLatencyMS)
	return m
}

// ObserveLookup records one catalog call. outcome is "ok", "not_found", "error" or "cancelled".
func (m *Metrics) ObserveLookup(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProductLookups.WithLabelValues(outcome).Inc()
	m.LookupLatencyMS.Observe(float64(elapsed.Milliseconds()))
}

// WatchBreakers exports orders_circuit_breaker_state, filled from states on
// every scrape. Call it once per Metrics.
func (m *Metrics) WatchBreakers(states BreakerStates) {
	if m == nil {
		return
	}
	m.registry.MustRegister(&breakerCollector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "circuit_breaker_state"),
			"Circuit breaker state: 0 closed, 1 open, 2 half-open.",
			[]string{"name"}, nil,
		),
		states: states,
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware labels requests by their mux route template so ids do not
// explode the label cardinality.
func (m *Metrics) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.Status)).Inc()
			m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}

type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *StatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}
