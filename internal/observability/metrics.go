package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the engine. All methods are nil-safe
// so callers can run without a metrics sink configured.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	movementsTotal     *prometheus.CounterVec
	stockRejections    prometheus.Counter
	periodGaps         prometheus.Counter
	journalsPosted     prometheus.Counter
	unbalancedRejected prometheus.Counter
	autoJournalSkipped prometheus.Counter
	reconcileDrift     prometheus.Counter
}

// NewMetrics initialises the registry and engine metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "millbrook_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "millbrook_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "millbrook_ledger_movements_total",
		Help: "Accepted ledger movements by event type.",
	}, []string{"event_type"})
	stockRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "millbrook_ledger_insufficient_stock_total",
		Help: "Movements rejected for insufficient stock.",
	})
	periodGaps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "millbrook_ledger_period_gap_total",
		Help: "Movements accepted without an owning accounting period.",
	})
	journals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "millbrook_journal_posted_total",
		Help: "Journal headers committed.",
	})
	unbalanced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "millbrook_journal_unbalanced_total",
		Help: "Journal transactions rejected at commit for imbalance.",
	})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "millbrook_autojournal_skipped_total",
		Help: "Auto-journals skipped because of unmapped account codes.",
	})
	drift := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "millbrook_reconcile_drift_total",
		Help: "Projection drift findings from the reconciliation job.",
	})
	registry.MustRegister(requests, duration, movements, stockRejections, periodGaps, journals, unbalanced, skipped, drift)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		movementsTotal:     movements,
		stockRejections:    stockRejections,
		periodGaps:         periodGaps,
		journalsPosted:     journals,
		unbalancedRejected: unbalanced,
		autoJournalSkipped: skipped,
		reconcileDrift:     drift,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// MovementPosted counts an accepted movement.
func (m *Metrics) MovementPosted(eventType string) {
	if m == nil {
		return
	}
	m.movementsTotal.WithLabelValues(eventType).Inc()
}

// StockRejection counts an InsufficientStock rejection.
func (m *Metrics) StockRejection() {
	if m == nil {
		return
	}
	m.stockRejections.Inc()
}

// PeriodGap counts a movement accepted without an owning period.
func (m *Metrics) PeriodGap() {
	if m == nil {
		return
	}
	m.periodGaps.Inc()
}

// JournalPosted counts a committed journal header.
func (m *Metrics) JournalPosted() {
	if m == nil {
		return
	}
	m.journalsPosted.Inc()
}

// UnbalancedRejected counts a journal transaction rolled back at commit.
func (m *Metrics) UnbalancedRejected() {
	if m == nil {
		return
	}
	m.unbalancedRejected.Inc()
}

// AutoJournalSkipped counts a posting skipped for an unmapped account code.
func (m *Metrics) AutoJournalSkipped() {
	if m == nil {
		return
	}
	m.autoJournalSkipped.Inc()
}

// ReconcileDrift counts a drift finding.
func (m *Metrics) ReconcileDrift() {
	if m == nil {
		return
	}
	m.reconcileDrift.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
