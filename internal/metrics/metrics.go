// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PlansTotal counts allocation attempts, partitioned by mode and outcome
	// (proposed, shortfall, incomplete, excess, infeasible, unavailable_price, invalid).
	PlansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpay_plans_total",
		Help: "Total number of allocation attempts",
	}, []string{"mode", "outcome"})

	// SettlementsTotal counts committed settlements by mode.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpay_settlements_total",
		Help: "Total number of committed settlements",
	}, []string{"mode"})

	// SettlementRejections counts commits aborted by re-validation or reuse.
	SettlementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpay_settlement_rejections_total",
		Help: "Commits rejected at settlement time",
	}, []string{"reason"})

	// SettledAmount is the cumulative cash amount settled.
	SettledAmount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpay_settled_amount_total",
		Help: "Cumulative cash amount covered by committed settlements",
	})

	// UnitsLiquidated tracks cumulative units sold per asset.
	UnitsLiquidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpay_units_liquidated_total",
		Help: "Cumulative units liquidated per asset",
	}, []string{"symbol"})

	// PriceSourceErrors counts snapshots where the price source failed.
	PriceSourceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpay_price_source_errors_total",
		Help: "Price snapshots that failed and marked all symbols unavailable",
	})

	// UnavailableQuotes counts individual unavailable quotes.
	UnavailableQuotes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpay_unavailable_quotes_total",
		Help: "Quotes reported unavailable by the price source",
	})

	// ActiveSessions tracks the number of open sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockpay_active_sessions",
		Help: "Number of currently open sessions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockpay_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpay_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockpay_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps session IDs out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
