// Package metrics provides Prometheus instrumentation for the trade engine.
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
	// OrdersTotal counts placed orders by side, type and resulting status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpick_orders_total",
		Help: "Total number of orders placed",
	}, []string{"side", "type", "status"})

	// OrderLatency tracks order placement latency in seconds.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockpick_order_latency_seconds",
		Help:    "Order placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// PendingOrders tracks resting limit orders seen by the last sweep.
	PendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockpick_pending_orders",
		Help: "Number of pending orders at the last sweep",
	})

	// SweepFills counts resting orders resolved by the sweeper, by outcome.
	SweepFills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpick_sweep_resolved_total",
		Help: "Pending orders resolved by the sweeper",
	}, []string{"status"})

	// LedgerConflicts counts optimistic commits that lost a version race.
	LedgerConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpick_ledger_version_conflicts_total",
		Help: "Account commits rejected by a version mismatch",
	})

	// LedgerExhausted counts mutations that gave up after every retry.
	LedgerExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpick_ledger_retries_exhausted_total",
		Help: "Account mutations surfaced as Conflict",
	})

	// PriceLookups counts price cache reads by result
	// (fresh, refreshed, stale, unavailable).
	PriceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpick_price_lookups_total",
		Help: "Price cache lookups by result",
	}, []string{"result"})

	// PriceRefreshes counts refresh attempts by source and whether they applied.
	PriceRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpick_price_refreshes_total",
		Help: "Price cache refreshes by source",
	}, []string{"source", "applied"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockpick_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpick_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockpick_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// The route pattern keeps label cardinality bounded.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
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

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets the WebSocket upgrade pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
