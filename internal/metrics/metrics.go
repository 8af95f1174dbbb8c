// Package metrics provides Prometheus instrumentation for the portfolio engine.
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
	// TransactionsTotal counts accepted transaction writes by operation and side.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_transactions_total",
		Help: "Total number of transaction writes accepted",
	}, []string{"op", "side"})

	// OversellRejections counts writes rejected because a SELL would exceed holdings.
	OversellRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_oversell_rejections_total",
		Help: "Transaction writes rejected for insufficient shares",
	})

	// Recomputations counts full FIFO replays.
	Recomputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_fifo_recomputations_total",
		Help: "Total FIFO recomputations, partitioned by scope",
	}, []string{"scope"})

	// ComputeLatency tracks the duration of a FIFO replay.
	ComputeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_fifo_compute_seconds",
		Help:    "FIFO recomputation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"scope"})

	// CacheLookups counts result cache lookups by outcome (hit, miss, stale).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_result_cache_lookups_total",
		Help: "Result cache lookups by outcome",
	}, []string{"outcome"})

	// PriceLookups counts price source calls by source and outcome.
	PriceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_price_lookups_total",
		Help: "Price lookups by source and outcome",
	}, []string{"source", "outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
