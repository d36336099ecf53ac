// Package metrics provides Prometheus instrumentation for the fund ledger.
package metrics

import (
	"bufio"
	"fmt"
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
	// RecalculationsTotal counts replays, partitioned by trigger and outcome.
	RecalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundledger_recalculations_total",
		Help: "Total number of ledger replays",
	}, []string{"trigger", "outcome"})

	// RecalculationLatency covers lock wait, replay and commit.
	RecalculationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fundledger_recalculation_latency_seconds",
		Help:    "Ledger replay latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})

	// TransactionsReplayed counts transactions processed across all replays.
	TransactionsReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fundledger_transactions_replayed_total",
		Help: "Transactions processed by ledger replays",
	})

	// HoldingsRows tracks the size of each fund's latest holdings snapshot.
	HoldingsRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fundledger_holdings_rows",
		Help: "Holdings rows in the latest committed snapshot",
	}, []string{"fund_id"})

	// RejectedMutations counts log edits refused because the resulting log
	// would not replay.
	RejectedMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundledger_rejected_mutations_total",
		Help: "Transaction log mutations rejected by replay validation",
	}, []string{"reason"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fundledger_http_request_duration_seconds",
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

		// Route pattern, not raw path, to keep label cardinality bounded.
		path := r.URL.Path
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

// Hijack passes through so WebSocket upgrades work behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	return h.Hijack()
}
