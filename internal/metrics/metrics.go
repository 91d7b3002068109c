// Package metrics provides Prometheus instrumentation for the arena engine.
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
	// OrdersTotal counts order submissions by side and outcome.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_orders_total",
		Help: "Total number of order submissions",
	}, []string{"side", "outcome"})

	// TradesTotal counts trades executed, by aggressor side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeVolume tracks cumulative traded quantity per symbol.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_trade_volume_total",
		Help: "Cumulative traded quantity",
	}, []string{"symbol"})

	// CancelsTotal counts cancel requests by outcome.
	CancelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_cancels_total",
		Help: "Total number of cancel requests",
	}, []string{"outcome"})

	// MatchLatency measures submit-to-settled latency.
	MatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_match_latency_seconds",
		Help:    "Order match and settlement latency in seconds",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"side"})

	// ActiveCompetitions tracks competitions currently accepting orders.
	ActiveCompetitions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_active_competitions",
		Help: "Number of competitions accepting orders",
	})

	// ParticipantsTotal counts successful joins.
	ParticipantsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_participants_joined_total",
		Help: "Total number of participants joined",
	})

	// JournalErrors counts trades that could not be written to the store.
	JournalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_journal_errors_total",
		Help: "Journal writes that failed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_http_request_duration_seconds",
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

		// Route pattern, not raw path: ids would explode cardinality.
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

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
