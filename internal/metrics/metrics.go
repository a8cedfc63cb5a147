// Package metrics provides Prometheus instrumentation for the simulation server.
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
	// TradesTotal counts settled trades, partitioned by side and instrument kind.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_trades_total",
		Help: "Total number of trades settled",
	}, []string{"side", "kind"})

	// CommandLatency tracks how long a command holds the session lock,
	// persistence included.
	CommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradesim_command_latency_seconds",
		Help:    "Command execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	// Rejections counts commands refused, by wire reason code.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_rejections_total",
		Help: "Commands rejected, by reason code",
	}, []string{"code"})

	// RoundsAdvanced counts round advances.
	RoundsAdvanced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_rounds_advanced_total",
		Help: "Total number of round advances",
	})

	// CurrentRound is the session's round counter.
	CurrentRound = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesim_current_round",
		Help: "Current session round",
	})

	// Players tracks the number of player records in the session.
	Players = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesim_players",
		Help: "Number of players in the session",
	})

	// DepositsOpened counts deposits opened, by term in months.
	DepositsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_deposits_opened_total",
		Help: "Deposits opened, by term",
	}, []string{"term_months"})

	// DepositsMatured counts deposits paid out at maturity.
	DepositsMatured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_deposits_matured_total",
		Help: "Deposits paid out at maturity",
	})

	// CouponsPaid counts positive coupon credits.
	CouponsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_coupon_payments_total",
		Help: "Bond coupon credits paid to players",
	})

	// PersistFailures counts snapshot writes that failed.
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_persist_failures_total",
		Help: "Snapshot writes that failed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradesim_http_request_duration_seconds",
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

		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(duration)
	})
}

// routePattern labels by the matched chi route so static file paths do not
// blow up cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
