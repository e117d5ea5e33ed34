// Package metrics provides Prometheus instrumentation for the wallet engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BetsPlaced counts accepted bets, partitioned by sport.
	BetsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_bets_placed_total",
		Help: "Total number of bets placed",
	}, []string{"sport"})

	// BetsSettled counts settled bets by terminal outcome.
	BetsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_bets_settled_total",
		Help: "Total number of bets settled",
	}, []string{"outcome"})

	// DepositsApproved counts approved deposit requests.
	DepositsApproved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_deposits_approved_total",
		Help: "Total number of approved deposit requests",
	})

	// WithdrawalsApproved counts approved withdrawal requests.
	WithdrawalsApproved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_withdrawals_approved_total",
		Help: "Total number of approved withdrawal requests",
	})

	// ReferralBonuses counts referrer bonuses paid out.
	ReferralBonuses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_referral_bonuses_total",
		Help: "Total number of referral bonuses credited",
	})

	// SettlementDuration tracks the wall time of full match settlements.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wallet_settlement_duration_seconds",
		Help:    "Match settlement duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// InsufficientFundsRejections counts bets and withdrawals rejected
	// for lack of balance.
	InsufficientFundsRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_insufficient_funds_rejections_total",
		Help: "Operations rejected for insufficient funds",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
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

		// Use the raw path for the label; routes here are low-cardinality.
		path := r.URL.Path
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
