// Package metrics provides Prometheus instrumentation for the wager engine.
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
	// WagersPlaced counts placed wagers, partitioned by side.
	WagersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwage_wagers_placed_total",
		Help: "Total number of wagers placed",
	}, []string{"side"})

	// WagersCancelled counts cancelled wagers (full or partial remainder).
	WagersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairwage_wagers_cancelled_total",
		Help: "Total number of wager cancellations",
	})

	// FillsRecorded counts fills produced by the matching engine.
	FillsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairwage_fills_total",
		Help: "Total number of fills recorded",
	})

	// MatchedVolume accumulates matched stake volume in minor units.
	MatchedVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairwage_matched_volume_minor_units_total",
		Help: "Cumulative matched stake volume in minor units",
	})

	// SettlementsTotal counts settled events, partitioned by outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwage_settlements_total",
		Help: "Total number of events settled",
	}, []string{"outcome"})

	// PayoutVolume accumulates winner payouts in minor units.
	PayoutVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairwage_payout_volume_minor_units_total",
		Help: "Cumulative payout volume in minor units",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairwage_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwage_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pairwage_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
