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
	// OrdersTotal counts applied orders by side and book.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_orders_total",
		Help: "Total number of orders applied",
	}, []string{"side", "book"})

	// OrderRejections counts orders rejected before any write, by reason.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_order_rejections_total",
		Help: "Orders rejected by validation or holding checks",
	}, []string{"reason"})

	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_order_latency_seconds",
		Help:    "Order placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// QuoteFetches counts provider calls by outcome (ok, unavailable, error).
	QuoteFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_quote_fetches_total",
		Help: "Quote provider fetches by outcome",
	}, []string{"outcome"})

	// QuoteCacheRequests counts GetQuotes calls served from the window (hit)
	// or by a refresh (miss).
	QuoteCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_quote_cache_requests_total",
		Help: "Quote cache requests by result",
	}, []string{"result"})

	// RefreshDuration tracks refresh-and-persist runs.
	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portfolio_refresh_duration_seconds",
		Help:    "Duration of refresh-and-persist runs in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// RefreshPersisted counts holding/position records written by refreshes.
	RefreshPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_refresh_persisted_total",
		Help: "Records updated by refresh-and-persist",
	})

	// EventPublishFailures counts order events that could not be published.
	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_event_publish_failures_total",
		Help: "Order events that failed to publish",
	})

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
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern keeps the path label bounded: /orders/{orderID}, not one
// series per order id.
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

// Hijack lets the WebSocket upgrade reach the underlying connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
