// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts simulated fills by strategy and side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_trades_total",
		Help: "Total number of simulated trades executed",
	}, []string{"strategy", "side"})

	// TradeRejections counts trades that failed validation.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_trade_rejections_total",
		Help: "Trades rejected before execution",
	}, []string{"side", "reason"})

	// TickDuration tracks decision tick latency per strategy.
	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrader_tick_duration_seconds",
		Help:    "Agent decision tick duration in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"strategy"})

	// RunningAgents tracks agents currently running.
	RunningAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrader_running_agents",
		Help: "Number of agents currently running",
	})

	// RegisteredAgents tracks agents known to the orchestrator.
	RegisteredAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrader_registered_agents",
		Help: "Number of agents registered with the orchestrator",
	})

	// RiskStops counts agents force-stopped by the drawdown limit.
	RiskStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrader_risk_stops_total",
		Help: "Agents stopped for exceeding their drawdown limit",
	})

	// FeeFallbacks counts fee lookups that fell back to the default rate.
	FeeFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_fee_fallbacks_total",
		Help: "Fee lookups resolved with the default schedule",
	}, []string{"exchange"})

	// StoreWrites counts persistence writes by backend, operation and outcome.
	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_store_writes_total",
		Help: "Persistence writes by backend, operation and result",
	}, []string{"backend", "op", "result"})

	// PortfolioValue tracks each agent's marked-to-market value.
	PortfolioValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "papertrader_portfolio_value",
		Help: "Agent portfolio value at the last monitor cycle",
	}, []string{"agent_id"})

	// FeedDrops counts market data points dropped for slow subscribers.
	FeedDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_feed_drops_total",
		Help: "Market data points dropped because a subscriber was full",
	}, []string{"asset"})

	// WebSocketClients tracks connected event stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrader_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrader_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency. pathFn maps a request to
// a low-cardinality label, typically the matched route pattern.
func Middleware(pathFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := pathFn(r)
			HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
			HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

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
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
