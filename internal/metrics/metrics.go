// Package metrics exports stream and HTTP state to Prometheus.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"TickerStream/internal/model"
	"TickerStream/internal/stream"
)

const namespace = "tickerstream"

// Metrics is the collector set. Listen is a stream.Listener that keeps the
// gauges in step with the client.
type Metrics struct {
	QuotePrice          *prometheus.GaugeVec
	QuoteUpdatesTotal   *prometheus.CounterVec
	ConnectionState     *prometheus.GaugeVec
	ReconnectAttempts   *prometheus.GaugeVec
	ErrorsTotal         *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	mu        sync.Mutex
	lastQuote *model.Quote
	lastErr   string
}

func New() *Metrics {
	return &Metrics{
		QuotePrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quote_price",
			Help:      "Latest published price",
		}, []string{"symbol"}),
		QuoteUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_updates_total",
			Help:      "Quotes published, by source",
		}, []string{"symbol", "source"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"symbol", "state"}),
		ReconnectAttempts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts",
			Help:      "Consecutive automatic reconnect attempts",
		}, []string{"symbol"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Distinct stream errors surfaced",
		}, []string{"symbol"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.QuotePrice,
		m.QuoteUpdatesTotal,
		m.ConnectionState,
		m.ReconnectAttempts,
		m.ErrorsTotal,
		m.HTTPRequestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}
	return nil
}

func (m *Metrics) Listen(s stream.Snapshot) {
	for _, st := range model.AllStates {
		v := 0.0
		if st == s.Status {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s.Symbol, string(st)).Set(v)
	}
	m.ReconnectAttempts.WithLabelValues(s.Symbol).Set(float64(s.ReconnectAttempts))

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Quote != nil && s.Quote != m.lastQuote {
		m.lastQuote = s.Quote
		source := "real"
		if !s.Quote.IsRealData {
			source = "fallback"
		}
		m.QuotePrice.WithLabelValues(s.Symbol).Set(s.Quote.Price)
		m.QuoteUpdatesTotal.WithLabelValues(s.Symbol, source).Inc()
	}
	if s.Error != "" && s.Error != m.lastErr {
		m.ErrorsTotal.WithLabelValues(s.Symbol).Inc()
	}
	m.lastErr = s.Error
}
