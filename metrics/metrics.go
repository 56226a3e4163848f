// Package metrics exposes agent counters to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "secretagent"

// Signature outcomes.
const (
	OutcomeSigned    = "signed"
	OutcomeNoMatch   = "no_match"
	OutcomeObjection = "objection"
	OutcomeFailed    = "failed"
)

// Metrics holds the agent's collectors.
type Metrics struct {
	requests      *prometheus.CounterVec
	signatures    *prometheus.CounterVec
	sessions      prometheus.Gauge
	sessionErrors prometheus.Counter
	gatherer      prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Agent requests received, by request type.",
		}, []string{"type"}),
		signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_total",
			Help:      "Signature requests, by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Client connections currently open.",
		}),
		sessionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Client connections that ended with a transport error.",
		}),
		gatherer: reg,
	}
	for _, c := range []prometheus.Collector{m.requests, m.signatures, m.sessions, m.sessionErrors} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

// ObserveRequest counts one request of the given type.
func (m *Metrics) ObserveRequest(requestType string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(requestType).Inc()
}

// ObserveSignature counts one signature request with the given outcome.
func (m *Metrics) ObserveSignature(outcome string) {
	if m == nil {
		return
	}
	m.signatures.WithLabelValues(outcome).Inc()
}

// SessionStarted marks a client connection as open.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionEnded marks a client connection as closed, counting it as an error
// when failed is set.
func (m *Metrics) SessionEnded(failed bool) {
	if m == nil {
		return
	}
	m.sessions.Dec()
	if failed {
		m.sessionErrors.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	logger.Info("metrics listening", "address", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to stop metrics server: %w", err)
	}
	return nil
}
