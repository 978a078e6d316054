// Package metrics exports node session counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/msgpass/internal/fault"
)

const namespace = "msgpass"

// Session implements node.Metrics on its own registry.
type Session struct {
	registry *prometheus.Registry

	sent        *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	faults      *prometheus.CounterVec
	transport   prometheus.Counter
	heldMessage prometheus.Gauge
}

// New creates the session metrics. node is attached as a constant label.
func New(node string) *Session {
	labels := prometheus.Labels{"node": node}
	s := &Session{
		registry: prometheus.NewRegistry(),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "messages_sent_total",
			Help:        "Messages written to a peer or the log collector.",
			ConstLabels: labels,
		}, []string{"kind"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "messages_delivered_total",
			Help:        "Messages handed to the application.",
			ConstLabels: labels,
		}, []string{"kind"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "fault_actions_total",
			Help:        "Fault rules applied, by path and action.",
			ConstLabels: labels,
		}, []string{"path", "action"}),
		transport: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "transport_errors_total",
			Help:        "Failed connection attempts and writes.",
			ConstLabels: labels,
		}),
		heldMessage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "holdback_messages",
			Help:        "Multicast messages waiting in hold-back queues.",
			ConstLabels: labels,
		}),
	}
	s.registry.MustRegister(
		s.sent, s.delivered, s.faults, s.transport, s.heldMessage,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

// Registry exposes the underlying registry.
func (s *Session) Registry() *prometheus.Registry { return s.registry }

func (s *Session) MessageSent(kind string)      { s.sent.WithLabelValues(kind).Inc() }
func (s *Session) MessageDelivered(kind string) { s.delivered.WithLabelValues(kind).Inc() }
func (s *Session) TransportError()              { s.transport.Inc() }
func (s *Session) HeldMessages(n int)           { s.heldMessage.Set(float64(n)) }

func (s *Session) FaultAction(path string, action fault.Action) {
	s.faults.WithLabelValues(path, string(action)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (s *Session) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (s *Session) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}
