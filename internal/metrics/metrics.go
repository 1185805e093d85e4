// Package metrics exposes recording and transcription measurements in
// Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"whispr/internal/domain"
)

// Metrics implements ports.Telemetry.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted   prometheus.Counter
	SessionsEnded     *prometheus.CounterVec
	HotkeysDropped    prometheus.Counter
	ClipDuration      prometheus.Histogram
	TransportLatency  *prometheus.HistogramVec
	TransportFailures *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_sessions_started_total",
			Help: "Total number of capture sessions started",
		}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whispr_sessions_ended_total",
			Help: "Total number of recording attempts by outcome",
		}, []string{"reason"}),
		HotkeysDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_hotkeys_dropped_total",
			Help: "Hotkey events ignored because the indicator was not ready",
		}),
		ClipDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whispr_clip_duration_seconds",
			Help:    "Duration of encoded clips",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		TransportLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whispr_transport_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}, []string{"provider"}),
		TransportFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whispr_transport_failures_total",
			Help: "Total number of failed transcription requests",
		}, []string{"provider"}),
	}
}

func (m *Metrics) SessionStarted() { m.SessionsStarted.Inc() }

func (m *Metrics) SessionEnded(reason domain.SessionStateReason) {
	m.SessionsEnded.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) HotkeyDropped() { m.HotkeysDropped.Inc() }

func (m *Metrics) ClipEncoded(duration time.Duration) {
	m.ClipDuration.Observe(duration.Seconds())
}

func (m *Metrics) TransportCompleted(provider string, latency time.Duration, err error) {
	if provider == "" {
		provider = "unknown"
	}
	m.TransportLatency.WithLabelValues(provider).Observe(latency.Seconds())
	if err != nil {
		m.TransportFailures.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics on a local address.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

func NewServer(address string, m *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &Server{
		server: &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return nil, err
	}
	s.logger.Info("metrics server listening", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	return ln.Addr(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
