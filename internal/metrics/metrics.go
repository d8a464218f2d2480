// Package metrics exposes Prometheus counters for the protocol engine.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matt0x6f/cascade-core/internal/logger"
)

// Collector holds the engine metrics and the registry they live in.
type Collector struct {
	Registry *prometheus.Registry

	LinesReceived  *prometheus.CounterVec
	LinesSent      *prometheus.CounterVec
	ParseErrors    *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	Unhandled      *prometheus.CounterVec
	InvalidIntents *prometheus.CounterVec
	Reconnects     *prometheus.CounterVec
	Phase          *prometheus.GaugeVec
}

// New creates a Collector with its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		Registry: reg,
		LinesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irc_lines_received_total",
			Help: "Protocol lines read from the server",
		}, []string{"network"}),
		LinesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irc_lines_sent_total",
			Help: "Protocol lines written to the server",
		}, []string{"network"}),
		ParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irc_parse_errors_total",
			Help: "Lines dropped because they could not be parsed",
		}, []string{"network"}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irc_frames_dropped_total",
			Help: "Lines dropped for exceeding the maximum length",
		}, []string{"network"}),
		Unhandled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irc_unhandled_messages_total",
			Help: "Messages with a command or numeric the client does not handle",
		}, []string{"network", "command"}),
		InvalidIntents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irc_invalid_intents_total",
			Help: "Outgoing commands rejected before transmission",
		}, []string{"network"}),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irc_reconnect_attempts_total",
			Help: "Reconnection attempts after a transport failure",
		}, []string{"network"}),
		Phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "irc_session_phase",
			Help: "Current session phase (0 disconnected, 1 connecting, 2 registering, 3 registered)",
		}, []string{"network"}),
	}
}

func (c *Collector) LineReceived(network string) {
	if c != nil {
		c.LinesReceived.WithLabelValues(network).Inc()
	}
}

func (c *Collector) LineSent(network string) {
	if c != nil {
		c.LinesSent.WithLabelValues(network).Inc()
	}
}

func (c *Collector) ParseError(network string) {
	if c != nil {
		c.ParseErrors.WithLabelValues(network).Inc()
	}
}

func (c *Collector) FrameDropped(network string) {
	if c != nil {
		c.FramesDropped.WithLabelValues(network).Inc()
	}
}

func (c *Collector) UnhandledCommand(network, command string) {
	if c != nil {
		c.Unhandled.WithLabelValues(network, command).Inc()
	}
}

func (c *Collector) InvalidIntent(network string) {
	if c != nil {
		c.InvalidIntents.WithLabelValues(network).Inc()
	}
}

func (c *Collector) Reconnect(network string) {
	if c != nil {
		c.Reconnects.WithLabelValues(network).Inc()
	}
}

func (c *Collector) SetPhase(network string, phase int) {
	if c != nil {
		c.Phase.WithLabelValues(network).Set(float64(phase))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve runs a /metrics endpoint on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Log.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}()

	logger.Log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
