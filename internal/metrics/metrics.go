// Package metrics exposes control loop and stream measurements as
// Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gamepilot"

// Probe result labels.
const (
	ResultActive   = "active"
	ResultInactive = "inactive"
	ResultError    = "error"
)

// Collector holds every gamepilot metric. It satisfies controller.Observer
// and stream.Observer.
type Collector struct {
	registry *prometheus.Registry

	state           *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
	round           prometheus.Gauge
	roundsStarted   *prometheus.CounterVec
	probes          *prometheus.CounterVec
	ticksSkipped    prometheus.Counter
	postActions     *prometheus.CounterVec
	streamConnected prometheus.Gauge
	streamEvents    *prometheus.CounterVec
	decodeFailures  prometheus.Counter
	eventsDropped   prometheus.Counter
}

// New registers the gamepilot collectors on a fresh registry, together with
// the Go runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "state",
			Help:      "1 for the controller's current state, 0 otherwise",
		}, []string{"state"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "transitions_total",
			Help:      "Controller state transitions by target state",
		}, []string{"to"}),
		round: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "round",
			Help:      "Current round number",
		}),
		roundsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "rounds_started_total",
			Help:      "Accepted session starts by reason (initial, advance, retry)",
		}, []string{"reason"}),
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "probes_total",
			Help:      "Activity probes by result",
		}, []string{"result"}),
		ticksSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "ticks_skipped_total",
			Help:      "Ticks dropped because a probe was still pending",
		}),
		postActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "post_actions_total",
			Help:      "Post-session actions by action and result",
		}, []string{"action", "result"}),
		streamConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connected",
			Help:      "1 while the telemetry stream is open",
		}),
		streamEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Decoded stream events by type",
		}, []string{"type"}),
		decodeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "decode_failures_total",
			Help:      "Stream events that could not be decoded",
		}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Internal events dropped because a subscriber was full",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// StateChanged records a controller transition.
func (c *Collector) StateChanged(from, to string) {
	if from != "" {
		c.state.WithLabelValues(from).Set(0)
	}
	c.state.WithLabelValues(to).Set(1)
	c.transitions.WithLabelValues(to).Inc()
}

// RoundStarted records an accepted session start.
func (c *Collector) RoundStarted(round int, reason string) {
	c.round.Set(float64(round))
	c.roundsStarted.WithLabelValues(reason).Inc()
}

// Probe records one heartbeat result.
func (c *Collector) Probe(active bool, err error) {
	switch {
	case err != nil:
		c.probes.WithLabelValues(ResultError).Inc()
	case active:
		c.probes.WithLabelValues(ResultActive).Inc()
	default:
		c.probes.WithLabelValues(ResultInactive).Inc()
	}
}

// TickSkipped records a dropped heartbeat tick.
func (c *Collector) TickSkipped() {
	c.ticksSkipped.Inc()
}

// PostAction records the outcome of a post-session action.
func (c *Collector) PostAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.postActions.WithLabelValues(action, result).Inc()
}

// StreamConnected records the stream connection flag.
func (c *Collector) StreamConnected(connected bool) {
	if connected {
		c.streamConnected.Set(1)
		return
	}
	c.streamConnected.Set(0)
}

// StreamEvent records one decoded stream event.
func (c *Collector) StreamEvent(eventType string) {
	c.streamEvents.WithLabelValues(eventType).Inc()
}

// StreamDecodeFailed records an undecodable stream event.
func (c *Collector) StreamDecodeFailed() {
	c.decodeFailures.Inc()
}

// EventDropped records an internal event lost to a full subscriber.
func (c *Collector) EventDropped() {
	c.eventsDropped.Inc()
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("metrics listener stopped")
		return nil
	}
}
