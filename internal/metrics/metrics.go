// Package metrics exposes the bridge's Prometheus collectors. Labels never
// carry webhook destinations, which embed credentials.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/lifecycle"
	"stream-bridge/internal/stream"
)

const namespace = "stream_bridge"

// Metrics holds every collector and its registry.
type Metrics struct {
	registry *prometheus.Registry

	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	reconnects  prometheus.Counter
	frames      *prometheus.CounterVec
	parseErrors prometheus.Counter
	lastAlive   prometheus.Gauge

	queueDepth prometheus.Gauge
	dropped    prometheus.Counter
	unrouted   prometheus.Counter
	deliveries *prometheus.CounterVec
	duration   prometheus.Histogram

	activeRules    prometheus.Gauge
	truncatedRules prometheus.Gauge

	mirrored *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "state",
			Help:      "Current lifecycle state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),

		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "transitions_total",
			Help:      "Lifecycle state transitions",
		}, []string{"from", "to"}),

		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Connection attempts made after a backoff",
		}),

		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Frames received by kind",
		}, []string{"kind"}),

		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "parse_errors_total",
			Help:      "Frames that could not be parsed",
		}),

		lastAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "last_alive_timestamp_seconds",
			Help:      "Unix time of the last frame received",
		}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Events waiting for a dispatch worker",
		}),

		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Events dropped because the dispatch queue was full",
		}),

		unrouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "unrouted_total",
			Help:      "Data events that matched no destination",
		}),

		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by outcome and status class",
		}, []string{"outcome", "status"}),

		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "delivery_duration_seconds",
			Help:      "Webhook delivery duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		activeRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "active",
			Help:      "Filter rules installed upstream",
		}),

		truncatedRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "truncated",
			Help:      "Rules dropped by the rule count cap in the last sync",
		}),

		mirrored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "published_total",
			Help:      "Events published to mirror sinks",
		}, []string{"sink", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.state, m.transitions, m.reconnects, m.frames, m.parseErrors, m.lastAlive,
		m.queueDepth, m.dropped, m.unrouted, m.deliveries, m.duration,
		m.activeRules, m.truncatedRules, m.mirrored,
	)

	for _, s := range lifecycle.States() {
		m.state.WithLabelValues(s.String()).Set(0)
	}
	m.state.WithLabelValues(lifecycle.Idle.String()).Set(1)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTransition implements lifecycle.Observer.
func (m *Metrics) ObserveTransition(from, to lifecycle.State) {
	m.state.WithLabelValues(from.String()).Set(0)
	m.state.WithLabelValues(to.String()).Set(1)
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
	if from == lifecycle.Backoff && to == lifecycle.Connecting {
		m.reconnects.Inc()
	}
}

// ObserveFrame implements lifecycle.Observer.
func (m *Metrics) ObserveFrame(kind stream.Kind) {
	m.frames.WithLabelValues(kind.String()).Inc()
}

// ObserveParseError implements lifecycle.Observer.
func (m *Metrics) ObserveParseError() {
	m.parseErrors.Inc()
}

// ObserveDropped implements lifecycle.Observer.
func (m *Metrics) ObserveDropped() {
	m.dropped.Inc()
}

// ObserveQueueDepth implements lifecycle.Observer.
func (m *Metrics) ObserveQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// ObserveRules implements lifecycle.Observer.
func (m *Metrics) ObserveRules(active, truncated int) {
	m.activeRules.Set(float64(active))
	m.truncatedRules.Set(float64(truncated))
}

// ObserveLastAlive implements lifecycle.Observer.
func (m *Metrics) ObserveLastAlive(t time.Time) {
	m.lastAlive.Set(float64(t.UnixNano()) / 1e9)
}

// ObserveDelivery implements routing.Observer. The destination is not
// recorded.
func (m *Metrics) ObserveDelivery(_ string, status int, err error, elapsed time.Duration) {
	m.deliveries.WithLabelValues(deliveryOutcome(err), statusClass(status)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// ObserveUnrouted implements routing.Observer.
func (m *Metrics) ObserveUnrouted() {
	m.unrouted.Inc()
}

// ObserveMirror records one publish to a mirror sink.
func (m *Metrics) ObserveMirror(sink string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.mirrored.WithLabelValues(sink, outcome).Inc()
}

func deliveryOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.IsType(err, errors.ErrTypeDispatch):
		return "rejected"
	case errors.IsType(err, errors.ErrTypeInternal):
		return "circuit_open"
	default:
		return "error"
	}
}

// statusClass folds a status code into "2xx", "4xx" and so on. Zero means no
// response was received.
func statusClass(status int) string {
	if status <= 0 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}
