package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dictation_sync"

// Metrics holds every collector exported by the process.
type Metrics struct {
	registry *prometheus.Registry

	hubPeers      prometheus.Gauge
	hubChannels   prometheus.Gauge
	hubFrames     *prometheus.CounterVec
	hubRejected   *prometheus.CounterVec
	presence      *prometheus.CounterVec
	transportOpen prometheus.Gauge
	transportDial *prometheus.CounterVec
	transportHits prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New builds a Metrics backed by its own registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		hubPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "peers",
			Help:      "Connected realtime peers.",
		}),
		hubChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "channels",
			Help:      "Channels with at least one peer.",
		}),
		hubFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "frames_total",
			Help:      "Frames received from peers by message type.",
		}, []string{"type"}),
		hubRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "rejected_total",
			Help:      "Upgrade attempts or frames rejected by reason.",
		}, []string{"reason"}),
		presence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "events_total",
			Help:      "Presence enter and leave events.",
		}, []string{"action"}),
		transportOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "open",
			Help:      "Shared realtime transports currently registered.",
		}),
		transportDial: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "dials_total",
			Help:      "Transport dials by result.",
		}, []string{"result"}),
		transportHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reuses_total",
			Help:      "Acquires served by an existing transport.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.hubPeers,
		m.hubChannels,
		m.hubFrames,
		m.hubRejected,
		m.presence,
		m.transportOpen,
		m.transportDial,
		m.transportHits,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PeerConnected records a peer joining a channel.
func (m *Metrics) PeerConnected() {
	if m == nil {
		return
	}
	m.hubPeers.Inc()
}

// PeerDisconnected records a peer leaving a channel.
func (m *Metrics) PeerDisconnected() {
	if m == nil {
		return
	}
	m.hubPeers.Dec()
}

// SetChannels records the number of live channels.
func (m *Metrics) SetChannels(n int) {
	if m == nil {
		return
	}
	m.hubChannels.Set(float64(n))
}

// FrameReceived counts one inbound frame of the given type.
func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.hubFrames.WithLabelValues(kind).Inc()
}

// Rejected counts one rejected upgrade or frame.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.hubRejected.WithLabelValues(reason).Inc()
}

// Presence counts one presence event ("enter" or "leave").
func (m *Metrics) Presence(action string) {
	if m == nil {
		return
	}
	m.presence.WithLabelValues(action).Inc()
}

// TransportDialed records a transport dial outcome.
func (m *Metrics) TransportDialed(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.transportDial.WithLabelValues(result).Inc()
}

// TransportReused records an acquire served by an existing transport.
func (m *Metrics) TransportReused() {
	if m == nil {
		return
	}
	m.transportHits.Inc()
}

// SetTransports records the number of registered transports.
func (m *Metrics) SetTransports(n int) {
	if m == nil {
		return
	}
	m.transportOpen.Set(float64(n))
}

// ObserveHTTP records one completed HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
