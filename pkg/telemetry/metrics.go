package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "skylight").
	Namespace string

	// Subsystem is the metrics subsystem (default: "engine").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "skylight",
		Subsystem: "engine",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the engine's Prometheus collectors. All record methods
// are safe to call on a nil receiver, which disables them; the engine
// never needs to branch on whether metrics are configured.
type Metrics struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	framesSent      prometheus.Counter
	framesReceived  prometheus.Counter
	chunksReceived  prometheus.Counter
	compressSkipped prometheus.Counter

	connectionsOpened *prometheus.CounterVec
	connectionsClosed *prometheus.CounterVec
	connectionsActive prometheus.Gauge
	queueDepth        prometheus.Gauge

	dispatchDuration *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors and returns the recorder.
// Registering twice on the same registry panics, as usual with promauto;
// create one Metrics per process (or per test registry).
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	return &Metrics{
		packetsSent:     counterVec("packets_sent_total", "Packets written to the wire", "type"),
		packetsReceived: counterVec("packets_received_total", "Packets decoded from the wire", "type"),
		bytesSent:       counter("bytes_sent_total", "Frame payload bytes written"),
		bytesReceived:   counter("bytes_received_total", "Frame payload bytes read"),
		framesSent:      counter("frames_sent_total", "Wire frames written"),
		framesReceived:  counter("frames_received_total", "Wire frames read"),
		chunksReceived:  counter("chunks_received_total", "Chunk frames fed to reassembly"),
		compressSkipped: counter("compression_skipped_total", "Payloads sent uncompressed because compression did not shrink them"),

		connectionsOpened: counterVec("connections_opened_total", "Protocol instances started", "kind"),
		connectionsClosed: counterVec("connections_closed_total", "Protocol instances closed", "kind", "reason"),
		connectionsActive: gauge("connections_active", "Protocol instances currently open"),
		queueDepth:        gauge("send_queue_depth", "Outgoing items queued across connections"),

		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_duration_seconds",
			Help:        "Packet handler duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

// PacketSent records one outgoing packet and its wire footprint.
func (m *Metrics) PacketSent(ptype string, bytes, frames int) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(ptype).Inc()
	m.bytesSent.Add(float64(bytes))
	m.framesSent.Add(float64(frames))
}

// PacketReceived records one fully decoded incoming packet.
func (m *Metrics) PacketReceived(ptype string, bytes int) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(ptype).Inc()
	m.bytesReceived.Add(float64(bytes))
}

// FrameReceived records one wire frame read, chunk or not.
func (m *Metrics) FrameReceived(chunk bool) {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
	if chunk {
		m.chunksReceived.Inc()
	}
}

// CompressionSkipped records a payload sent raw because compressing it
// did not help.
func (m *Metrics) CompressionSkipped() {
	if m == nil {
		return
	}
	m.compressSkipped.Inc()
}

// ConnectionOpened records a started Protocol on the given transport
// kind.
func (m *Metrics) ConnectionOpened(kind string) {
	if m == nil {
		return
	}
	m.connectionsOpened.WithLabelValues(kind).Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records a closed Protocol and its close reason.
func (m *Metrics) ConnectionClosed(kind, reason string) {
	if m == nil {
		return
	}
	m.connectionsClosed.WithLabelValues(kind, reason).Inc()
	m.connectionsActive.Dec()
}

// QueueDepthDelta adjusts the shared send-queue depth gauge.
func (m *Metrics) QueueDepthDelta(delta int) {
	if m == nil {
		return
	}
	m.queueDepth.Add(float64(delta))
}

// ObserveDispatch records the handler duration for one packet type.
func (m *Metrics) ObserveDispatch(ptype string, seconds float64) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(ptype).Observe(seconds)
}
