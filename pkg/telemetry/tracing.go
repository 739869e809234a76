package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/skylightd/skylight/pkg/packet"
)

// Default tracer name for the packet engine.
const defaultTracerName = "skylight"

// TraceConfig configures packet dispatch tracing.
type TraceConfig struct {
	// TracerName is the name of the tracer (default: "skylight").
	TracerName string

	// Filter determines which packets to trace. Return true to trace
	// the packet, false to skip. If nil, all packets are traced.
	Filter func(*packet.Packet) bool

	// AttributeExtractor extracts custom attributes from the packet.
	// Called for each traced dispatch.
	AttributeExtractor func(*packet.Packet) []attribute.KeyValue

	tracer trace.Tracer
}

// TraceOption configures packet dispatch tracing.
type TraceOption func(*TraceConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TraceOption {
	return func(c *TraceConfig) {
		c.TracerName = name
	}
}

// WithPacketFilter sets a filter function for packets.
func WithPacketFilter(filter func(*packet.Packet) bool) TraceOption {
	return func(c *TraceConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(*packet.Packet) []attribute.KeyValue) TraceOption {
	return func(c *TraceConfig) {
		c.AttributeExtractor = extractor
	}
}

// TraceHandler wraps a packet handler so every dispatch runs inside an
// OpenTelemetry span named after the packet type. The wrapped handler
// keeps the engine's serial dispatch contract; tracing adds no
// goroutines.
func TraceHandler(handler func(*packet.Packet), opts ...TraceOption) func(*packet.Packet) {
	config := TraceConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	config.tracer = otel.Tracer(config.TracerName)

	return func(pkt *packet.Packet) {
		if config.Filter != nil && !config.Filter(pkt) {
			handler(pkt)
			return
		}

		attrs := []attribute.KeyValue{
			attribute.String("packet.type", pkt.Type),
			attribute.Int("packet.args", pkt.Len()),
		}
		if config.AttributeExtractor != nil {
			attrs = append(attrs, config.AttributeExtractor(pkt)...)
		}

		_, span := config.tracer.Start(
			context.Background(),
			"packet."+pkt.Type,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attrs...),
			trace.WithTimestamp(time.Now()),
		)
		defer span.End()

		handler(pkt)
	}
}

// InstrumentHandler wraps a packet handler so dispatch duration is
// observed per packet type. A nil Metrics returns the handler unchanged.
func (m *Metrics) InstrumentHandler(handler func(*packet.Packet)) func(*packet.Packet) {
	if m == nil {
		return handler
	}
	return func(pkt *packet.Packet) {
		start := time.Now()
		handler(pkt)
		m.ObserveDispatch(pkt.Type, time.Since(start).Seconds())
	}
}
