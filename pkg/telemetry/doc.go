// Package telemetry provides the observability hooks for the packet
// engine: Prometheus metrics for connections, packets, and queue depth,
// and an OpenTelemetry wrapper that traces packet dispatch.
//
// Both are opt-in. A nil *Metrics is a valid no-op recorder, so the
// engine can call it unconditionally, and TraceHandler simply wraps any
// packet handler function.
package telemetry
