// Package otel publishes authclient counters and latency histograms through
// OpenTelemetry observable instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per client counter and
// an Int64ObservableGauge per histogram bucket. A single callback reads
// [authclient.Client.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate client state.
package otel
