// Package prometheus exposes authclient metrics as a Prometheus collector.
//
// [NewPrometheusExporter] wraps a [authclient.Client] and registers itself in
// a private registry; mount [PrometheusExporter.Handler] or register the
// exporter in your own registry. Counter names are prefixed authclient_ and
// end in _total; the latency histograms end in _seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate client state.
package prometheus
