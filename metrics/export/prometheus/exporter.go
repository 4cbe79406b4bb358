package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() authclient.MetricsSnapshot
	EventsDropped() uint64
}

type counterDesc struct {
	id   authclient.MetricID
	desc *prometheus.Desc
}

// PrometheusExporter is a prometheus.Collector over client metrics. Values
// are read from a snapshot on every scrape.
type PrometheusExporter struct {
	source     metricsSource
	counters   []counterDesc
	histograms []counterDesc
	dropped    *prometheus.Desc
	registry   *prometheus.Registry
}

// NewPrometheusExporter creates an exporter that reads from client.
func NewPrometheusExporter(client *authclient.Client) *PrometheusExporter {
	return NewPrometheusExporterFromSource(client)
}

// NewPrometheusExporterFromSource creates an exporter from any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	p := &PrometheusExporter{
		source:     source,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]counterDesc, 0, len(internaldefs.HistogramDefs)),
		dropped:    prometheus.NewDesc(internaldefs.DroppedEventsName, internaldefs.DroppedEventsHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		p.counters = append(p.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		p.histograms = append(p.histograms, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}

	p.registry = prometheus.NewRegistry()
	p.registry.MustRegister(p)
	return p
}

// Describe implements prometheus.Collector.
func (p *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range p.counters {
		ch <- c.desc
	}
	for _, h := range p.histograms {
		ch <- h.desc
	}
	ch <- p.dropped
}

// Collect implements prometheus.Collector.
func (p *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	if p.source == nil {
		return
	}
	snapshot := p.source.MetricsSnapshot()

	for _, c := range p.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(snapshot.Counters[c.id]))
	}

	for _, h := range p.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for i, le := range internaldefs.HistogramUpperBounds {
			buckets[le] = cumulative[i]
		}
		// Sum is not tracked by the client; 0 keeps the series well-formed.
		ch <- prometheus.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(p.dropped, prometheus.CounterValue, float64(p.source.EventsDropped()))
}

// Registry returns the private registry the exporter is registered in.
func (p *PrometheusExporter) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the exporter's registry in the Prometheus exposition format.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
