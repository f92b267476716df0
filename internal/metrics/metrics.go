// Package metrics holds the prometheus collectors shared by the pipeline stages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "fuel"

// Metrics groups every collector the pipeline exports.
type Metrics struct {
	registry *prometheus.Registry

	FetchCycles       *prometheus.CounterVec
	SnapshotRecords   *prometheus.GaugeVec
	Published         *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	Rejected          *prometheus.CounterVec
	Dropped           *prometheus.CounterVec
	Accepted          *prometheus.CounterVec
	BufferDepth       *prometheus.GaugeVec
	RowsWritten       *prometheus.CounterVec
	WriteFailures     *prometheus.CounterVec
	PriceWatermark    prometheus.Gauge
	PublishedStations prometheus.Gauge
}

// New registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FetchCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_cycles_total",
			Help:      "Upstream fetch cycles by result.",
		}, []string{"result"}),
		SnapshotRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_records",
			Help:      "Records held in the latest snapshot.",
		}, []string{"kind"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages published per topic.",
		}, []string{"topic"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Messages that could not be published after retries.",
		}, []string{"topic"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Records rejected by validation.",
		}, []string{"kind", "reason"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Valid records filtered out (zero price).",
		}, []string{"kind"}),
		Accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_accepted_total",
			Help:      "Records accepted by validation.",
		}, []string{"kind"}),
		BufferDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cleaned_buffer_depth",
			Help:      "Cleaned records awaiting publish.",
		}, []string{"kind"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows appended to the store.",
		}, []string{"table"}),
		WriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Store writes that failed after retries.",
		}, []string{"table"}),
		PriceWatermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price_watermark_timestamp_seconds",
			Help:      "Unix time of the last published price watermark.",
		}),
		PublishedStations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "published_station_codes",
			Help:      "Distinct station codes forwarded so far.",
		}),
	}

	m.registry.MustRegister(
		m.FetchCycles,
		m.SnapshotRecords,
		m.Published,
		m.PublishFailures,
		m.Rejected,
		m.Dropped,
		m.Accepted,
		m.BufferDepth,
		m.RowsWritten,
		m.WriteFailures,
		m.PriceWatermark,
		m.PublishedStations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the prometheus registry for HTTP handlers and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
