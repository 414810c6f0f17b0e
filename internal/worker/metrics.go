package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	recordsTotal         *prometheus.CounterVec
	recordDuration       *prometheus.HistogramVec
	activeRecords        prometheus.Gauge
	renditionsTotal      prometheus.Counter
	renditionFailures    *prometheus.CounterVec
	pixelsProcessedTotal prometheus.Counter
	bytesWrittenTotal    prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgfield_worker_records_total",
			Help: "Total rendition runs by final record status.",
		}, []string{"status"}),
		recordDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imgfield_worker_record_duration_seconds",
			Help:    "Total processing duration for each rendition run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imgfield_worker_active_records",
			Help: "Current number of records being processed by the worker.",
		}),
		renditionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgfield_worker_renditions_total",
			Help: "Total renditions generated and written to storage.",
		}),
		renditionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgfield_worker_rendition_failures_total",
			Help: "Total per-format failures by stage: imaging, config or io.",
		}, []string{"stage"}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgfield_usage_pixels_processed_total",
			Help: "Total rendition pixels produced across all successful runs.",
		}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgfield_usage_bytes_written_total",
			Help: "Total rendition bytes written across all successful runs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgfield_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful runs.",
		}),
	}

	registry.MustRegister(
		m.recordsTotal,
		m.recordDuration,
		m.activeRecords,
		m.renditionsTotal,
		m.renditionFailures,
		m.pixelsProcessedTotal,
		m.bytesWrittenTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
