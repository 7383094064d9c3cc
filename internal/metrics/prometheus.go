package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Probe outcomes used as the "outcome" label.
const (
	OutcomeSuccess        = "success"
	OutcomeHTTPError      = "http_error"
	OutcomeTransportError = "transport_error"
)

// Sweep triggers used as the "trigger" label.
const (
	TriggerPeriodic = "periodic"
	TriggerManual   = "manual"
)

// Collector owns the monitor's Prometheus series. A nil *Collector is valid
// and records nothing.
type Collector struct {
	probeTotal     *prometheus.CounterVec
	probeDuration  *prometheus.HistogramVec
	sweepTotal     *prometheus.CounterVec
	sweepSkipped   prometheus.Counter
	probeDropped   *prometheus.CounterVec
	sinkErrors     prometheus.Counter
	endpointsGauge prometheus.Gauge
}

func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		probeTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apimonitor_probes_total",
				Help: "Total number of probes executed",
			},
			[]string{"endpoint", "outcome"},
		),
		probeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apimonitor_probe_duration_seconds",
				Help:    "Wall-clock duration of probes, failures included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		sweepTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apimonitor_sweeps_total",
				Help: "Total number of sweeps started",
			},
			[]string{"trigger"},
		),
		sweepSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "apimonitor_sweeps_skipped_total",
			Help: "Periodic ticks skipped because the previous sweep was still running",
		}),
		probeDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apimonitor_probes_dropped_total",
				Help: "Probes dropped because the endpoint already had one in flight",
			},
			[]string{"endpoint"},
		),
		sinkErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "apimonitor_sink_write_errors_total",
			Help: "Probe records that could not be written to the metrics sink",
		}),
		endpointsGauge: f.NewGauge(prometheus.GaugeOpts{
			Name: "apimonitor_endpoints_registered",
			Help: "Number of endpoints returned by the registry on the last sweep",
		}),
	}
}

func (c *Collector) RecordProbe(endpoint, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.probeTotal.WithLabelValues(endpoint, outcome).Inc()
	c.probeDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (c *Collector) SweepStarted(trigger string, endpoints int) {
	if c == nil {
		return
	}
	c.sweepTotal.WithLabelValues(trigger).Inc()
	c.endpointsGauge.Set(float64(endpoints))
}

func (c *Collector) SweepSkipped() {
	if c == nil {
		return
	}
	c.sweepSkipped.Inc()
}

func (c *Collector) ProbeDropped(endpoint string) {
	if c == nil {
		return
	}
	c.probeDropped.WithLabelValues(endpoint).Inc()
}

func (c *Collector) SinkWriteError() {
	if c == nil {
		return
	}
	c.sinkErrors.Inc()
}
