// Package metrics collects processing counters and stage timings in a
// private Prometheus registry. The CLI is batch oriented, so metrics are
// written to a node-exporter textfile at the end of a run instead of
// being served over HTTP.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names
const (
	MetricSpectraTotal       = "mztemplate_spectra_total"
	MetricStageDuration      = "mztemplate_stage_duration_seconds"
	MetricTemplateFeatures   = "mztemplate_template_features"
	MetricCalibrationScale   = "mztemplate_calibration_scale"
	MetricRunDurationSeconds = "mztemplate_run_duration_seconds"
)

// Metrics holds the collectors of one run. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	spectraTotal     *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	templateFeatures prometheus.Gauge
	calibrationScale prometheus.Gauge
	runDuration      *prometheus.GaugeVec
}

// New creates the collectors in a fresh registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.spectraTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricSpectraTotal,
			Help: "Spectra processed, by phase and status.",
		},
		[]string{"phase", "status"},
	)
	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricStageDuration,
			Help:    "Duration of per-spectrum and batch stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"stage"},
	)
	m.templateFeatures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: MetricTemplateFeatures,
		Help: "Number of features in the current template.",
	})
	m.calibrationScale = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: MetricCalibrationScale,
		Help: "TIC calibration scale of the current template.",
	})
	m.runDuration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: MetricRunDurationSeconds,
			Help: "Wall time of the last run in seconds, by phase.",
		},
		[]string{"phase"},
	)
	m.registry.MustRegister(m.spectraTotal, m.stageDuration,
		m.templateFeatures, m.calibrationScale, m.runDuration)
	return m
}

// SpectrumDone counts one spectrum of the given phase and status
func (m *Metrics) SpectrumDone(phase, status string) {
	if m == nil {
		return
	}
	m.spectraTotal.WithLabelValues(phase, status).Inc()
}

// ObserveStage records the duration of a stage
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetTemplate records the template size and calibration scale
func (m *Metrics) SetTemplate(features int, scale float64) {
	if m == nil {
		return
	}
	m.templateFeatures.Set(float64(features))
	m.calibrationScale.Set(scale)
}

// SetRunDuration records the wall time of a run
func (m *Metrics) SetRunDuration(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(phase).Set(d.Seconds())
}

// WriteToTextfile writes all metrics in the text exposition format
func (m *Metrics) WriteToTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
