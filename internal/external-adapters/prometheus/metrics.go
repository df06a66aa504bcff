// Package prometheus records publication metrics and writes them to a
// node_exporter textfile collector file.
package prometheus

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	"github.com/beobal/csp/internal/domain/interfaces/gateways"
)

const (
	metricRuns         = "csp_publish_runs_total"
	metricBytes        = "csp_publish_bytes_total"
	metricArchives     = "csp_publish_archives_total"
	metricDuration     = "csp_publish_duration_seconds"
	metricLastSuccess  = "csp_publish_last_success_timestamp_seconds"
	metricSnapshotSize = "csp_snapshot_size_bytes"
)

// Metrics holds the csp collectors in a private registry.
type Metrics struct {
	registry *prometheus.Registry
	textfile string

	runsTotal     *prometheus.CounterVec
	bytesTotal    prometheus.Counter
	archivesTotal prometheus.Counter
	duration      prometheus.Gauge
	lastSuccess   prometheus.Gauge
	snapshotSize  prometheus.Gauge
}

// New creates the collectors. Every csp run is a new process, so the values
// of an existing textfile are carried over. An empty textfile disables Flush.
func New(textfile string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		textfile: textfile,

		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricRuns,
			Help: "Total number of publication runs, by result (success, failure, skipped).",
		}, []string{"result"}),
		bytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: metricBytes,
			Help: "Total number of archive bytes published.",
		}),
		archivesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: metricArchives,
			Help: "Total number of table archives published.",
		}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Name: metricDuration,
			Help: "Duration of the last publication run.",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: metricLastSuccess,
			Help: "Unix time of the last successful publication.",
		}),
		snapshotSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: metricSnapshotSize,
			Help: "Uncompressed size of the last published snapshot.",
		}),
	}
	if textfile != "" {
		m.restore()
	}
	return m
}

// restore seeds the collectors from the textfile written by the previous
// run. A missing or unreadable file starts from zero.
func (m *Metrics) restore() {
	f, err := os.Open(m.textfile)
	if err != nil {
		return
	}
	defer f.Close() //nolint:errcheck // read only

	parser := expfmt.NewTextParser(model.LegacyValidation)
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return
	}

	for _, metric := range families[metricRuns].GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "result" {
				addCounter(m.runsTotal.WithLabelValues(label.GetValue()), metric)
			}
		}
	}
	restoreCounter(m.bytesTotal, families[metricBytes])
	restoreCounter(m.archivesTotal, families[metricArchives])
	restoreGauge(m.duration, families[metricDuration])
	restoreGauge(m.lastSuccess, families[metricLastSuccess])
	restoreGauge(m.snapshotSize, families[metricSnapshotSize])
}

func addCounter(c prometheus.Counter, metric *dto.Metric) {
	if v := metric.GetCounter().GetValue(); v > 0 {
		c.Add(v)
	}
}

func restoreCounter(c prometheus.Counter, family *dto.MetricFamily) {
	for _, metric := range family.GetMetric() {
		addCounter(c, metric)
	}
}

func restoreGauge(g prometheus.Gauge, family *dto.MetricFamily) {
	for _, metric := range family.GetMetric() {
		g.Set(metric.GetGauge().GetValue())
	}
}

// ObservePublish records one run.
func (m *Metrics) ObservePublish(obs gateways.PublishObservation) {
	switch {
	case obs.Skipped:
		m.runsTotal.WithLabelValues("skipped").Inc()
		return
	case !obs.Success:
		m.runsTotal.WithLabelValues("failure").Inc()
		m.duration.Set(obs.Duration.Seconds())
		return
	}

	m.runsTotal.WithLabelValues("success").Inc()
	m.bytesTotal.Add(float64(obs.Bytes))
	m.archivesTotal.Add(float64(obs.Archives))
	m.duration.Set(obs.Duration.Seconds())
	m.snapshotSize.Set(float64(obs.SnapshotSize))
	if !obs.FinishedAt.IsZero() {
		m.lastSuccess.Set(float64(obs.FinishedAt.Unix()))
	}
}

// Registry exposes the registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Flush writes the textfile atomically. It is a no-op without a path.
func (m *Metrics) Flush() error {
	if m.textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
