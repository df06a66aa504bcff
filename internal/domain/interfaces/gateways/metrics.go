package gateways

import "time"

// PublishObservation summarizes one publication run for metrics
type PublishObservation struct {
	Success      bool
	Skipped      bool
	Bytes        int64
	Archives     int
	SnapshotSize int64
	Duration     time.Duration
	FinishedAt   time.Time
}

// MetricsRecorder records publication metrics
type MetricsRecorder interface {
	ObservePublish(obs PublishObservation)
	Flush() error
}

// NoOpMetrics discards every observation
type NoOpMetrics struct{}

func (NoOpMetrics) ObservePublish(PublishObservation) {}

func (NoOpMetrics) Flush() error { return nil }
