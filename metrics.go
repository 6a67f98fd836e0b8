package baggo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    ingestCounter  prometheus.Counter
//	    queryHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordIngest(files, failed int, duration time.Duration) {
//	    p.ingestCounter.Add(float64(files))
//	    // ... record failure count, duration, etc.
//	}
type MetricsCollector interface {
	// RecordIngest is called after each ingestion run.
	// files is the number of bags committed (new plus unchanged),
	// failed is the number that could not be ingested.
	RecordIngest(files, failed int, duration time.Duration)

	// RecordQuery is called after each catalog list query.
	RecordQuery(duration time.Duration, err error)

	// RecordReplayStart is called after each replay launch attempt.
	// err is nil if the session was started.
	RecordReplayStart(err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(int, int, time.Duration) {}
func (NoopMetricsCollector) RecordQuery(time.Duration, error)     {}
func (NoopMetricsCollector) RecordReplayStart(error)              {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IngestRuns        atomic.Int64
	IngestFiles       atomic.Int64
	IngestFailed      atomic.Int64
	IngestTotalNanos  atomic.Int64
	QueryCount        atomic.Int64
	QueryErrors       atomic.Int64
	QueryTotalNanos   atomic.Int64
	ReplayStarts      atomic.Int64
	ReplayStartErrors atomic.Int64
}

// RecordIngest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIngest(files, failed int, duration time.Duration) {
	b.IngestRuns.Add(1)
	b.IngestFiles.Add(int64(files))
	b.IngestFailed.Add(int64(failed))
	b.IngestTotalNanos.Add(duration.Nanoseconds())
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordReplayStart implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReplayStart(err error) {
	b.ReplayStarts.Add(1)
	if err != nil {
		b.ReplayStartErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		IngestRuns:        b.IngestRuns.Load(),
		IngestFiles:       b.IngestFiles.Load(),
		IngestFailed:      b.IngestFailed.Load(),
		IngestAvgNanos:    b.getAvgIngestNanos(),
		QueryCount:        b.QueryCount.Load(),
		QueryErrors:       b.QueryErrors.Load(),
		QueryAvgNanos:     b.getAvgQueryNanos(),
		ReplayStarts:      b.ReplayStarts.Load(),
		ReplayStartErrors: b.ReplayStartErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgIngestNanos() int64 {
	runs := b.IngestRuns.Load()
	if runs == 0 {
		return 0
	}
	return b.IngestTotalNanos.Load() / runs
}

func (b *BasicMetricsCollector) getAvgQueryNanos() int64 {
	count := b.QueryCount.Load()
	if count == 0 {
		return 0
	}
	return b.QueryTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	IngestRuns        int64
	IngestFiles       int64
	IngestFailed      int64
	IngestAvgNanos    int64
	QueryCount        int64
	QueryErrors       int64
	QueryAvgNanos     int64
	ReplayStarts      int64
	ReplayStartErrors int64
}
