package simigo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordFind is called after each find operation.
	// results is the number of matches returned, duration is the total
	// time taken including fetch and extraction, err is nil on success.
	RecordFind(results int, duration time.Duration, err error)

	// RecordSave is called after each save operation.
	RecordSave(duration time.Duration, err error)

	// RecordSweep is called after each registry expiry sweep.
	// removed is the number of expired requests dropped.
	RecordSweep(removed int)

	// RecordRefresh is called after each store refresh cycle.
	RecordRefresh(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordFind(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSave(time.Duration, error)      {}
func (NoopMetricsCollector) RecordSweep(int)                      {}
func (NoopMetricsCollector) RecordRefresh(time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	FindCount         atomic.Int64
	FindErrors        atomic.Int64
	FindTotalNanos    atomic.Int64
	SaveCount         atomic.Int64
	SaveErrors        atomic.Int64
	SaveTotalNanos    atomic.Int64
	SweepCount        atomic.Int64
	SweepRemoved      atomic.Int64
	RefreshCount      atomic.Int64
	RefreshErrors     atomic.Int64
	RefreshTotalNanos atomic.Int64
}

// RecordFind implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFind(_ int, duration time.Duration, err error) {
	b.FindCount.Add(1)
	b.FindTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FindErrors.Add(1)
	}
}

// RecordSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSave(duration time.Duration, err error) {
	b.SaveCount.Add(1)
	b.SaveTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SaveErrors.Add(1)
	}
}

// RecordSweep implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSweep(removed int) {
	b.SweepCount.Add(1)
	b.SweepRemoved.Add(int64(removed))
}

// RecordRefresh implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRefresh(duration time.Duration, err error) {
	b.RefreshCount.Add(1)
	b.RefreshTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RefreshErrors.Add(1)
	}
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector counters.
type BasicMetricsStats struct {
	FindCount     int64
	FindErrors    int64
	FindAvgNanos  int64
	SaveCount     int64
	SaveErrors    int64
	SweepCount    int64
	SweepRemoved  int64
	RefreshCount  int64
	RefreshErrors int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		FindCount:     b.FindCount.Load(),
		FindErrors:    b.FindErrors.Load(),
		SaveCount:     b.SaveCount.Load(),
		SaveErrors:    b.SaveErrors.Load(),
		SweepCount:    b.SweepCount.Load(),
		SweepRemoved:  b.SweepRemoved.Load(),
		RefreshCount:  b.RefreshCount.Load(),
		RefreshErrors: b.RefreshErrors.Load(),
	}
	if stats.FindCount > 0 {
		stats.FindAvgNanos = b.FindTotalNanos.Load() / stats.FindCount
	}
	return stats
}
