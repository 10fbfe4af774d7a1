package annserve

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordQuery is called after each single-index query.
	// k is the number of neighbors requested, duration is the time taken,
	// err is nil if successful.
	RecordQuery(k int, duration time.Duration, err error)

	// RecordCrossQuery is called after each cross-index query.
	RecordCrossQuery(k int, duration time.Duration, err error)

	// RecordRefresh is called after each refresh attempt, including
	// rejected and failed ones.
	RecordRefresh(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordQuery(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordCrossQuery(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordRefresh(time.Duration, error)         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	QueryCount           atomic.Int64
	QueryErrors          atomic.Int64
	QueryTotalNanos      atomic.Int64
	CrossQueryCount      atomic.Int64
	CrossQueryErrors     atomic.Int64
	CrossQueryTotalNanos atomic.Int64
	RefreshCount         atomic.Int64
	RefreshErrors        atomic.Int64
	RefreshTotalNanos    atomic.Int64
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(k int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordCrossQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCrossQuery(k int, duration time.Duration, err error) {
	b.CrossQueryCount.Add(1)
	b.CrossQueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CrossQueryErrors.Add(1)
	}
}

// RecordRefresh implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRefresh(duration time.Duration, err error) {
	b.RefreshCount.Add(1)
	b.RefreshTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RefreshErrors.Add(1)
	}
}
