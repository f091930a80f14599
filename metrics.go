package webfront

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a specific counter or histogram in the in-process
// metrics system.
type MetricID uint16

const (
	// MetricLoginSuccess counts successful logins (all entry points).
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected login attempts (all entry points).
	MetricLoginFailure
	// MetricLoginRateLimited counts throttled login attempts.
	MetricLoginRateLimited
	// MetricLoginWhileImpersonation counts logins rejected because an
	// impersonation was active.
	MetricLoginWhileImpersonation
	// MetricRelogin counts silent identity switches on login.
	MetricRelogin
	// MetricDirectLoginRejected counts unsafeDirectLogin calls denied by
	// the allow service.
	MetricDirectLoginRejected
	// MetricRefreshSuccess counts refresh operations.
	MetricRefreshSuccess
	// MetricRefreshRateLimited counts throttled refresh attempts.
	MetricRefreshRateLimited
	// MetricRefreshRevoked counts sessions revoked by the backend
	// identity re-read.
	MetricRefreshRevoked
	// MetricSlidingRenewal counts sliding expiration extensions.
	MetricSlidingRenewal
	// MetricImpersonationStarted counts started impersonations.
	MetricImpersonationStarted
	// MetricImpersonationCleared counts cleared impersonations.
	MetricImpersonationCleared
	// MetricImpersonationForbidden counts refused impersonation attempts
	// (unknown target or denied by the allow service, indistinguishable
	// on purpose).
	MetricImpersonationForbidden
	// MetricLogout counts logouts clearing the safe cookie.
	MetricLogout
	// MetricLogoutFull counts full logouts also clearing the long-term cookie.
	MetricLogoutFull
	// MetricTokenInvalid counts credentials that failed to unprotect.
	MetricTokenInvalid
	// MetricAuthReadLatency is the credential-read latency histogram.
	MetricAuthReadLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds atomic counters and latency histograms. A nil or
// disabled Metrics turns every operation into a no-op.
type Metrics struct {
	enabled    bool
	counters   [metricIDCount]paddedCounter
	histograms [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a Metrics instance. When cfg.Enabled is false all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value returns the current value of a counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || !m.enabled || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

var histogramBoundsSeconds = [histBucketCount - 1]float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
}

// Observe records a duration into a latency histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	secs := d.Seconds()
	bucket := histBucketCount - 1
	for i, bound := range histogramBoundsSeconds {
		if secs <= bound {
			bucket = i
			break
		}
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucket], 1)
}

// Snapshot returns a deep copy of all counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if v := atomic.LoadUint64(&m.counters[id].value); v != 0 {
			snap.Counters[id] = v
		}
	}
	buckets := make([]uint64, histBucketCount)
	var any bool
	for i := range buckets {
		buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthReadLatency].buckets[i])
		any = any || buckets[i] != 0
	}
	if any {
		snap.Histograms[MetricAuthReadLatency] = buckets
	}
	return snap
}
