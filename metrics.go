package authclient

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one client counter or latency histogram.
type MetricID uint16

const (
	// MetricRequest counts HTTP exchanges attempted, replays included.
	MetricRequest MetricID = iota
	// MetricRequestFailure counts exchanges that produced an APIError.
	MetricRequestFailure
	// MetricNetworkError counts exchanges that failed without a response.
	MetricNetworkError
	// MetricUnauthorized counts 401 responses.
	MetricUnauthorized
	// MetricRefreshStarted counts refresh flights.
	MetricRefreshStarted
	// MetricRefreshSuccess counts flights that stored a new access token.
	MetricRefreshSuccess
	// MetricRefreshFailure counts flights that fell back to guest mode.
	MetricRefreshFailure
	// MetricRefreshCoalesced counts callers that joined a flight already in progress.
	MetricRefreshCoalesced
	// MetricReplayAuthenticated counts replays sent with a refreshed token.
	MetricReplayAuthenticated
	// MetricReplayGuest counts replays sent without credentials.
	MetricReplayGuest
	// MetricStaleTokenReplay counts 401s answered by replaying with a newer stored token.
	MetricStaleTokenReplay
	// MetricProactiveRefresh counts requests that refreshed before their first send.
	MetricProactiveRefresh
	// MetricLogin counts successful logins.
	MetricLogin
	// MetricLoginFailure counts failed logins.
	MetricLoginFailure
	// MetricLogout counts session clears, explicit or after a failed refresh.
	MetricLogout
	// MetricRequestLatency is the per-exchange latency histogram.
	MetricRequestLatency
	// MetricRefreshLatency is the per-flight latency histogram.
	MetricRefreshLatency
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

// Metrics holds lock-free counters and fixed-bucket latency histograms.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram id. Only latency IDs carry histograms.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isHistogram(id) {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and every histogram when latency is enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricRequestLatency, MetricRefreshLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isHistogram(id MetricID) bool {
	return id == MetricRequestLatency || id == MetricRefreshLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
