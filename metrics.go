package photon

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the completion-latency histogram buckets in
// nanoseconds, logarithmically spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks PUT/GET/PWC traffic and completion latency for a
// Runtime. All fields are safe for concurrent use from the event loop
// and application goroutines alike.
type Metrics struct {
	PutOps atomic.Uint64 // completed photon_put (get-with-completion excluded)
	GetOps atomic.Uint64 // completed photon_get
	PwcOps atomic.Uint64 // completed put-with-completion sends

	PutBytes atomic.Uint64
	GetBytes atomic.Uint64
	PwcBytes atomic.Uint64

	PwcEager      atomic.Uint64 // PWC sends that took the single-PUT eager path
	PwcRendezvous atomic.Uint64 // PWC sends that took the two-PUT rendezvous path

	PutErrors atomic.Uint64
	GetErrors atomic.Uint64
	PwcErrors atomic.Uint64

	LedgerOverflows atomic.Uint64 // sends rejected because a ledger had no free slot

	// Queue statistics: outstanding-request counts passed to
	// RecordQueueDepth.
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a fresh Metrics with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordPut records a completed one-sided PUT.
func (m *Metrics) RecordPut(bytes uint64, latencyNs uint64, success bool) {
	m.PutOps.Add(1)
	if success {
		m.PutBytes.Add(bytes)
	} else {
		m.PutErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordGet records a completed one-sided GET.
func (m *Metrics) RecordGet(bytes uint64, latencyNs uint64, success bool) {
	m.GetOps.Add(1)
	if success {
		m.GetBytes.Add(bytes)
	} else {
		m.GetErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordPwc records a completed put-with-completion send, attributing it
// to the eager or rendezvous path it took.
func (m *Metrics) RecordPwc(bytes uint64, latencyNs uint64, eager bool, success bool) {
	m.PwcOps.Add(1)
	if success {
		m.PwcBytes.Add(bytes)
		if eager {
			m.PwcEager.Add(1)
		} else {
			m.PwcRendezvous.Add(1)
		}
	} else {
		m.PwcErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordLedgerOverflow counts a send rejected for lack of a free ledger slot.
func (m *Metrics) RecordLedgerOverflow() {
	m.LedgerOverflows.Add(1)
}

// RecordQueueDepth samples the number of outstanding requests.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the Runtime as finalized for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, non-atomic copy of Metrics for
// reporting and testing.
type MetricsSnapshot struct {
	PutOps, GetOps, PwcOps       uint64
	PutBytes, GetBytes, PwcBytes uint64
	PwcEager, PwcRendezvous      uint64
	PutErrors, GetErrors, PwcErrors uint64
	LedgerOverflows              uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns, LatencyP99Ns, LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64
}

// Snapshot computes a MetricsSnapshot from the live counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PutOps:          m.PutOps.Load(),
		GetOps:          m.GetOps.Load(),
		PwcOps:          m.PwcOps.Load(),
		PutBytes:        m.PutBytes.Load(),
		GetBytes:        m.GetBytes.Load(),
		PwcBytes:        m.PwcBytes.Load(),
		PwcEager:        m.PwcEager.Load(),
		PwcRendezvous:   m.PwcRendezvous.Load(),
		PutErrors:       m.PutErrors.Load(),
		GetErrors:       m.GetErrors.Load(),
		PwcErrors:       m.PwcErrors.Load(),
		LedgerOverflows: m.LedgerOverflows.Load(),
		MaxQueueDepth:   m.MaxQueueDepth.Load(),
	}

	snap.TotalOps = snap.PutOps + snap.GetOps + snap.PwcOps
	snap.TotalBytes = snap.PutBytes + snap.GetBytes + snap.PwcBytes

	if c := m.QueueDepthCount.Load(); c > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(c)
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	totalErrors := snap.PutErrors + snap.GetErrors + snap.PwcErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) by linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters, useful between test cases.
func (m *Metrics) Reset() {
	m.PutOps.Store(0)
	m.GetOps.Store(0)
	m.PwcOps.Store(0)
	m.PutBytes.Store(0)
	m.GetBytes.Store(0)
	m.PwcBytes.Store(0)
	m.PwcEager.Store(0)
	m.PwcRendezvous.Store(0)
	m.PutErrors.Store(0)
	m.GetErrors.Store(0)
	m.PwcErrors.Store(0)
	m.LedgerOverflows.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer receives per-operation observations. Runtime holds one; by
// default it is a MetricsObserver over the Runtime's *Metrics, but
// PrometheusObserver or a NoOpObserver can be substituted via Config.
// Neither Runtime nor the event loop calls it: its counts change only
// through direct calls to its methods.
type Observer interface {
	ObservePut(bytes uint64, latencyNs uint64, success bool)
	ObserveGet(bytes uint64, latencyNs uint64, success bool)
	ObservePwc(bytes uint64, latencyNs uint64, eager bool, success bool)
	ObserveLedgerOverflow()
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObservePut(uint64, uint64, bool)        {}
func (NoOpObserver) ObserveGet(uint64, uint64, bool)        {}
func (NoOpObserver) ObservePwc(uint64, uint64, bool, bool)  {}
func (NoOpObserver) ObserveLedgerOverflow()                 {}
func (NoOpObserver) ObserveQueueDepth(uint32)               {}

// MetricsObserver adapts the built-in Metrics to the Observer interface.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver wraps m as an Observer.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObservePut(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordPut(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveGet(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordGet(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObservePwc(bytes uint64, latencyNs uint64, eager bool, success bool) {
	o.metrics.RecordPwc(bytes, latencyNs, eager, success)
}

func (o *MetricsObserver) ObserveLedgerOverflow() {
	o.metrics.RecordLedgerOverflow()
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
