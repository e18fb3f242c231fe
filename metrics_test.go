package photon

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordPut(1024, 1_000_000, true)
	m.RecordGet(2048, 2_000_000, true)
	m.RecordPut(512, 500_000, false)

	snap = m.Snapshot()

	if snap.PutOps != 2 {
		t.Errorf("expected 2 put ops, got %d", snap.PutOps)
	}
	if snap.GetOps != 1 {
		t.Errorf("expected 1 get op, got %d", snap.GetOps)
	}
	if snap.PutBytes != 1024 {
		t.Errorf("expected 1024 put bytes, got %d", snap.PutBytes)
	}
	if snap.GetBytes != 2048 {
		t.Errorf("expected 2048 get bytes, got %d", snap.GetBytes)
	}
	if snap.PutErrors != 1 {
		t.Errorf("expected 1 put error, got %d", snap.PutErrors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsPwcPathSplit(t *testing.T) {
	m := NewMetrics()

	m.RecordPwc(128, 1_000, true, true)
	m.RecordPwc(8192, 5_000, false, true)
	m.RecordPwc(256, 1_000, true, false)

	snap := m.Snapshot()
	if snap.PwcEager != 1 {
		t.Errorf("expected 1 eager pwc, got %d", snap.PwcEager)
	}
	if snap.PwcRendezvous != 1 {
		t.Errorf("expected 1 rendezvous pwc, got %d", snap.PwcRendezvous)
	}
	if snap.PwcErrors != 1 {
		t.Errorf("expected 1 pwc error, got %d", snap.PwcErrors)
	}
}

func TestMetricsLedgerOverflow(t *testing.T) {
	m := NewMetrics()
	m.RecordLedgerOverflow()
	m.RecordLedgerOverflow()

	if got := m.LedgerOverflows.Load(); got != 2 {
		t.Errorf("expected 2 ledger overflows, got %d", got)
	}
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(10)
	m.RecordQueueDepth(20)
	m.RecordQueueDepth(15)

	snap := m.Snapshot()

	if snap.MaxQueueDepth != 20 {
		t.Errorf("expected max queue depth 20, got %d", snap.MaxQueueDepth)
	}

	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgQueueDepth < expectedAvg-0.1 || snap.AvgQueueDepth > expectedAvg+0.1 {
		t.Errorf("expected avg queue depth %.1f, got %.1f", expectedAvg, snap.AvgQueueDepth)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordPut(1024, 1_000_000, true)
	m.RecordGet(1024, 2_000_000, true)

	snap := m.Snapshot()

	expectedAvgNs := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordPut(1024, 1_000_000, true)
	m.RecordGet(2048, 2_000_000, true)
	m.RecordQueueDepth(10)

	snap := m.Snapshot()
	if snap.TotalOps == 0 {
		t.Error("expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.TotalBytes != 0 {
		t.Errorf("expected 0 bytes after reset, got %d", snap.TotalBytes)
	}
	if snap.MaxQueueDepth != 0 {
		t.Errorf("expected 0 max queue depth after reset, got %d", snap.MaxQueueDepth)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObservePut(1024, 1_000_000, true)
	observer.ObserveGet(1024, 1_000_000, true)
	observer.ObservePwc(1024, 1_000_000, true, true)
	observer.ObserveLedgerOverflow()
	observer.ObserveQueueDepth(10)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObservePut(1024, 1_000_000, true)
	metricsObserver.ObserveGet(2048, 2_000_000, true)

	snap := m.Snapshot()
	if snap.PutOps != 1 {
		t.Errorf("expected 1 put op from observer, got %d", snap.PutOps)
	}
	if snap.GetOps != 1 {
		t.Errorf("expected 1 get op from observer, got %d", snap.GetOps)
	}
	if snap.PutBytes != 1024 {
		t.Errorf("expected 1024 put bytes from observer, got %d", snap.PutBytes)
	}
	if snap.GetBytes != 2048 {
		t.Errorf("expected 2048 get bytes from observer, got %d", snap.GetBytes)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordPut(1024, 1_000_000, true)
	m.RecordGet(2048, 2_000_000, true)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()
	if snap.TotalOps != 2 {
		t.Errorf("expected 2 total ops, got %d", snap.TotalOps)
	}
	if snap.UptimeNs != uint64(time.Second) {
		t.Errorf("expected uptime 1s, got %d ns", snap.UptimeNs)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordPut(1024, 500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordGet(1024, 5_000_000, true) // 5ms
	}
	m.RecordGet(1024, 50_000_000, true) // 50ms, P99

	snap := m.Snapshot()

	if snap.TotalOps != 100 {
		t.Errorf("expected 100 total ops, got %d", snap.TotalOps)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("expected histogram buckets to be populated")
	}
}
