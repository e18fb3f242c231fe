package photon

import "sync"

// MockObserver records every observation it receives, for assertions in
// tests that exercise Runtime without a live Prometheus registry.
type MockObserver struct {
	mu sync.Mutex

	Puts, Gets, Pwcs      int
	PutBytes, GetBytes    uint64
	PwcBytes              uint64
	PwcEagerCount         int
	PwcRendezvousCount    int
	PutFailures           int
	GetFailures           int
	PwcFailures           int
	LedgerOverflowCount   int
	QueueDepthSamples     []uint32
}

// NewMockObserver returns a zeroed MockObserver.
func NewMockObserver() *MockObserver {
	return &MockObserver{}
}

func (m *MockObserver) ObservePut(bytes uint64, _ uint64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Puts++
	if success {
		m.PutBytes += bytes
	} else {
		m.PutFailures++
	}
}

func (m *MockObserver) ObserveGet(bytes uint64, _ uint64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets++
	if success {
		m.GetBytes += bytes
	} else {
		m.GetFailures++
	}
}

func (m *MockObserver) ObservePwc(bytes uint64, _ uint64, eager bool, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pwcs++
	if !success {
		m.PwcFailures++
		return
	}
	m.PwcBytes += bytes
	if eager {
		m.PwcEagerCount++
	} else {
		m.PwcRendezvousCount++
	}
}

func (m *MockObserver) ObserveLedgerOverflow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LedgerOverflowCount++
}

func (m *MockObserver) ObserveQueueDepth(depth uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueueDepthSamples = append(m.QueueDepthSamples, depth)
}

// MockObserverSnapshot is a non-atomic copy of MockObserver's counters,
// safe to inspect without holding the observer's lock.
type MockObserverSnapshot struct {
	Puts, Gets, Pwcs           int
	PutBytes, GetBytes         uint64
	PwcBytes                   uint64
	PwcEagerCount              int
	PwcRendezvousCount         int
	PutFailures                int
	GetFailures                int
	PwcFailures                int
	LedgerOverflowCount        int
	QueueDepthSamples          []uint32
}

// Snapshot returns a copy of the recorded counters.
func (m *MockObserver) Snapshot() MockObserverSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MockObserverSnapshot{
		Puts: m.Puts, Gets: m.Gets, Pwcs: m.Pwcs,
		PutBytes: m.PutBytes, GetBytes: m.GetBytes, PwcBytes: m.PwcBytes,
		PwcEagerCount: m.PwcEagerCount, PwcRendezvousCount: m.PwcRendezvousCount,
		PutFailures: m.PutFailures, GetFailures: m.GetFailures, PwcFailures: m.PwcFailures,
		LedgerOverflowCount: m.LedgerOverflowCount,
		QueueDepthSamples:   append([]uint32(nil), m.QueueDepthSamples...),
	}
}

var _ Observer = (*MockObserver)(nil)
