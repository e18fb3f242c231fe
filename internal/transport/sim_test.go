package transport

import (
	"context"
	"testing"

	"github.com/ehrlich-b/photonrdma/internal/registry"
)

func twoRankFabric(t *testing.T, sizeA, sizeB int) (*SimBackend, *SimBackend, []byte, []byte) {
	t.Helper()
	fabric := NewFabric()
	a := NewSimBackend(fabric)
	b := NewSimBackend(fabric)

	memA := make([]byte, sizeA)
	memB := make([]byte, sizeB)

	paA, err := a.Init(context.Background(), Config{NProc: 2, Rank: 0}, 0, memA)
	if err != nil {
		t.Fatalf("init a: %v", err)
	}
	paB, err := b.Init(context.Background(), Config{NProc: 2, Rank: 1}, 1, memB)
	if err != nil {
		t.Fatalf("init b: %v", err)
	}

	if err := a.ConnectPeers([]PeerAddr{paA, paB}); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	if err := b.ConnectPeers([]PeerAddr{paA, paB}); err != nil {
		t.Fatalf("connect b: %v", err)
	}

	return a, b, memA, memB
}

func TestSimPutWritesIntoPeerRegion(t *testing.T) {
	a, _, _, memB := twoRankFabric(t, 256, 256)

	fabric := a.fabric
	rb, _ := fabric.region(1)

	payload := []byte{1, 2, 3, 4}
	if err := a.RdmaPut(1, payload, registry.BufferPriv{}, rb.base+10, registry.BufferPriv{}, 0xcafe, 0, 0); err != nil {
		t.Fatalf("put: %v", err)
	}

	for i, want := range payload {
		if memB[10+i] != want {
			t.Errorf("byte %d: expected %d, got %d", i, want, memB[10+i])
		}
	}

	events, status, err := a.GetEvent(1, 10)
	if err != nil {
		t.Fatalf("get_event: %v", err)
	}
	if status != EventOK {
		t.Fatalf("expected EventOK, got %s", status)
	}
	if len(events) != 1 || events[0].Cookie != 0xcafe {
		t.Fatalf("expected one completion with cookie 0xcafe, got %+v", events)
	}
}

func TestSimGetReadsFromPeerRegion(t *testing.T) {
	b, a, memB, _ := twoRankFabric(t, 256, 256)
	_ = b

	copy(memB[20:], []byte{9, 8, 7, 6})

	fabric := a.fabric
	rb, _ := fabric.region(1)

	out := make([]byte, 4)
	if err := a.RdmaGet(1, out, registry.BufferPriv{}, rb.base+20, registry.BufferPriv{}, 0xbeef, 0); err != nil {
		t.Fatalf("get: %v", err)
	}
	want := []byte{9, 8, 7, 6}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("byte %d: expected %d, got %d", i, want[i], out[i])
		}
	}
}

func TestSimGetEventEmptyReturnsNone(t *testing.T) {
	a, _, _, _ := twoRankFabric(t, 64, 64)
	_, status, err := a.GetEvent(1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != EventNone {
		t.Fatalf("expected EventNone, got %s", status)
	}
}

func TestSimPutOutOfRangeErrors(t *testing.T) {
	a, _, _, _ := twoRankFabric(t, 32, 32)
	fabric := a.fabric
	rb, _ := fabric.region(1)

	if err := a.RdmaPut(1, make([]byte, 64), registry.BufferPriv{}, rb.base, registry.BufferPriv{}, 1, 0, 0); err == nil {
		t.Fatal("expected an overrun error")
	}
}

func TestSimUnknownPeerErrors(t *testing.T) {
	a, _, _, _ := twoRankFabric(t, 32, 32)
	if err := a.RdmaPut(5, []byte{1}, registry.BufferPriv{}, 0, registry.BufferPriv{}, 1, 0, 0); err == nil {
		t.Fatal("expected an unknown-peer error")
	}
}
