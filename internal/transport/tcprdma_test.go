package transport

import (
	"context"
	"testing"
	"time"
	"unsafe"

	"github.com/ehrlich-b/photonrdma/internal/registry"
)

func TestTCPBackendPutGetRoundTrip(t *testing.T) {
	a, err := NewTCPBackend("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new backend a: %v", err)
	}
	b, err := NewTCPBackend("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new backend b: %v", err)
	}
	defer a.Finalize()
	defer b.Finalize()

	memA := make([]byte, 256)
	memB := make([]byte, 256)

	ctx := context.Background()
	paA, err := a.Init(ctx, Config{NProc: 2, Rank: 0}, 0, memA)
	if err != nil {
		t.Fatalf("init a: %v", err)
	}
	paB, err := b.Init(ctx, Config{NProc: 2, Rank: 1}, 1, memB)
	if err != nil {
		t.Fatalf("init b: %v", err)
	}

	peers := []PeerAddr{paA, paB}
	if err := a.ConnectPeers(peers); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	if err := b.ConnectPeers(peers); err != nil {
		t.Fatalf("connect b: %v", err)
	}

	payload := []byte{10, 20, 30, 40}
	remoteAddr := paB.Addr + 32
	if err := a.RdmaPut(1, payload, registry.BufferPriv{}, remoteAddr, registry.BufferPriv{}, 0x1111, 0, 0); err != nil {
		t.Fatalf("put: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if memB[32] == 10 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	for i, want := range payload {
		if memB[32+i] != want {
			t.Fatalf("byte %d: expected %d, got %d (async delivery may not have landed)", i, want, memB[32+i])
		}
	}

	events, status, err := a.GetEvent(1, 10)
	if err != nil || status != EventOK || len(events) != 1 || events[0].Cookie != 0x1111 {
		t.Fatalf("expected one put completion, got events=%+v status=%s err=%v", events, status, err)
	}

	out := make([]byte, 4)
	if err := a.RdmaGet(1, out, registry.BufferPriv{}, remoteAddr, registry.BufferPriv{}, 0x2222, 0); err != nil {
		t.Fatalf("get: %v", err)
	}
	for i, want := range payload {
		if out[i] != want {
			t.Errorf("get byte %d: expected %d, got %d", i, want, out[i])
		}
	}
}

// TestTCPBackendPutToRegisteredBuffer exercises a PUT targeting a
// registered application buffer rather than the shared-storage slab
// — the path a direct PostOSPut/PutWithCompletion against a caller's
// own heap buffer takes. Before resolveTarget, readLoop's opPut case
// only ever looked inside selfMem, so this write silently landed
// nowhere while RdmaPut still reported success.
func TestTCPBackendPutToRegisteredBuffer(t *testing.T) {
	a, err := NewTCPBackend("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new backend a: %v", err)
	}
	b, err := NewTCPBackend("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new backend b: %v", err)
	}
	defer a.Finalize()
	defer b.Finalize()

	ctx := context.Background()
	paA, err := a.Init(ctx, Config{NProc: 2, Rank: 0}, 0, make([]byte, 64))
	if err != nil {
		t.Fatalf("init a: %v", err)
	}
	paB, err := b.Init(ctx, Config{NProc: 2, Rank: 1}, 1, make([]byte, 64))
	if err != nil {
		t.Fatalf("init b: %v", err)
	}
	peers := []PeerAddr{paA, paB}
	if err := a.ConnectPeers(peers); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	if err := b.ConnectPeers(peers); err != nil {
		t.Fatalf("connect b: %v", err)
	}

	appBuf := make([]byte, 16)
	reg := &registry.Buffer{Addr: uintptr(unsafe.Pointer(&appBuf[0])), Size: uint64(len(appBuf))}
	if err := b.RegisterBuffer(reg, 0); err != nil {
		t.Fatalf("register: %v", err)
	}

	payload := []byte{7, 8, 9, 10}
	if err := a.RdmaPut(1, payload, registry.BufferPriv{}, reg.Priv.Key0, reg.Priv, 0x3333, 0, 0); err != nil {
		t.Fatalf("put to registered buffer: %v", err)
	}
	for i, want := range payload {
		if appBuf[i] != want {
			t.Fatalf("byte %d: expected %d, got %d", i, want, appBuf[i])
		}
	}

	if err := b.UnregisterBuffer(reg); err != nil {
		t.Fatalf("unregister: %v", err)
	}
}

// TestTCPBackendPutUnresolvedAddressFails confirms that a PUT against
// an address neither the shared-storage slab nor any registered
// buffer covers now surfaces a transport error, instead of RdmaPut
// unconditionally appending a success completion for a write that
// readLoop silently dropped.
func TestTCPBackendPutUnresolvedAddressFails(t *testing.T) {
	a, err := NewTCPBackend("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new backend a: %v", err)
	}
	b, err := NewTCPBackend("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new backend b: %v", err)
	}
	defer a.Finalize()
	defer b.Finalize()

	ctx := context.Background()
	paA, err := a.Init(ctx, Config{NProc: 2, Rank: 0}, 0, make([]byte, 64))
	if err != nil {
		t.Fatalf("init a: %v", err)
	}
	paB, err := b.Init(ctx, Config{NProc: 2, Rank: 1}, 1, make([]byte, 64))
	if err != nil {
		t.Fatalf("init b: %v", err)
	}
	peers := []PeerAddr{paA, paB}
	if err := a.ConnectPeers(peers); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	if err := b.ConnectPeers(peers); err != nil {
		t.Fatalf("connect b: %v", err)
	}

	bogus := paB.Addr + 1<<40 // well outside selfMem and every registered region
	if err := a.RdmaPut(1, []byte{1, 2, 3}, registry.BufferPriv{}, bogus, registry.BufferPriv{}, 0x4444, 0, 0); err == nil {
		t.Fatal("expected an error for a put to an unresolved remote address")
	}
}
