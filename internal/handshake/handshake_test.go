package handshake

import (
	"context"
	"errors"
	"testing"
	"time"
	"unsafe"

	"github.com/ehrlich-b/photonrdma/internal/ledger"
	"github.com/ehrlich-b/photonrdma/internal/registry"
	"github.com/ehrlich-b/photonrdma/internal/reqtable"
	"github.com/ehrlich-b/photonrdma/internal/shared"
	"github.com/ehrlich-b/photonrdma/internal/transport"
)

const (
	testLedgerEntries = 8
	testEagerBufSize  = 256
	testSmallMsgSize  = 32
)

// localAttacher and remoteSetter let wireConcern treat RiLedger,
// PlainLedger, and EagerBuf identically — all three expose the same
// two methods for joining a Process to its peer's shared storage.
type localAttacher interface{ AttachLocal([]byte) }
type remoteSetter interface{ SetRemote(ledger.RemoteDescriptor) }

type peerHarness struct {
	proc0, proc1 *Process
	reg0, reg1   *registry.Registry
	storage0     *shared.Storage
	storage1     *shared.Storage
}

// wireConcern attaches dst's consumer half to this rank's mirror of
// what peerRank writes, and points its producer half at peer's mirror
// of what myRank writes — the same addressing rule
// internal/exchange/descriptors.go encodes for the real bootstrap
// path, reproduced directly here since the test bypasses Allgather.
func wireConcern(local localAttacher, remote remoteSetter, storage *shared.Storage, peer transport.PeerAddr, layout *shared.Layout, kind shared.Kind, peerRank, myRank int) {
	local.AttachLocal(storage.Slot(kind, peerRank))
	remote.SetRemote(ledger.RemoteDescriptor{
		Addr: peer.Addr + layout.Offset(kind, myRank),
		Priv: peer.Priv,
	})
}

func newPeerHarness(t *testing.T) *peerHarness {
	t.Helper()
	layout := shared.NewLayout(2, testLedgerEntries, testEagerBufSize)

	storage0, err := shared.NewStorage(layout)
	if err != nil {
		t.Fatalf("storage0: %v", err)
	}
	storage1, err := shared.NewStorage(layout)
	if err != nil {
		t.Fatalf("storage1: %v", err)
	}
	t.Cleanup(func() { storage0.Close(); storage1.Close() })

	fabric := transport.NewFabric()
	backend0 := transport.NewSimBackend(fabric)
	backend1 := transport.NewSimBackend(fabric)

	ctx := context.Background()
	pa0, err := backend0.Init(ctx, transport.Config{NProc: 2, Rank: 0}, 0, storage0.Bytes())
	if err != nil {
		t.Fatalf("init backend0: %v", err)
	}
	pa1, err := backend1.Init(ctx, transport.Config{NProc: 2, Rank: 1}, 1, storage1.Bytes())
	if err != nil {
		t.Fatalf("init backend1: %v", err)
	}
	if err := backend0.ConnectPeers([]transport.PeerAddr{pa0, pa1}); err != nil {
		t.Fatalf("connect backend0: %v", err)
	}
	if err := backend1.ConnectPeers([]transport.PeerAddr{pa0, pa1}); err != nil {
		t.Fatalf("connect backend1: %v", err)
	}

	reg0 := registry.New()
	reg1 := registry.New()
	if err := reg0.Init(backend0.RegisterBuffer, backend0.UnregisterBuffer); err != nil {
		t.Fatalf("reg0 init: %v", err)
	}
	if err := reg1.Init(backend1.RegisterBuffer, backend1.UnregisterBuffer); err != nil {
		t.Fatalf("reg1 init: %v", err)
	}

	proc0 := NewProcess(1, backend0, reg0, testLedgerEntries, testEagerBufSize, testSmallMsgSize, 16)
	proc1 := NewProcess(0, backend1, reg1, testLedgerEntries, testEagerBufSize, testSmallMsgSize, 16)

	concerns := []struct {
		kind           shared.Kind
		local0, local1 localAttacher
		rem0, rem1     remoteSetter
	}{
		{shared.LocalRecvInfo, proc0.RecvInfoLocal, proc1.RecvInfoLocal, proc0.RecvInfoRemote, proc1.RecvInfoRemote},
		{shared.LocalSendInfo, proc0.SendInfoLocal, proc1.SendInfoLocal, proc0.SendInfoRemote, proc1.SendInfoRemote},
		{shared.LocalFIN, proc0.FINLocal, proc1.FINLocal, proc0.FINRemote, proc1.FINRemote},
		{shared.LocalPWC, proc0.PWCLocal, proc1.PWCLocal, proc0.PWCRemote, proc1.PWCRemote},
		{shared.LocalEager, proc0.EagerLocal, proc1.EagerLocal, proc0.EagerRemote, proc1.EagerRemote},
		{shared.LocalEagerBuf, proc0.EagerBufLocal, proc1.EagerBufLocal, proc0.EagerBufRemote, proc1.EagerBufRemote},
		{shared.LocalPWCBuf, proc0.PWCBufLocal, proc1.PWCBufLocal, proc0.PWCBufRemote, proc1.PWCBufRemote},
	}
	for _, c := range concerns {
		wireConcern(c.local0, c.rem0, storage0, pa1, layout, c.kind, 1, 0)
		wireConcern(c.local1, c.rem1, storage1, pa0, layout, c.kind, 0, 1)
	}

	return &peerHarness{proc0: proc0, proc1: proc1, reg0: reg0, reg1: reg1, storage0: storage0, storage1: storage1}
}

func registerBuf(t *testing.T, reg *registry.Registry, buf []byte) uintptr {
	t.Helper()
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	if _, err := reg.Register(ptr, uint64(len(buf)), 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	return ptr
}

func waitFor(t *testing.T, fn func() (uint64, error)) uint64 {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		id, err := fn()
		if err == nil {
			return id
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("wait: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("wait: timed out: %v", err)
		}
	}
}

// TestRendezvousRoundTrip walks post_recv_buffer -> wait_recv_buffer ->
// post_os_put -> send_FIN exactly as spec §4.E describes the
// receiver-initiated path, for a payload too large for the eager path.
func TestRendezvousRoundTrip(t *testing.T) {
	h := newPeerHarness(t)

	dst := make([]byte, 64)
	dstPtr := registerBuf(t, h.reg1, dst)

	recvID, err := h.proc1.PostRecvBuffer(context.Background(), dstPtr, uint64(len(dst)), 7)
	if err != nil {
		t.Fatalf("post_recv_buffer: %v", err)
	}

	waitID := waitFor(t, func() (uint64, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		return h.proc0.WaitRecvBuffer(ctx, 7)
	})

	src := make([]byte, 64)
	for i := range src {
		src[i] = byte(i + 1)
	}
	srcPtr := registerBuf(t, h.reg0, src)

	if err := h.proc0.PostOSPut(context.Background(), waitID, srcPtr, src, 0); err != nil {
		t.Fatalf("post_os_put: %v", err)
	}
	for i, want := range src {
		if dst[i] != want {
			t.Fatalf("byte %d: expected %d, got %d", i, want, dst[i])
		}
	}

	// send_FIN only transitions the sender's own local request (the
	// event loop is what later drains the peer's FIN ledger and acts
	// on the receiver's side — out of scope for this package).
	if err := h.proc0.SendFIN(waitID, false); err != nil {
		t.Fatalf("send_FIN: %v", err)
	}
	waitReq, err := h.proc0.Reqs.Lookup(waitID)
	if err != nil {
		t.Fatalf("lookup wait req after FIN: %v", err)
	}
	if !waitReq.Flags.Has(reqtable.FlagFin) {
		t.Fatal("expected FIN flag set on a not-yet-completed request")
	}

	finIdx, _ := h.proc1.FINLocal.NextToConsume()
	if !h.proc1.FINLocal.IsArrived(finIdx) {
		t.Fatal("expected a FIN ledger entry to have landed on the receiver")
	}
	if got := h.proc1.FINLocal.Peek(finIdx).Request; got != recvID {
		t.Fatalf("expected FIN to carry the receiver's original request id %#x, got %#x", recvID, got)
	}
}

// TestSendBufferEagerRoundTrip exercises the eager try of
// post_send_buffer for a payload within small_msg_size, followed by
// wait_send_buffer and a post_os_get that must copy directly out of
// the local eager ring rather than issue any RDMA.
func TestSendBufferEagerRoundTrip(t *testing.T) {
	h := newPeerHarness(t)

	payload := []byte{1, 2, 3, 4, 5}
	sendID, err := h.proc0.PostSendBuffer(context.Background(), payload, 3)
	if err != nil {
		t.Fatalf("post_send_buffer: %v", err)
	}
	sendReq, err := h.proc0.Reqs.Lookup(sendID)
	if err != nil {
		t.Fatalf("lookup send req: %v", err)
	}
	if !sendReq.Flags.Has(reqtable.FlagEager) {
		t.Fatal("expected eager flag on small-payload post_send_buffer")
	}

	waitID := waitFor(t, func() (uint64, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		return h.proc1.WaitSendBuffer(ctx, -1)
	})

	out := make([]byte, len(payload))
	if err := h.proc1.PostOSGet(context.Background(), waitID, 0, out, 0); err != nil {
		t.Fatalf("post_os_get: %v", err)
	}
	for i, want := range payload {
		if out[i] != want {
			t.Fatalf("byte %d: expected %d, got %d", i, want, out[i])
		}
	}
}

// TestPostRecvBufferUnknownBufferFails checks the Lookup-error
// contract when ptr/size isn't a registered buffer.
func TestPostRecvBufferUnknownBufferFails(t *testing.T) {
	h := newPeerHarness(t)
	if _, err := h.proc1.PostRecvBuffer(context.Background(), 0xdead, 16, 0); !errors.Is(err, ErrLookup) {
		t.Fatalf("expected ErrLookup, got %v", err)
	}
}
