// Package pwc implements the one-sided put/get-with-completion engine
// atop a handshake.Process's PWC ledger and eager-buffer pair (spec
// §4.F): put_with_completion picks between a 1-PUT eager path and a
// 2-PUT rendezvous path by size, get_with_completion is a single RDMA
// GET with purely local completion, and probe_completion is the
// three-step reaper a caller polls to reap either kind without
// blocking in the event loop (grounded on original_source's
// photon_pwc.c: __photon_put_with_completion / __photon_get_with_completion
// / __photon_probe_completion).
package pwc

import (
	"context"
	"runtime"

	"github.com/ehrlich-b/photonrdma/internal/handshake"
	"github.com/ehrlich-b/photonrdma/internal/ledger"
	"github.com/ehrlich-b/photonrdma/internal/registry"
	"github.com/ehrlich-b/photonrdma/internal/reqtable"
	"github.com/ehrlich-b/photonrdma/internal/transport"
	"github.com/ehrlich-b/photonrdma/internal/wire"
)

// Flags selects PWC submission behavior not implied by payload size.
type Flags uint32

const (
	// FlagNoCQE tags the rendezvous path's payload PUT with a NULL
	// cookie, trading its local completion for throughput: the event
	// loop discards NULL-cookie completions outright.
	FlagNoCQE Flags = 1 << iota
	// FlagOneCQE collapses the rendezvous path's two expected events
	// into one. Our backends don't coalesce completions in hardware, so
	// it is implemented identically to FlagNoCQE: only the ledger-entry
	// PUT's completion is awaited.
	FlagOneCQE
)

// ProbeFlags selects which of probe_completion's reap sources to try.
type ProbeFlags uint32

const (
	ProbeEVQ ProbeFlags = 1 << iota
	ProbeLedger
)

// Engine is the PWC engine for one peer, riding atop the ledgers and
// request table a handshake.Process already owns.
type Engine struct {
	p            *handshake.Process
	smallPwcSize uint32
}

// New constructs a PWC engine over an already-wired Process. smallPwcSize
// is the eager/rendezvous size threshold (spec §4.F's small_pwc_size).
func New(p *handshake.Process, smallPwcSize uint32) *Engine {
	return &Engine{p: p, smallPwcSize: smallPwcSize}
}

// PutWithCompletion writes local into the peer's (remoteAddr, remotePriv)
// buffer and arranges for the peer to learn remoteRid once it lands,
// choosing the 1-PUT eager path when the payload is small enough to fit
// both the small-message threshold and the PWC eager ring, and the
// 2-PUT rendezvous path otherwise (spec §4.F).
func (e *Engine) PutWithCompletion(local []byte, remoteAddr uint64, remotePriv registry.BufferPriv, remoteRid uint64, flags Flags) (uint64, error) {
	size := uint64(len(local))
	if size > 0 && size <= uint64(e.smallPwcSize) && size <= e.p.PWCBufRemote.Size() {
		return e.putEager(local, remoteAddr, remoteRid)
	}
	return e.putRendezvous(local, remoteAddr, remotePriv, remoteRid, flags)
}

func (e *Engine) putEager(local []byte, remoteAddr, remoteRid uint64) (uint64, error) {
	req, err := e.p.Reqs.Alloc(reqtable.OpPWC, 1, reqtable.Flag1PWC)
	if err != nil {
		return 0, newResourceError("PutWithCompletion", e.p.Rank, err)
	}
	req.Length = uint64(len(local))
	req.Rid = remoteRid

	span := ledger.EagerMsgSize(uint32(len(local)))
	offset, err := e.p.PWCBufRemote.Reserve(span)
	if err != nil {
		req.Fail()
		return 0, newResourceError("PutWithCompletion", e.p.Rank, err)
	}

	msg := make([]byte, span)
	copy(msg, wire.MarshalPwcEagerHeader(wire.PwcEagerHeader{
		Request: remoteRid,
		Addr:    remoteAddr,
		Length:  uint16(len(local)),
		Head:    wire.EagerHeaderSentinel,
	}))
	copy(msg[wire.PwcEagerHeaderSize:], local)
	msg[len(msg)-1] = wire.EagerHeaderSentinel

	err = e.p.Backend().RdmaPut(
		e.p.Rank, msg, registry.BufferPriv{},
		e.p.PWCBufRemote.RemoteSpanAddr(offset), e.p.PWCBufRemote.RemotePriv(),
		req.ID, 0, 0,
	)
	if err != nil {
		req.Fail()
		return 0, newTransportError("PutWithCompletion", e.p.Rank, req.ID, err)
	}

	req.Arm()
	return req.ID, nil
}

func (e *Engine) putRendezvous(local []byte, remoteAddr uint64, remotePriv registry.BufferPriv, remoteRid uint64, flags Flags) (uint64, error) {
	events := int32(2)
	if flags&(FlagOneCQE|FlagNoCQE) != 0 {
		events = 1
	}
	req, err := e.p.Reqs.Alloc(reqtable.OpPWC, events, reqtable.Flag2PWC)
	if err != nil {
		return 0, newResourceError("PutWithCompletion", e.p.Rank, err)
	}
	req.Length = uint64(len(local))
	req.Rid = remoteRid

	dataCookie := req.ID
	if flags&(FlagOneCQE|FlagNoCQE) != 0 {
		dataCookie = 0 // the event loop discards NULL-cookie completions
	}
	err = e.p.Backend().RdmaPut(e.p.Rank, local, registry.BufferPriv{}, remoteAddr, remotePriv, dataCookie, 0, 0)
	if err != nil {
		req.Fail()
		return 0, newTransportError("PutWithCompletion", e.p.Rank, req.ID, err)
	}

	idx, err := e.p.PWCRemote.Claim()
	if err != nil {
		req.Fail()
		return 0, newResourceError("PutWithCompletion", e.p.Rank, err)
	}
	entry := wire.MarshalPlain(wire.PlainLedgerEntry{Request: remoteRid})
	err = e.p.Backend().RdmaPut(
		e.p.Rank, entry, registry.BufferPriv{},
		e.p.PWCRemote.RemoteEntryAddr(idx), e.p.PWCRemote.RemotePriv(),
		req.ID, 0, 0,
	)
	if err != nil {
		req.Fail()
		return 0, newTransportError("PutWithCompletion", e.p.Rank, req.ID, err)
	}

	req.Arm()
	return req.ID, nil
}

// GetWithCompletion issues a single RDMA GET from the peer's
// (remoteAddr, remotePriv) into local. Unlike a put, no ledger entry
// notifies the peer — completion is observed purely locally, via
// WaitGetCompletion or the event loop (spec §4.F).
func (e *Engine) GetWithCompletion(local []byte, remoteAddr uint64, remotePriv registry.BufferPriv, remoteRid uint64) (uint64, error) {
	req, err := e.p.Reqs.Alloc(reqtable.OpGWC, 1, 0)
	if err != nil {
		return 0, newResourceError("GetWithCompletion", e.p.Rank, err)
	}
	req.Length = uint64(len(local))
	req.Rid = remoteRid

	err = e.p.Backend().RdmaGet(e.p.Rank, local, registry.BufferPriv{}, remoteAddr, remotePriv, req.ID, 0)
	if err != nil {
		req.Fail()
		return 0, newTransportError("GetWithCompletion", e.p.Rank, req.ID, err)
	}
	req.Arm()
	return req.ID, nil
}

// WaitGetCompletion spins until rid (as returned by GetWithCompletion)
// reaches a terminal state, pumping the backend's own completion queue
// itself since a get carries no remote-side ledger notification to
// piggyback on.
func (e *Engine) WaitGetCompletion(ctx context.Context, rid uint64) error {
	return spinUntil(ctx, func() bool {
		req, err := e.p.Reqs.Lookup(rid)
		if err != nil {
			return true
		}
		if req.State == reqtable.StateCompleted || req.State == reqtable.StateFailed {
			return true
		}
		e.dispatchOneEvent()
		return false
	})
}

// ProbeCompletion is the three-step PWC reaper (spec §4.F): first drain
// an id the event loop has already resolved onto PwcQ, then optionally
// pull and dispatch one raw backend completion, then optionally scan
// the local PWC eager ring and plain ledger directly. It never blocks.
func (e *Engine) ProbeCompletion(flags ProbeFlags) (bool, uint64, error) {
	if rid, ok := e.drainPwcQ(); ok {
		return true, rid, nil
	}

	if flags&ProbeEVQ != 0 {
		if _, err := e.dispatchOneEvent(); err != nil {
			return false, 0, newTransportError("ProbeCompletion", e.p.Rank, 0, err)
		}
		if rid, ok := e.drainPwcQ(); ok {
			return true, rid, nil
		}
	}

	if flags&ProbeLedger != 0 {
		if rid, ok := e.probeEagerRing(); ok {
			return true, rid, nil
		}
		if rid, ok := e.probePlainLedger(); ok {
			return true, rid, nil
		}
	}

	return false, 0, nil
}

func (e *Engine) drainPwcQ() (uint64, bool) {
	select {
	case rid := <-e.p.Reqs.PwcQ:
		return rid, true
	default:
		return 0, false
	}
}

// dispatchOneEvent pulls one raw completion off the backend and, if its
// cookie names a live request, decrements its event count — queuing the
// request onto PwcQ once it reaches zero and belongs to a PWC op. A
// NULL cookie (the NO_CQE/ONE_CQE suppression sentinel) is discarded.
func (e *Engine) dispatchOneEvent() (bool, error) {
	events, status, err := e.p.Backend().GetEvent(e.p.Rank, 1)
	if err != nil {
		return false, err
	}
	if status != transport.EventOK || len(events) == 0 {
		return false, nil
	}
	ev := events[0]
	if ev.Cookie == 0 {
		return true, nil
	}
	req, err := e.p.Reqs.Lookup(ev.Cookie)
	if err != nil {
		return true, nil
	}
	if req.DecrementEvents() && req.Op == reqtable.OpPWC {
		select {
		case e.p.Reqs.PwcQ <- req.ID:
		default:
		}
	}
	return true, nil
}

// probeEagerRing peeks the local PWC eager ring's next offset for an
// arrived header+tail pair, memcpying the payload to the address its
// header carries (the final destination this rank already owns).
func (e *Engine) probeEagerRing() (uint64, bool) {
	ring := e.p.PWCBufLocal
	local := ring.Local()
	off := ring.NextOffset()

	head := local[off : off+wire.PwcEagerHeaderSize]
	if head[wire.PwcEagerHeaderSize-1] != wire.EagerHeaderSentinel {
		return 0, false
	}
	header := wire.UnmarshalPwcEagerHeader(head)
	span := ledger.EagerMsgSize(uint32(header.Length))
	if local[off+span-1] != wire.EagerHeaderSentinel {
		return 0, false
	}

	offset, _, ok := ring.TryClaim(span)
	if !ok {
		return 0, false
	}
	payload := local[offset+wire.PwcEagerHeaderSize : offset+wire.PwcEagerHeaderSize+uint64(header.Length)]
	copyToAddr(header.Addr, payload)
	ring.MarkDone(span)
	return header.Request, true
}

// probePlainLedger drains the next arrived entry from the local PWC
// plain ledger, the rendezvous path's notification channel.
func (e *Engine) probePlainLedger() (uint64, bool) {
	ring := e.p.PWCLocal
	idx, curr := ring.NextToConsume()
	if !ring.IsArrived(idx) {
		return 0, false
	}
	entry := ring.Peek(idx)
	if !ring.Advance(curr) {
		return 0, false
	}
	ring.Clear(idx)
	ring.MarkDone(1)
	return entry.Request, true
}

// spinUntil mirrors internal/handshake's helper of the same name — each
// package keeps its own copy rather than share one across an import
// cycle (pwc already depends on handshake; the reverse must not hold).
func spinUntil(ctx context.Context, check func() bool) error {
	for {
		if check() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}
