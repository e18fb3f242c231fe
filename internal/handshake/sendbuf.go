package handshake

import (
	"context"

	"github.com/ehrlich-b/photonrdma/internal/ledger"
	"github.com/ehrlich-b/photonrdma/internal/reqtable"
	"github.com/ehrlich-b/photonrdma/internal/wire"
)

// PostSendBuffer takes the eager path when the payload is non-empty and
// at most smallMsgSize bytes, and a rendezvous post (like PostRecvBuffer,
// but targeting the snd-info ledger) otherwise (spec §4.E). The choice
// is made by size alone: an eager payload that does not fit in the
// peer's remote eager buffer fails with a resource error and is not
// retried as a rendezvous post.
func (p *Process) PostSendBuffer(ctx context.Context, local []byte, tag int32) (uint64, error) {
	size := uint64(len(local))
	if size > 0 && size <= uint64(p.smallMsgSize) {
		return p.postSendBufferEager(local, tag)
	}
	return p.postSendBufferRendezvous(local, tag)
}

func (p *Process) postSendBufferEager(local []byte, tag int32) (uint64, error) {
	// Two real completions to await and no FIN round trip for the
	// eager path, unlike rendezvous — both PUTs count toward req.
	req, err := p.Reqs.Alloc(reqtable.OpSendBuf, 2, reqtable.FlagEager)
	if err != nil {
		return 0, NewResourceError("PostSendBuffer", p.Rank, err)
	}
	req.Length = uint64(len(local))

	offset, err := p.EagerBufRemote.Reserve(uint64(len(local)))
	if err != nil {
		req.Fail()
		return 0, NewResourceError("PostSendBuffer", p.Rank, err)
	}

	err = p.backend.RdmaPut(
		p.Rank, local, registryZero,
		p.EagerBufRemote.RemoteSpanAddr(offset), p.EagerBufRemote.RemotePriv(),
		req.ID, 0, 0,
	)
	if err != nil {
		req.Fail()
		return 0, NewTransportError("PostSendBuffer", p.Rank, req.ID, err)
	}

	entryIdx, err := p.EagerRemote.Claim()
	if err != nil {
		req.Fail()
		return 0, NewResourceError("PostSendBuffer", p.Rank, err)
	}
	encoded := (uint64(len(local)) << 32) | (req.ID & 0xffffffff)
	err = p.backend.RdmaPut(
		p.Rank, wire.MarshalPlain(wire.PlainLedgerEntry{Request: encoded}), registryZero,
		p.EagerRemote.RemoteEntryAddr(entryIdx), p.EagerRemote.RemotePriv(),
		req.ID, 0, 0,
	)
	if err != nil {
		req.Fail()
		return 0, NewTransportError("PostSendBuffer", p.Rank, req.ID, err)
	}

	req.Arm()
	return req.ID, nil
}

func (p *Process) postSendBufferRendezvous(local []byte, tag int32) (uint64, error) {
	return p.postSendRequestRendezvous("PostSendBuffer", uint64(len(local)), tag)
}

// PostSendRequestRDMA announces intent to send size bytes tagged tag
// to this peer, without yet committing a real local buffer — spec
// §4.H's generic "post_send_request_rdma" entry point, grounded on
// original_source's _photon_post_send_request_rdma. PostSendBuffer's
// own rendezvous branch posts this exact same address-less intent
// entry; this method exposes it directly for a caller that wants to
// announce a transfer before its data is ready to send.
func (p *Process) PostSendRequestRDMA(size uint64, tag int32) (uint64, error) {
	return p.postSendRequestRendezvous("PostSendRequestRDMA", size, tag)
}

func (p *Process) postSendRequestRendezvous(op string, size uint64, tag int32) (uint64, error) {
	req, err := p.Reqs.Alloc(reqtable.OpSendBuf, 1, 0)
	if err != nil {
		return 0, NewResourceError(op, p.Rank, err)
	}
	req.Length = size

	idx, err := p.SendInfoRemote.Claim()
	if err != nil {
		req.Fail()
		return 0, NewResourceError(op, p.Rank, err)
	}

	entry := wire.RiLedgerEntry{
		Header:  1,
		Request: req.ID,
		Addr:    0, // filled once the peer's wait_send_buffer replies with its target
		Size:    size,
		Tag:     tag,
		Footer:  1,
	}
	// cookie 0: as in PostRecvBuffer, req's single event is completed
	// by the peer's send_FIN once it has actually pulled the data, not
	// by this staging write's own local completion.
	err = p.backend.RdmaPut(
		p.Rank, wire.MarshalRi(entry), registryZero,
		p.SendInfoRemote.RemoteEntryAddr(idx), p.SendInfoRemote.RemotePriv(),
		0, 0, 0,
	)
	if err != nil {
		req.Fail()
		return 0, NewTransportError(op, p.Rank, req.ID, err)
	}

	req.Arm()
	return req.ID, nil
}

// WaitSendBuffer spins on both the snd-info and eager ledger heads;
// whichever satisfies the tag predicate first wins the CAS (spec
// §4.E). The eager path carries no tag of its own — any arrived eager
// entry matches, since sizing (not tag routing) is what selected it.
func (p *Process) WaitSendBuffer(ctx context.Context, tagFilter int32) (uint64, error) {
	type hit struct {
		eager bool
		idx   uint32
		curr  uint64
		ri    wire.RiLedgerEntry
		plain wire.PlainLedgerEntry
	}
	var found hit

	err := spinUntil(ctx, func() bool {
		eIdx, eCurr := p.EagerLocal.NextToConsume()
		if p.EagerLocal.IsArrived(eIdx) {
			if p.EagerLocal.Advance(eCurr) {
				found = hit{eager: true, idx: eIdx, curr: eCurr, plain: p.EagerLocal.Peek(eIdx)}
				return true
			}
		}

		rIdx, rCurr := p.SendInfoLocal.NextToConsume()
		entry := p.SendInfoLocal.Peek(rIdx)
		if entry.Arrived() && (tagFilter < 0 || tagFilter == entry.Tag) {
			if p.SendInfoLocal.Advance(rCurr) {
				found = hit{eager: false, idx: rIdx, curr: rCurr, ri: entry}
				return true
			}
		}
		return false
	})
	if err != nil {
		return 0, err
	}

	var newReq *reqtable.Request
	var allocErr error
	if found.eager {
		size := found.plain.Request >> 32
		ridLow := found.plain.Request & 0xffffffff

		// The payload PUT was issued before the ledger-entry PUT on the
		// same connection, so by the time the entry is visible here the
		// payload has already landed at the offset this side's own
		// claim of the local eager ring computes — both sides replay
		// the same reservation arithmetic in lockstep FIFO order.
		localOffset, _, ok := p.EagerBufLocal.TryClaim(size)
		if !ok {
			return 0, NewResourceError("WaitSendBuffer", p.Rank, ledger.ErrOverflow)
		}

		newReq, allocErr = p.Reqs.Alloc(reqtable.OpPut, 0, reqtable.FlagEager|reqtable.FlagEDone)
		if allocErr == nil {
			newReq.Length = size
			newReq.Rid = uint64(p.Rank)<<32 | ridLow
			newReq.LocalBuf = reqtable.BufferDesc{Addr: localOffset, Size: size}
		}
		p.EagerLocal.Clear(found.idx)
		p.EagerLocal.MarkDone(1)
	} else {
		newReq, allocErr = p.Reqs.Alloc(reqtable.OpPut, 1, 0)
		if allocErr == nil {
			newReq.Tag = found.ri.Tag
			newReq.Rid = found.ri.Request
			newReq.RemoteBuf = reqtable.BufferDesc{Addr: found.ri.Addr, Size: found.ri.Size, Key0: found.ri.Key0, Key1: found.ri.Key1}
		}
		p.SendInfoLocal.Clear(found.idx)
		p.SendInfoLocal.MarkDone(1)
	}
	if allocErr != nil {
		return 0, NewResourceError("WaitSendBuffer", p.Rank, allocErr)
	}
	return newReq.ID, nil
}

// registryZero is the zero BufferPriv used where a local-buffer rkey
// isn't meaningful for the sim/tcprdma backends' memcpy-based puts
// (a real verbs backend would require the caller's actual local mr).
var registryZero = ledger.RemoteDescriptor{}.Priv
