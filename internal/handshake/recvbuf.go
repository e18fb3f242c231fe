package handshake

import (
	"context"

	"github.com/ehrlich-b/photonrdma/internal/reqtable"
	"github.com/ehrlich-b/photonrdma/internal/wire"
)

// PostRecvBuffer is the receiver-initiated rendezvous start (spec
// §4.E). It claims a slot in the peer's remote rcv-info ledger and
// RDMA-WRITEs a staging entry describing (ptr, size) there, so the
// peer can later target an RDMA PUT back into ptr.
func (p *Process) PostRecvBuffer(ctx context.Context, ptr uintptr, size uint64, tag int32) (uint64, error) {
	buf, err := p.registry.FindContaining(ptr, size)
	if err != nil {
		return 0, NewLookupError("PostRecvBuffer", p.Rank, err)
	}

	req, err := p.Reqs.Alloc(reqtable.OpRecvBuf, 1, 0)
	if err != nil {
		return 0, NewResourceError("PostRecvBuffer", p.Rank, err)
	}

	idx, err := p.RecvInfoRemote.Claim()
	if err != nil {
		req.Fail()
		return 0, NewResourceError("PostRecvBuffer", p.Rank, err)
	}

	entry := wire.RiLedgerEntry{
		Header:  1,
		Request: req.ID,
		Addr:    uint64(ptr),
		Size:    size,
		Key0:    buf.Priv.Key0,
		Key1:    buf.Priv.Key1,
		Tag:     tag,
		Footer:  1,
	}

	// cookie 0: this staging write's own local completion isn't what
	// req's single event counts — the peer's eventual send_FIN is,
	// confirming the data it describes actually landed (spec §4.E).
	err = p.backend.RdmaPut(
		p.Rank,
		wire.MarshalRi(entry),
		buf.Priv,
		p.RecvInfoRemote.RemoteEntryAddr(idx),
		p.RecvInfoRemote.RemotePriv(),
		0, 0, 0,
	)
	if err != nil {
		req.Fail()
		return 0, NewTransportError("PostRecvBuffer", p.Rank, req.ID, err)
	}

	req.Arm()
	return req.ID, nil
}

// WaitRecvBuffer spins on the local rcv-info ledger head until an
// entry with a matching tag (or tagFilter < 0, matching anything)
// lands, then builds and returns a new request R' describing the
// remote buffer it names. Non-matching heads are left in place —
// this ledger is strictly ordered, so a caller waiting on a specific
// tag blocks behind whatever arrived first (spec §4.E).
func (p *Process) WaitRecvBuffer(ctx context.Context, tagFilter int32) (uint64, error) {
	var entry wire.RiLedgerEntry
	var idx uint32
	var curr uint64

	err := spinUntil(ctx, func() bool {
		idx, curr = p.RecvInfoLocal.NextToConsume()
		entry = p.RecvInfoLocal.Peek(idx)
		if !entry.Arrived() {
			return false
		}
		if tagFilter >= 0 && tagFilter != entry.Tag {
			return false
		}
		return p.RecvInfoLocal.Advance(curr)
	})
	if err != nil {
		return 0, err
	}

	newReq, allocErr := p.Reqs.Alloc(reqtable.OpPut, 1, reqtable.FlagNoLCE)
	if allocErr != nil {
		return 0, NewResourceError("WaitRecvBuffer", p.Rank, allocErr)
	}
	newReq.Tag = entry.Tag
	newReq.Rid = entry.Request
	newReq.RemoteBuf = reqtable.BufferDesc{Addr: entry.Addr, Size: entry.Size, Key0: entry.Key0, Key1: entry.Key1}

	p.RecvInfoLocal.Clear(idx)
	p.RecvInfoLocal.MarkDone(1)

	return newReq.ID, nil
}
