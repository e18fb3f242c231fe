package handshake

import (
	"github.com/ehrlich-b/photonrdma/internal/reqtable"
	"github.com/ehrlich-b/photonrdma/internal/wire"
)

// finNoCookie marks a SendFIN's RDMA WRITE as fire-and-forget: the
// event loop never dispatches a completion for cookie 0, since no
// request ever allocates id 0 (spec §4.E, "cookie = NULL").
const finNoCookie = 0

// SendFIN notifies the peer that request rid's originating side is
// done with it, carrying rid's Rid field (the peer's own original
// request id, recorded by WaitRecvBuffer/WaitSendBuffer from
// remote_buf.request) into the peer's FIN ledger. If rid is already
// COMPLETED, or completed is true, rid is freed immediately; otherwise
// its FIN flag is set so a later completion can free it (spec §4.E).
func (p *Process) SendFIN(rid uint64, completed bool) error {
	req, err := p.Reqs.Lookup(rid)
	if err != nil {
		return NewInvalidError("SendFIN", p.Rank, err)
	}

	idx, err := p.FINRemote.Claim()
	if err != nil {
		return NewResourceError("SendFIN", p.Rank, err)
	}

	entry := wire.PlainLedgerEntry{Request: req.Rid}
	err = p.backend.RdmaPut(
		p.Rank, wire.MarshalPlain(entry), registryZero,
		p.FINRemote.RemoteEntryAddr(idx), p.FINRemote.RemotePriv(),
		finNoCookie, 0, 0,
	)
	if err != nil {
		return NewTransportError("SendFIN", p.Rank, rid, err)
	}

	if completed || req.State == reqtable.StateCompleted {
		return p.Reqs.Free(req)
	}
	req.Flags |= reqtable.FlagFin
	return nil
}
