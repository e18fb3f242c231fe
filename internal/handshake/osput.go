package handshake

import (
	"context"
	"fmt"

	"github.com/ehrlich-b/photonrdma/internal/registry"
	"github.com/ehrlich-b/photonrdma/internal/reqtable"
)

// PostOSPut issues the actual RDMA PUT for a request previously built
// by WaitRecvBuffer or WaitSendBuffer, writing local into the remote
// buffer the peer described, offset by rOffset (spec §4.E).
func (p *Process) PostOSPut(ctx context.Context, rid uint64, ptr uintptr, local []byte, rOffset uint64) error {
	req, err := p.Reqs.Lookup(rid)
	if err != nil {
		return NewInvalidError("PostOSPut", p.Rank, err)
	}

	buf, err := p.registry.FindContaining(ptr, uint64(len(local)))
	if err != nil {
		return NewLookupError("PostOSPut", p.Rank, err)
	}

	if req.RemoteBuf.Size != 0 && rOffset+uint64(len(local)) > req.RemoteBuf.Size {
		req.Fail()
		return NewInvalidError("PostOSPut", p.Rank, fmt.Errorf("size %d at offset %d exceeds remote buffer size %d", len(local), rOffset, req.RemoteBuf.Size))
	}

	remotePriv := registry.BufferPriv{Key0: req.RemoteBuf.Key0, Key1: req.RemoteBuf.Key1}
	err = p.backend.RdmaPut(p.Rank, local, buf.Priv, req.RemoteBuf.Addr+rOffset, remotePriv, req.ID, 0, 0)
	if err != nil {
		req.Fail()
		return NewTransportError("PostOSPut", p.Rank, req.ID, err)
	}

	req.Arm()
	return nil
}

// PostOSGet issues the RDMA GET counterpart of PostOSPut, reading from
// the remote buffer the peer described into local, offset by rOffset.
// If the request is an EAGER hit from WaitSendBuffer, no RDMA is
// issued at all: the payload already sits in the local eager ring, so
// this just copies it out and marks the request EDONE (spec §4.E).
func (p *Process) PostOSGet(ctx context.Context, rid uint64, ptr uintptr, local []byte, rOffset uint64) error {
	req, err := p.Reqs.Lookup(rid)
	if err != nil {
		return NewInvalidError("PostOSGet", p.Rank, err)
	}

	if req.Flags.Has(reqtable.FlagEager) {
		src := p.EagerBufLocal.Local()[req.LocalBuf.Addr : req.LocalBuf.Addr+req.LocalBuf.Size]
		n := copy(local, src)
		if uint64(n) != req.LocalBuf.Size {
			req.Fail()
			return NewInvalidError("PostOSGet", p.Rank, fmt.Errorf("destination buffer too small: have %d, need %d", len(local), req.LocalBuf.Size))
		}
		req.Flags |= reqtable.FlagEDone
		req.State = reqtable.StateCompleted
		return nil
	}

	buf, err := p.registry.FindContaining(ptr, uint64(len(local)))
	if err != nil {
		return NewLookupError("PostOSGet", p.Rank, err)
	}

	if req.RemoteBuf.Size != 0 && rOffset+uint64(len(local)) > req.RemoteBuf.Size {
		req.Fail()
		return NewInvalidError("PostOSGet", p.Rank, fmt.Errorf("size %d at offset %d exceeds remote buffer size %d", len(local), rOffset, req.RemoteBuf.Size))
	}

	remotePriv := registry.BufferPriv{Key0: req.RemoteBuf.Key0, Key1: req.RemoteBuf.Key1}
	err = p.backend.RdmaGet(p.Rank, local, buf.Priv, req.RemoteBuf.Addr+rOffset, remotePriv, req.ID, 0)
	if err != nil {
		req.Fail()
		return NewTransportError("PostOSGet", p.Rank, req.ID, err)
	}

	req.Arm()
	return nil
}
