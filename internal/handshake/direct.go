package handshake

import (
	"context"

	"github.com/ehrlich-b/photonrdma/internal/registry"
	"github.com/ehrlich-b/photonrdma/internal/reqtable"
)

// PostOSPutDirect issues an RDMA PUT against a caller-supplied remote
// descriptor (remoteAddr/remotePriv), skipping the WaitRecvBuffer
// rendezvous that normally discovers that descriptor (spec §4.H
// "post_os_put_direct", grounded on __photon_setup_request_direct +
// _photon_post_os_put_direct).
func (p *Process) PostOSPutDirect(ctx context.Context, ptr uintptr, local []byte, remoteAddr uint64, remotePriv registry.BufferPriv, rOffset uint64) (uint64, error) {
	buf, err := p.registry.FindContaining(ptr, uint64(len(local)))
	if err != nil {
		return 0, NewLookupError("PostOSPutDirect", p.Rank, err)
	}

	remote := reqtable.BufferDesc{Addr: remoteAddr, Size: uint64(len(local)), Key0: remotePriv.Key0, Key1: remotePriv.Key1}
	req, err := p.Reqs.NewDirectRequest(reqtable.OpPut, 1, 0, remote)
	if err != nil {
		return 0, NewResourceError("PostOSPutDirect", p.Rank, err)
	}

	if err := p.backend.RdmaPut(p.Rank, local, buf.Priv, remoteAddr+rOffset, remotePriv, req.ID, 0, 0); err != nil {
		req.Fail()
		return 0, NewTransportError("PostOSPutDirect", p.Rank, req.ID, err)
	}

	req.Arm()
	return req.ID, nil
}

// PostOSGetDirect is the RDMA GET counterpart of PostOSPutDirect: it
// reads from a caller-supplied remote descriptor into local without a
// prior WaitSendBuffer handshake (spec §4.H "post_os_get_direct",
// grounded on _photon_post_os_get_direct).
func (p *Process) PostOSGetDirect(ctx context.Context, ptr uintptr, local []byte, remoteAddr uint64, remotePriv registry.BufferPriv, rOffset uint64) (uint64, error) {
	buf, err := p.registry.FindContaining(ptr, uint64(len(local)))
	if err != nil {
		return 0, NewLookupError("PostOSGetDirect", p.Rank, err)
	}

	remote := reqtable.BufferDesc{Addr: remoteAddr, Size: uint64(len(local)), Key0: remotePriv.Key0, Key1: remotePriv.Key1}
	req, err := p.Reqs.NewDirectRequest(reqtable.OpGet, 1, 0, remote)
	if err != nil {
		return 0, NewResourceError("PostOSGetDirect", p.Rank, err)
	}

	if err := p.backend.RdmaGet(p.Rank, local, buf.Priv, remoteAddr+rOffset, remotePriv, req.ID, 0); err != nil {
		req.Fail()
		return 0, NewTransportError("PostOSGetDirect", p.Rank, req.ID, err)
	}

	req.Arm()
	return req.ID, nil
}

// GetBufferPrivate returns the local registered-buffer descriptor
// request rid was built against, letting a caller hand a peer its
// rkeys directly instead of going through a PostRecvBuffer/
// PostSendBuffer round trip first (spec §4.H "get_buffer_private",
// grounded on _photon_get_buffer_private).
func (p *Process) GetBufferPrivate(rid uint64) (reqtable.BufferDesc, error) {
	req, err := p.Reqs.Lookup(rid)
	if err != nil {
		return reqtable.BufferDesc{}, NewInvalidError("GetBufferPrivate", p.Rank, err)
	}
	return req.LocalBuf, nil
}

// GetBufferRemote returns the remote buffer descriptor request rid
// names, as staged by WaitRecvBuffer/WaitSendBuffer or a *Direct call
// (spec §4.H "get_buffer_remote", grounded on
// _photon_get_buffer_remote).
func (p *Process) GetBufferRemote(rid uint64) (reqtable.BufferDesc, error) {
	req, err := p.Reqs.Lookup(rid)
	if err != nil {
		return reqtable.BufferDesc{}, NewInvalidError("GetBufferRemote", p.Rank, err)
	}
	return req.RemoteBuf, nil
}
