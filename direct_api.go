package photon

import (
	"context"

	"github.com/ehrlich-b/photonrdma/internal/reqtable"
)

// BufferDesc describes a buffer's address, size, and rkey pair, as
// attached to a request by GetBufferPrivate/GetBufferRemote (spec
// §4.H).
type BufferDesc = reqtable.BufferDesc

// PostOSPutDirect RDMA-PUTs local into (remoteAddr, remotePriv) on
// peer directly, without a prior WaitRecvBuffer handshake discovering
// that descriptor (spec §4.H "post_os_put_direct").
func (r *Runtime) PostOSPutDirect(ctx context.Context, peer int, ptr uintptr, local []byte, remoteAddr uint64, remotePriv BufferPriv, rOffset uint64) (Rid, error) {
	p, err := r.proc(peer)
	if err != nil {
		return 0, err
	}
	id, err := p.PostOSPutDirect(ctx, ptr, local, remoteAddr, remotePriv, rOffset)
	if err != nil {
		r.logFailure(peer, "post_os_put_direct", err)
		return 0, WrapTransportError("post_os_put_direct", peer, err)
	}
	r.logRequest(peer, "post_os_put_direct", Rid(id))
	return Rid(id), nil
}

// PostOSGetDirect RDMA-GETs from (remoteAddr, remotePriv) on peer
// directly into local, without a prior WaitSendBuffer handshake (spec
// §4.H "post_os_get_direct").
func (r *Runtime) PostOSGetDirect(ctx context.Context, peer int, ptr uintptr, local []byte, remoteAddr uint64, remotePriv BufferPriv, rOffset uint64) (Rid, error) {
	p, err := r.proc(peer)
	if err != nil {
		return 0, err
	}
	id, err := p.PostOSGetDirect(ctx, ptr, local, remoteAddr, remotePriv, rOffset)
	if err != nil {
		r.logFailure(peer, "post_os_get_direct", err)
		return 0, WrapTransportError("post_os_get_direct", peer, err)
	}
	r.logRequest(peer, "post_os_get_direct", Rid(id))
	return Rid(id), nil
}

// GetBufferPrivate returns the local registered-buffer descriptor
// request rid (from peer) was built against (spec §4.H
// "get_buffer_private").
func (r *Runtime) GetBufferPrivate(peer int, rid Rid) (BufferDesc, error) {
	p, err := r.proc(peer)
	if err != nil {
		return BufferDesc{}, err
	}
	desc, err := p.GetBufferPrivate(uint64(rid))
	if err != nil {
		return BufferDesc{}, WrapTransportError("get_buffer_private", peer, err)
	}
	return desc, nil
}

// GetBufferRemote returns the remote buffer descriptor request rid
// (from peer) names (spec §4.H "get_buffer_remote").
func (r *Runtime) GetBufferRemote(peer int, rid Rid) (BufferDesc, error) {
	p, err := r.proc(peer)
	if err != nil {
		return BufferDesc{}, err
	}
	desc, err := p.GetBufferRemote(uint64(rid))
	if err != nil {
		return BufferDesc{}, WrapTransportError("get_buffer_remote", peer, err)
	}
	return desc, nil
}
