package photon

import "context"

// PostRecvBuffer is the receiver-initiated rendezvous start (spec
// §4.E): it stages (ptr, size) in peer's remote rcv-info ledger so
// peer can later PUT data back into ptr.
func (r *Runtime) PostRecvBuffer(ctx context.Context, peer int, ptr uintptr, size uint64, tag int32) (Rid, error) {
	p, err := r.proc(peer)
	if err != nil {
		return 0, err
	}
	id, err := p.PostRecvBuffer(ctx, ptr, size, tag)
	if err != nil {
		r.logFailure(peer, "post_recv_buffer", err)
		return 0, WrapTransportError("post_recv_buffer", peer, err)
	}
	r.logRequest(peer, "post_recv_buffer", Rid(id))
	return Rid(id), nil
}

// WaitRecvBuffer blocks until peer's local rcv-info ledger has an
// entry matching tagFilter (tagFilter < 0 matches anything), returning
// a new request describing the remote buffer it names.
func (r *Runtime) WaitRecvBuffer(ctx context.Context, peer int, tagFilter int32) (Rid, error) {
	p, err := r.proc(peer)
	if err != nil {
		return 0, err
	}
	id, err := p.WaitRecvBuffer(ctx, tagFilter)
	if err != nil {
		return 0, WrapTransportError("wait_recv_buffer", peer, err)
	}
	r.logRequest(peer, "wait_recv_buffer", Rid(id))
	return Rid(id), nil
}

// PostSendBuffer posts local for eventual transfer to peer, taking the
// eager or rendezvous path by size (spec §4.E).
func (r *Runtime) PostSendBuffer(ctx context.Context, peer int, local []byte, tag int32) (Rid, error) {
	p, err := r.proc(peer)
	if err != nil {
		return 0, err
	}
	id, err := p.PostSendBuffer(ctx, local, tag)
	if err != nil {
		r.logFailure(peer, "post_send_buffer", err)
		return 0, WrapTransportError("post_send_buffer", peer, err)
	}
	r.logRequest(peer, "post_send_buffer", Rid(id))
	return Rid(id), nil
}

// WaitSendBuffer blocks until peer has a send ready (eager or
// rendezvous) matching tagFilter, returning a new request describing
// it.
func (r *Runtime) WaitSendBuffer(ctx context.Context, peer int, tagFilter int32) (Rid, error) {
	p, err := r.proc(peer)
	if err != nil {
		return 0, err
	}
	id, err := p.WaitSendBuffer(ctx, tagFilter)
	if err != nil {
		return 0, WrapTransportError("wait_send_buffer", peer, err)
	}
	return Rid(id), nil
}

// PostOSPut RDMA-PUTs local into the remote buffer rid names (from a
// prior WaitRecvBuffer), at offset rOffset.
func (r *Runtime) PostOSPut(ctx context.Context, peer int, rid Rid, ptr uintptr, local []byte, rOffset uint64) error {
	p, err := r.proc(peer)
	if err != nil {
		return err
	}
	if err := p.PostOSPut(ctx, uint64(rid), ptr, local, rOffset); err != nil {
		r.logFailure(peer, "post_os_put", err)
		return WrapTransportError("post_os_put", peer, err)
	}
	r.logRequest(peer, "post_os_put", rid)
	return nil
}

// PostOSGet RDMA-GETs into local from the remote buffer rid names (from
// a prior WaitSendBuffer), at offset rOffset. An already-landed eager
// request is short-circuited into a local copy.
func (r *Runtime) PostOSGet(ctx context.Context, peer int, rid Rid, ptr uintptr, local []byte, rOffset uint64) error {
	p, err := r.proc(peer)
	if err != nil {
		return err
	}
	if err := p.PostOSGet(ctx, uint64(rid), ptr, local, rOffset); err != nil {
		r.logFailure(peer, "post_os_get", err)
		return WrapTransportError("post_os_get", peer, err)
	}
	r.logRequest(peer, "post_os_get", rid)
	return nil
}

// SendFIN notifies peer that the transfer rid names has landed, PUTing
// a FIN entry into peer's local FIN ledger (consumed by peer's own
// WaitAnyLedger).
func (r *Runtime) SendFIN(peer int, rid Rid, completed bool) error {
	p, err := r.proc(peer)
	if err != nil {
		return err
	}
	if err := p.SendFIN(uint64(rid), completed); err != nil {
		r.logFailure(peer, "send_FIN", err)
		return WrapTransportError("send_FIN", peer, err)
	}
	r.logRequest(peer, "send_FIN", rid)
	return nil
}
