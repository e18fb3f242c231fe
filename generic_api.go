package photon

import "context"

// Test non-blockingly reports whether a previously posted request on
// peer has reached a terminal state — spec §4.H's generic "test"
// primitive, grounded on original_source's _photon_test. Unlike
// WaitAny/WaitAnyLedger it never reroutes the request anywhere; it
// just answers the one question for the one id the caller already
// holds.
func (r *Runtime) Test(peer int, rid Rid) (bool, error) {
	if _, err := r.proc(peer); err != nil {
		return false, err
	}
	done, err := r.loop.Test(peer, uint64(rid))
	if err != nil {
		return false, WrapTransportError("test", peer, err)
	}
	return done, nil
}

// Wait blocks until a previously posted request on peer reaches a
// terminal state — spec §4.H's generic "wait" primitive, grounded on
// original_source's _photon_wait.
func (r *Runtime) Wait(ctx context.Context, peer int, rid Rid) error {
	if _, err := r.proc(peer); err != nil {
		return err
	}
	if err := r.loop.Wait(ctx, peer, uint64(rid)); err != nil {
		return WrapTransportError("wait", peer, err)
	}
	return nil
}

// PostSendRequestRDMA announces intent to send size bytes tagged tag
// to peer, without yet committing a local buffer — spec §4.H's
// "post_send_request_rdma" (grounded on original_source's
// _photon_post_send_request_rdma).
func (r *Runtime) PostSendRequestRDMA(peer int, size uint64, tag int32) (Rid, error) {
	p, err := r.proc(peer)
	if err != nil {
		return 0, err
	}
	id, err := p.PostSendRequestRDMA(size, tag)
	if err != nil {
		r.logFailure(peer, "post_send_request_rdma", err)
		return 0, WrapTransportError("post_send_request_rdma", peer, err)
	}
	r.logRequest(peer, "post_send_request_rdma", Rid(id))
	return Rid(id), nil
}

// WaitSendRequestRDMA blocks until some peer's local snd-info ledger
// has an entry matching tagFilter (tagFilter < 0 matches anything),
// round-robin across every peer — spec §4.H's "wait_send_request_rdma"
// (grounded on original_source's _photon_wait_send_request_rdma).
func (r *Runtime) WaitSendRequestRDMA(ctx context.Context, tagFilter int32) (int, Rid, error) {
	peer, id, err := r.loop.WaitSendRequestRDMA(ctx, tagFilter)
	if err != nil {
		return 0, 0, WrapTransportError("wait_send_request_rdma", -1, err)
	}
	return peer, Rid(id), nil
}
