package photon

import (
	"context"

	"github.com/ehrlich-b/photonrdma/internal/pwc"
)

// PwcFlags selects completion-notification behavior for
// PutWithCompletion, mirroring spec §4.F's NO_CQE/ONE_CQE.
type PwcFlags = pwc.Flags

const (
	FlagNoCQE  = pwc.FlagNoCQE
	FlagOneCQE = pwc.FlagOneCQE
)

// ProbeFlags selects which completion sources ProbeCompletion consults
// beyond the already-dispatched auxiliary queue.
type ProbeFlags = pwc.ProbeFlags

const (
	ProbeEVQ    = pwc.ProbeEVQ
	ProbeLedger = pwc.ProbeLedger
)

// PutWithCompletion writes local into peer's memory at (remoteAddr,
// remotePriv) and arranges for remoteRid to be observable via peer's
// ProbeCompletion once it lands (spec §4.F). Payloads at or below
// small_pwc_size take a single-PUT eager path through peer's PWC eager
// ring; larger payloads take a two-PUT rendezvous path.
func (r *Runtime) PutWithCompletion(peer int, local []byte, remoteAddr uint64, remotePriv BufferPriv, remoteRid Rid, flags PwcFlags) (Rid, error) {
	eng, err := r.pwcEngine(peer)
	if err != nil {
		return 0, err
	}
	id, err := eng.PutWithCompletion(local, remoteAddr, remotePriv, uint64(remoteRid), flags)
	if err != nil {
		r.logFailure(peer, "put_with_completion", err)
		return 0, WrapTransportError("put_with_completion", peer, err)
	}
	r.logRequest(peer, "put_with_completion", Rid(id))
	return Rid(id), nil
}

// GetWithCompletion RDMA-GETs from peer's (remoteAddr, remotePriv) into
// local. Unlike PutWithCompletion, completion is observed purely
// locally (no remote ledger notification): wait on it with
// WaitGetCompletion.
func (r *Runtime) GetWithCompletion(peer int, local []byte, remoteAddr uint64, remotePriv BufferPriv, remoteRid Rid) (Rid, error) {
	eng, err := r.pwcEngine(peer)
	if err != nil {
		return 0, err
	}
	id, err := eng.GetWithCompletion(local, remoteAddr, remotePriv, uint64(remoteRid))
	if err != nil {
		r.logFailure(peer, "get_with_completion", err)
		return 0, WrapTransportError("get_with_completion", peer, err)
	}
	r.logRequest(peer, "get_with_completion", Rid(id))
	return Rid(id), nil
}

// WaitGetCompletion blocks until the GetWithCompletion request rid
// (from peer) completes.
func (r *Runtime) WaitGetCompletion(ctx context.Context, peer int, rid Rid) error {
	eng, err := r.pwcEngine(peer)
	if err != nil {
		return err
	}
	if err := eng.WaitGetCompletion(ctx, uint64(rid)); err != nil {
		return WrapTransportError("wait_get_completion", peer, err)
	}
	return nil
}

// ProbeCompletion non-blockingly reaps one PutWithCompletion arrival
// from peer, trying the already-dispatched auxiliary queue first, then
// (per flags) pulling one raw backend event, then scanning peer's PWC
// eager ring and plain ledger directly (spec §4.F "probe_completion").
func (r *Runtime) ProbeCompletion(peer int, flags ProbeFlags) (bool, Rid, error) {
	eng, err := r.pwcEngine(peer)
	if err != nil {
		return false, 0, err
	}
	ok, id, err := eng.ProbeCompletion(flags)
	if err != nil {
		return false, 0, WrapTransportError("probe_completion", peer, err)
	}
	return ok, Rid(id), nil
}
