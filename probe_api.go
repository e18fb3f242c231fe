package photon

import "github.com/ehrlich-b/photonrdma/internal/handshake"

// LedgerKind selects which rendezvous-info ledger ProbeLedger
// inspects (spec §4.H "probe_ledger": PHOTON_SEND_LEDGER /
// PHOTON_RECV_LEDGER).
type LedgerKind = handshake.LedgerKind

const (
	SendLedger = handshake.SendLedger
	RecvLedger = handshake.RecvLedger
)

// ProbeLedgerHit describes a still-unconsumed rendezvous-info ledger
// entry ProbeLedger found.
type ProbeLedgerHit = handshake.ProbeLedgerHit

// ProbeLedger non-blockingly scans peer's local send/recv-info ledger
// for an already-landed, positively-tagged entry without consuming it
// (spec §4.H "probe_ledger"). peer < 0 scans every peer in rank order,
// stopping at the first hit.
func (r *Runtime) ProbeLedger(peer int, kind LedgerKind) (bool, int, ProbeLedgerHit, error) {
	if peer >= 0 {
		p, err := r.proc(peer)
		if err != nil {
			return false, 0, ProbeLedgerHit{}, err
		}
		ok, hit := p.ProbeLedger(kind)
		return ok, peer, hit, nil
	}
	for i, p := range r.procs {
		if p == nil {
			continue
		}
		if ok, hit := p.ProbeLedger(kind); ok {
			return true, i, hit, nil
		}
	}
	return false, 0, ProbeLedgerHit{}, nil
}

// Probe non-blockingly checks peer's local FIN ledger head for an
// already-landed completion without consuming it (spec §4.H "probe").
// peer < 0 scans every peer in rank order, stopping at the first hit.
func (r *Runtime) Probe(peer int) (bool, int, Rid, error) {
	if peer >= 0 {
		if _, err := r.proc(peer); err != nil {
			return false, 0, 0, err
		}
		ok, rid, err := r.loop.Probe(peer)
		if err != nil {
			return false, 0, 0, WrapTransportError("probe", peer, err)
		}
		return ok, peer, Rid(rid), nil
	}
	for i := range r.procs {
		if r.procs[i] == nil {
			continue
		}
		ok, rid, err := r.loop.Probe(i)
		if err != nil {
			return false, 0, 0, WrapTransportError("probe", i, err)
		}
		if ok {
			return true, i, Rid(rid), nil
		}
	}
	return false, 0, 0, nil
}
