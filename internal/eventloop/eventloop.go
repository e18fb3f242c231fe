// Package eventloop implements the two generic completion reapers a
// runtime polls once per peer set (spec §4.G): wait_any drains raw
// backend completions across every known peer and dispatches them onto
// the matching request's auxiliary queue by op, and wait_any_ledger
// scans every peer's local FIN ledger round-robin for the receiver-side
// signal send_FIN leaves behind. Both are grounded on
// original_source/photon.c's __photon_wait_any and
// __photon_wait_any_ledger.
package eventloop

import (
	"context"
	"runtime"

	"github.com/ehrlich-b/photonrdma/internal/handshake"
	"github.com/ehrlich-b/photonrdma/internal/reqtable"
	"github.com/ehrlich-b/photonrdma/internal/transport"
)

// Loop reaps completions across a fixed set of peers, one
// handshake.Process per peer rank (a nil entry marks an unused rank).
type Loop struct {
	procs        []*handshake.Process
	finStart     int // sticky wait_any_ledger round-robin start, avoids starving later peers
	sendReqStart int // sticky wait_send_request_rdma round-robin start
}

// New constructs a Loop over procs, indexed by peer rank.
func New(procs []*handshake.Process) *Loop {
	return &Loop{procs: procs}
}

// WaitAny polls every peer's backend for one raw completion, decodes
// its cookie as a request id, and decrements that request's event
// count. A PWC or GWC request that reaches zero is handed off to its
// own engine's queue rather than returned here — those are reaped by
// internal/pwc's ProbeCompletion/WaitGetCompletion instead. Any other
// op that reaches zero is what WaitAny returns.
func (l *Loop) WaitAny(ctx context.Context) (uint64, error) {
	for {
		for _, p := range l.procs {
			if p == nil {
				continue
			}
			select {
			case rid := <-p.Reqs.CompQ:
				return rid, nil
			default:
			}
			rid, hit, err := l.dispatchOne(p)
			if err != nil {
				return 0, err
			}
			if hit {
				return rid, nil
			}
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}

func (l *Loop) dispatchOne(p *handshake.Process) (uint64, bool, error) {
	events, status, err := p.Backend().GetEvent(p.Rank, 1)
	if err != nil {
		return 0, false, newTransportError(p.Rank, err)
	}
	if status != transport.EventOK || len(events) == 0 {
		return 0, false, nil
	}
	ev := events[0]
	if ev.Cookie == 0 {
		return 0, false, nil // NO_CQE/ONE_CQE suppression sentinel: nothing to dispatch
	}
	req, err := p.Reqs.Lookup(ev.Cookie)
	if err != nil {
		return 0, false, nil // stale or unknown cookie
	}
	if !req.DecrementEvents() {
		return 0, false, nil
	}

	switch req.Op {
	case reqtable.OpPWC:
		select {
		case p.Reqs.PwcQ <- req.ID:
		default:
		}
		return 0, false, nil
	case reqtable.OpGWC:
		select {
		case p.Reqs.GwcQ <- req.ID:
		default:
		}
		return 0, false, nil
	default:
		return req.ID, true, nil
	}
}

// WaitAnyLedger scans every peer's local FIN ledger round-robin,
// starting from wherever the previous call left off so no peer is
// starved behind a peer that always has a FIN waiting. On a hit it
// decrements the named request's event count and frees it once
// complete — the receiver-side effect send_FIN defers to here (spec
// §4.E).
func (l *Loop) WaitAnyLedger(ctx context.Context) (uint64, error) {
	n := len(l.procs)
	for {
		for i := 0; i < n; i++ {
			idx := (l.finStart + i) % n
			p := l.procs[idx]
			if p == nil {
				continue
			}
			if rid, ok := l.drainFIN(p); ok {
				l.finStart = (idx + 1) % n
				return rid, nil
			}
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}

func (l *Loop) drainFIN(p *handshake.Process) (uint64, bool) {
	idx, curr := p.FINLocal.NextToConsume()
	if !p.FINLocal.IsArrived(idx) {
		return 0, false
	}
	entry := p.FINLocal.Peek(idx)
	if !p.FINLocal.Advance(curr) {
		return 0, false
	}
	p.FINLocal.Clear(idx)
	p.FINLocal.MarkDone(1)

	if req, err := p.Reqs.Lookup(entry.Request); err == nil {
		if req.DecrementEvents() {
			p.Reqs.Free(req)
		}
	}
	return entry.Request, true
}
