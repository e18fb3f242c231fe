package eventloop

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ehrlich-b/photonrdma/internal/handshake"
	"github.com/ehrlich-b/photonrdma/internal/reqtable"
)

// ErrUnknownPeer is returned by any Loop method given an out-of-range
// or self peer rank.
var ErrUnknownPeer = fmt.Errorf("eventloop: unknown or self peer")

func (l *Loop) proc(peer int) (*handshake.Process, error) {
	if peer < 0 || peer >= len(l.procs) || l.procs[peer] == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPeer, peer)
	}
	return l.procs[peer], nil
}

// Test non-blockingly reports whether peer's request rid has already
// reached a terminal state, per spec §4.H's generic "test" (grounded
// on original_source's _photon_test): it first checks state directly,
// in case an earlier WaitAny/WaitAnyLedger/ProbeCompletion already
// resolved it, then opportunistically pulls one raw backend completion
// off the wire before giving up.
func (l *Loop) Test(peer int, rid uint64) (bool, error) {
	p, err := l.proc(peer)
	if err != nil {
		return false, err
	}
	if done, err := testState(p, rid); done || err != nil {
		return done, err
	}
	if _, _, err := l.dispatchOne(p); err != nil {
		return false, err
	}
	return testState(p, rid)
}

func testState(p *handshake.Process, rid uint64) (bool, error) {
	req, err := p.Reqs.Lookup(rid)
	if err != nil {
		return false, err
	}
	return req.State == reqtable.StateCompleted || req.State == reqtable.StateFailed, nil
}

// Wait blocks until peer's request rid reaches a terminal state, per
// spec §4.H's generic "wait" (grounded on original_source's
// _photon_wait): it is Test looped until it returns true.
func (l *Loop) Wait(ctx context.Context, peer int, rid uint64) error {
	for {
		done, err := l.Test(peer, rid)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}

// Probe non-blockingly checks peer's local FIN ledger head without
// consuming it, reporting whether a completion is ready for
// WaitAnyLedger to reap (spec §4.H's generic "probe", grounded on
// original_source's _photon_probe non-consuming pending-completion
// check).
func (l *Loop) Probe(peer int) (bool, uint64, error) {
	p, err := l.proc(peer)
	if err != nil {
		return false, 0, err
	}
	idx, _ := p.FINLocal.NextToConsume()
	if !p.FINLocal.IsArrived(idx) {
		return false, 0, nil
	}
	return true, p.FINLocal.Peek(idx).Request, nil
}

// WaitSendRequestRDMA scans every peer's local snd-info ledger
// round-robin for an entry matching tagFilter (tagFilter < 0 matches
// anything), building a new request describing it — the multi-peer
// counterpart of WaitSendBuffer, grounded on original_source's
// _photon_wait_send_request_rdma, which scans every peer rather than
// one (spec §4.H).
func (l *Loop) WaitSendRequestRDMA(ctx context.Context, tagFilter int32) (int, uint64, error) {
	n := len(l.procs)
	for {
		for i := 0; i < n; i++ {
			idx := (l.sendReqStart + i) % n
			p := l.procs[idx]
			if p == nil {
				continue
			}
			if rid, ok := l.matchSendRequest(p, tagFilter); ok {
				l.sendReqStart = (idx + 1) % n
				return p.Rank, rid, nil
			}
		}
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}

func (l *Loop) matchSendRequest(p *handshake.Process, tagFilter int32) (uint64, bool) {
	idx, curr := p.SendInfoLocal.NextToConsume()
	entry := p.SendInfoLocal.Peek(idx)
	if !entry.Arrived() || (tagFilter >= 0 && tagFilter != entry.Tag) {
		return 0, false
	}
	if !p.SendInfoLocal.Advance(curr) {
		return 0, false
	}

	newReq, err := p.Reqs.Alloc(reqtable.OpPut, 1, 0)
	if err != nil {
		return 0, false
	}
	newReq.Tag = entry.Tag
	newReq.Rid = entry.Request
	newReq.RemoteBuf = reqtable.BufferDesc{Addr: entry.Addr, Size: entry.Size, Key0: entry.Key0, Key1: entry.Key1}

	p.SendInfoLocal.Clear(idx)
	p.SendInfoLocal.MarkDone(1)
	return newReq.ID, true
}
