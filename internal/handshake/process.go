// Package handshake implements the two-sided control plane built atop
// one-sided RDMA (spec §4.E): post_recv_buffer_rdma, post_send_buffer_rdma,
// their wait_* counterparts, post_os_put/get, and send_FIN. Everything
// here operates on one peer at a time; Process is this module's
// analogue of spec §3's Process[i].
package handshake

import (
	"context"
	"runtime"

	"github.com/ehrlich-b/photonrdma/internal/ledger"
	"github.com/ehrlich-b/photonrdma/internal/registry"
	"github.com/ehrlich-b/photonrdma/internal/reqtable"
	"github.com/ehrlich-b/photonrdma/internal/transport"
)

// Process owns one peer's half of the ledger/eager-buffer pairs plus
// its request table (spec §3's "Peer (Process[i])").
type Process struct {
	Rank int

	RecvInfoLocal  *ledger.RiLedger
	RecvInfoRemote *ledger.RiLedger
	SendInfoLocal  *ledger.RiLedger
	SendInfoRemote *ledger.RiLedger

	FINLocal  *ledger.PlainLedger
	FINRemote *ledger.PlainLedger
	PWCLocal  *ledger.PlainLedger
	PWCRemote *ledger.PlainLedger

	EagerLocal  *ledger.PlainLedger
	EagerRemote *ledger.PlainLedger

	EagerBufLocal  *ledger.EagerBuf
	EagerBufRemote *ledger.EagerBuf
	PWCBufLocal    *ledger.EagerBuf
	PWCBufRemote   *ledger.EagerBuf

	Reqs *reqtable.ReqTable

	backend      transport.Backend
	registry     *registry.Registry
	smallMsgSize uint32
}

// NewProcess constructs a Process with the given ledger capacity,
// backed by backend and registry, for the given peer rank.
func NewProcess(rank int, backend transport.Backend, reg *registry.Registry, ledgerEntries uint32, eagerBufSize uint64, smallMsgSize uint32, reqQueueCap int) *Process {
	p := &Process{
		Rank: rank,

		RecvInfoLocal:  ledger.NewRiLedger(ledgerEntries),
		RecvInfoRemote: ledger.NewRiLedger(ledgerEntries),
		SendInfoLocal:  ledger.NewRiLedger(ledgerEntries),
		SendInfoRemote: ledger.NewRiLedger(ledgerEntries),

		FINLocal:  ledger.NewPlainLedger(ledgerEntries, 0 /* wire.FINEmptySentinel */),
		FINRemote: ledger.NewPlainLedger(ledgerEntries, 0),
		PWCLocal:  ledger.NewPlainLedger(ledgerEntries, ^uint64(0) /* wire.PWCEmptySentinel */),
		PWCRemote: ledger.NewPlainLedger(ledgerEntries, ^uint64(0)),

		EagerLocal:  ledger.NewPlainLedger(ledgerEntries, 0),
		EagerRemote: ledger.NewPlainLedger(ledgerEntries, 0),

		EagerBufLocal:  ledger.NewEagerBuf(eagerBufSize),
		EagerBufRemote: ledger.NewEagerBuf(eagerBufSize),
		PWCBufLocal:    ledger.NewEagerBuf(eagerBufSize),
		PWCBufRemote:   ledger.NewEagerBuf(eagerBufSize),

		Reqs: reqtable.New(rank, ledgerEntries, reqQueueCap),

		backend:      backend,
		registry:     reg,
		smallMsgSize: smallMsgSize,
	}
	return p
}

// Backend exposes the transport this Process rides on, for the PWC
// engine and event loop packages that operate alongside it rather than
// inside it.
func (p *Process) Backend() transport.Backend { return p.backend }

// spinUntil polls check until it returns true or ctx is cancelled,
// yielding the processor between attempts the way the teacher's and reference implementation's
// busy-wait loops do.
func spinUntil(ctx context.Context, check func() bool) error {
	for {
		if check() {
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
