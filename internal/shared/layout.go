// Package shared computes the shared-storage layout (spec §3, §9): one
// page-aligned region carved into per-peer ledgers and eager buffers,
// identical in byte layout across every rank so that
// peer_base[i] + my_rank*stride addresses this rank's mirror on peer i.
package shared

import (
	"github.com/ehrlich-b/photonrdma/internal/wire"
)

// Kind names one of the fourteen regions carved out of shared storage,
// in the fixed order spec §3 specifies.
type Kind int

const (
	LocalRecvInfo Kind = iota
	RemoteRecvInfo
	LocalSendInfo
	RemoteSendInfo
	LocalFIN
	RemoteFIN
	LocalPWC
	RemotePWC
	LocalEager
	RemoteEager
	LocalEagerBuf
	RemoteEagerBuf
	LocalPWCBuf
	RemotePWCBuf
	numKinds
)

// riKinds are the regions holding rendezvous-info ledger entries.
var riKinds = map[Kind]bool{LocalRecvInfo: true, RemoteRecvInfo: true, LocalSendInfo: true, RemoteSendInfo: true}

// plainLedgerKinds are the regions holding plain (8-byte) ledger entries.
var plainLedgerKinds = map[Kind]bool{LocalFIN: true, RemoteFIN: true, LocalPWC: true, RemotePWC: true, LocalEager: true, RemoteEager: true}

// byteRingKinds are the regions holding raw eager-payload byte rings.
var byteRingKinds = map[Kind]bool{LocalEagerBuf: true, RemoteEagerBuf: true, LocalPWCBuf: true, RemotePWCBuf: true}

var ordered = []Kind{
	LocalRecvInfo, RemoteRecvInfo, LocalSendInfo, RemoteSendInfo,
	LocalFIN, RemoteFIN, LocalPWC, RemotePWC, LocalEager, RemoteEager,
	LocalEagerBuf, RemoteEagerBuf, LocalPWCBuf, RemotePWCBuf,
}

// Layout is the offset table computed once at init from nproc and the
// per-kind stride; pointer arithmetic into peer mirrors derives from it
// rather than being recomputed per call (spec §9).
type Layout struct {
	NProc         int
	LedgerEntries int
	EagerBufSize  uint64

	riStride    uint64
	plainStride uint64

	offsets  [numKinds]uint64
	regSize  [numKinds]uint64
	total    uint64
}

// NewLayout computes the offset table for nproc peers, ledgerEntries
// slots per ledger (must be a power of two), and eagerBufSize bytes per
// eager byte ring.
func NewLayout(nproc, ledgerEntries int, eagerBufSize uint64) *Layout {
	l := &Layout{
		NProc:         nproc,
		LedgerEntries: ledgerEntries,
		EagerBufSize:  eagerBufSize,
		riStride:      uint64(ledgerEntries) * wire.RiLedgerEntrySize,
		plainStride:   uint64(ledgerEntries) * wire.PlainLedgerEntrySize,
	}

	var off uint64
	for _, k := range ordered {
		size := l.strideFor(k) * uint64(nproc)
		l.offsets[k] = off
		l.regSize[k] = size
		off += size
	}
	l.total = off
	return l
}

// strideFor returns the per-peer byte stride for region k.
func (l *Layout) strideFor(k Kind) uint64 {
	switch {
	case riKinds[k]:
		return l.riStride
	case plainLedgerKinds[k]:
		return l.plainStride
	case byteRingKinds[k]:
		return l.EagerBufSize
	default:
		return 0
	}
}

// Stride is the public accessor for strideFor.
func (l *Layout) Stride(k Kind) uint64 { return l.strideFor(k) }

// TotalSize is the byte size of the whole shared-storage region before
// page rounding.
func (l *Layout) TotalSize() uint64 { return l.total }

// Offset returns the byte offset, within the shared-storage region, of
// peer rank's slot of region k.
func (l *Layout) Offset(k Kind, rank int) uint64 {
	return l.offsets[k] + uint64(rank)*l.strideFor(k)
}

// RegionOffset returns the byte offset of the start of region k,
// before per-peer striding.
func (l *Layout) RegionOffset(k Kind) uint64 { return l.offsets[k] }
