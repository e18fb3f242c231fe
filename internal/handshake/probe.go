package handshake

import "github.com/ehrlich-b/photonrdma/internal/ledger"

// LedgerKind selects which rendezvous-info ledger ProbeLedger inspects
// (spec §4.H "probe_ledger": PHOTON_SEND_LEDGER / PHOTON_RECV_LEDGER).
type LedgerKind int

const (
	SendLedger LedgerKind = iota
	RecvLedger
)

// ProbeLedgerHit describes a still-unconsumed rendezvous-info ledger
// entry ProbeLedger found.
type ProbeLedgerHit struct {
	Request uint64
	Tag     int32
	Size    uint64
}

// ProbeLedger scans every slot of the local send- or recv-info ledger
// for an already-landed, positively-tagged entry without consuming it
// (spec §4.H "probe_ledger", grounded on original_source's
// _photon_probe_ledger). Unlike WaitRecvBuffer/WaitSendBuffer, a hit
// is left in place — whichever rendezvous call eventually wants it
// still has to consume it itself.
func (p *Process) ProbeLedger(kind LedgerKind) (bool, ProbeLedgerHit) {
	var lg *ledger.RiLedger
	switch kind {
	case SendLedger:
		lg = p.SendInfoLocal
	case RecvLedger:
		lg = p.RecvInfoLocal
	default:
		return false, ProbeLedgerHit{}
	}
	for i := uint32(0); i < lg.NumEntries(); i++ {
		entry := lg.Peek(i)
		if entry.Arrived() && entry.Tag > 0 {
			return true, ProbeLedgerHit{Request: entry.Request, Tag: entry.Tag, Size: entry.Size}
		}
	}
	return false, ProbeLedgerHit{}
}
