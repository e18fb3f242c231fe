package ledger

import (
	"github.com/ehrlich-b/photonrdma/internal/registry"
	"github.com/ehrlich-b/photonrdma/internal/wire"
)

// RemoteDescriptor is what a peer tells us about one of its ledgers
// during the bootstrap exchange (spec §4.E): the base address of its
// copy in its own shared storage, plus the rkey pair needed to RDMA
// WRITE into it.
type RemoteDescriptor struct {
	Addr uint64
	Priv registry.BufferPriv
}

// RiLedger is a rendezvous-info ledger ring: a fixed-size array of
// RiLedgerEntry slots. A single RiLedger instance plays one of two
// roles, never both: a producer instance tracks curr/tail to claim
// slot indices and compute the remote address to RDMA WRITE into; a
// consumer instance is backed by this rank's local mirror bytes and is
// scanned in order, clearing each slot after it is read (spec §4.B).
type RiLedger struct {
	numEntries uint32
	cursor     Cursor

	local  []byte // non-nil for a consumer instance
	remote RemoteDescriptor
}

// NewRiLedger constructs a ledger of the given capacity (must be a
// power of two — spec §3's request-table/ledger sizing convention).
func NewRiLedger(numEntries uint32) *RiLedger {
	return &RiLedger{numEntries: numEntries}
}

// AttachLocal backs this ledger with the local mirror bytes a peer's
// RDMA WRITEs land in, turning it into a consumer instance.
func (l *RiLedger) AttachLocal(b []byte) { l.local = b }

// SetRemote records where this ledger's peer-side copy lives, turning
// this instance into a producer.
func (l *RiLedger) SetRemote(d RemoteDescriptor) { l.remote = d }

// Claim reserves the next slot index for a producer to write into,
// returning ErrOverflow if doing so would outrun the peer's consumer
// (spec §4.I, "ledger full").
func (l *RiLedger) Claim() (uint32, error) {
	return l.cursor.Claim(l.numEntries)
}

// RemoteEntryAddr computes the byte address of slot index within the
// peer's copy of this ledger, for the RDMA WRITE target.
func (l *RiLedger) RemoteEntryAddr(index uint32) uint64 {
	return l.remote.Addr + uint64(index)*wire.RiLedgerEntrySize
}

// RemotePriv returns the rkey pair to target the peer's copy.
func (l *RiLedger) RemotePriv() registry.BufferPriv { return l.remote.Priv }

// entryBytes returns the local byte slice backing slot index, modulo
// capacity.
func (l *RiLedger) entryBytes(index uint32) []byte {
	off := uint64(index%l.numEntries) * wire.RiLedgerEntrySize
	return l.local[off : off+wire.RiLedgerEntrySize]
}

// Peek decodes slot index of the local mirror without consuming it.
func (l *RiLedger) Peek(index uint32) wire.RiLedgerEntry {
	return wire.UnmarshalRi(l.entryBytes(index))
}

// Clear zeroes slot index of the local mirror after it has been
// consumed, so Arrived() is false until the next producer write lands.
func (l *RiLedger) Clear(index uint32) {
	b := l.entryBytes(index)
	for i := range b {
		b[i] = 0
	}
}

// NextToConsume returns the next local-mirror index a consumer should
// poll, and the local curr value to compare against after a successful
// check-and-advance.
func (l *RiLedger) NextToConsume() (index uint32, curr uint64) {
	curr = l.cursor.Curr()
	return uint32(curr) % l.numEntries, curr
}

// Advance attempts to claim the slot at curr for consumption, racing
// any other consumer of the same ledger (there is normally exactly
// one). Returns false if another consumer already advanced past curr.
func (l *RiLedger) Advance(curr uint64) bool {
	return l.cursor.TryAdvance(curr)
}

// MarkDone frees n consumed slots so a producer's overflow check sees
// room again.
func (l *RiLedger) MarkDone(n uint64) { l.cursor.MarkDone(n) }

// NumEntries returns the ledger's capacity.
func (l *RiLedger) NumEntries() uint32 { return l.numEntries }
