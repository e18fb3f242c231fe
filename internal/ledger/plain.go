package ledger

import (
	"github.com/ehrlich-b/photonrdma/internal/registry"
	"github.com/ehrlich-b/photonrdma/internal/wire"
)

// PlainLedger is a ring of 8-byte request-id entries, used for FIN,
// PWC-notify, and eager-size-marker ledgers (spec §4.B). Emptiness is
// sentinel-based rather than header/footer-guarded: FIN and eager
// ledgers use 0 as empty, PWC ledgers use all-ones, since a PWC
// request id's low bits legitimately may be zero.
type PlainLedger struct {
	numEntries uint32
	empty      uint64
	cursor     Cursor

	local  []byte
	remote RemoteDescriptor
}

// NewPlainLedger constructs a plain ledger of the given capacity with
// the given empty-slot sentinel.
func NewPlainLedger(numEntries uint32, emptySentinel uint64) *PlainLedger {
	return &PlainLedger{numEntries: numEntries, empty: emptySentinel}
}

// AttachLocal backs this ledger with local mirror bytes, making it a
// consumer instance, and resets every slot to the empty sentinel.
func (l *PlainLedger) AttachLocal(b []byte) {
	l.local = b
	for i := uint32(0); i < l.numEntries; i++ {
		l.Clear(i)
	}
}

// SetRemote records the peer-side copy's location, making this a
// producer instance.
func (l *PlainLedger) SetRemote(d RemoteDescriptor) { l.remote = d }

// Claim reserves the next slot index for a producer.
func (l *PlainLedger) Claim() (uint32, error) {
	return l.cursor.Claim(l.numEntries)
}

// RemoteEntryAddr computes the peer-side byte address of slot index.
func (l *PlainLedger) RemoteEntryAddr(index uint32) uint64 {
	return l.remote.Addr + uint64(index)*wire.PlainLedgerEntrySize
}

// RemotePriv returns the rkey pair to target the peer's copy.
func (l *PlainLedger) RemotePriv() registry.BufferPriv { return l.remote.Priv }

func (l *PlainLedger) entryBytes(index uint32) []byte {
	off := uint64(index%l.numEntries) * wire.PlainLedgerEntrySize
	return l.local[off : off+wire.PlainLedgerEntrySize]
}

// Peek decodes slot index of the local mirror.
func (l *PlainLedger) Peek(index uint32) wire.PlainLedgerEntry {
	return wire.UnmarshalPlain(l.entryBytes(index))
}

// IsArrived reports whether slot index holds something other than the
// empty sentinel.
func (l *PlainLedger) IsArrived(index uint32) bool {
	return l.Peek(index).Request != l.empty
}

// Clear resets slot index back to the empty sentinel.
func (l *PlainLedger) Clear(index uint32) {
	b := l.entryBytes(index)
	e := wire.PlainLedgerEntry{Request: l.empty}
	copy(b, wire.MarshalPlain(e))
}

// NextToConsume returns the next local-mirror index to poll and the
// curr value to race on.
func (l *PlainLedger) NextToConsume() (index uint32, curr uint64) {
	curr = l.cursor.Curr()
	return uint32(curr) % l.numEntries, curr
}

// Advance claims slot curr for consumption.
func (l *PlainLedger) Advance(curr uint64) bool {
	return l.cursor.TryAdvance(curr)
}

// MarkDone frees n consumed slots.
func (l *PlainLedger) MarkDone(n uint64) { l.cursor.MarkDone(n) }

// NumEntries returns the ledger's capacity.
func (l *PlainLedger) NumEntries() uint32 { return l.numEntries }
