package ledger

import (
	"github.com/ehrlich-b/photonrdma/internal/constants"
	"github.com/ehrlich-b/photonrdma/internal/registry"
)

// alignUp rounds n up to the next multiple of constants.PwcAlign,
// matching the reference implementation's EB_MSG_SIZE padding so every
// reservation in the byte ring starts and ends on an aligned boundary
// (the trailing tail-flag byte the consumer spins on must itself sit
// at an aligned offset).
func alignUp(n uint64) uint64 {
	a := uint64(constants.PwcAlign)
	return (n + a - 1) &^ (a - 1)
}

// EagerMsgSize returns the total aligned span a payload of the given
// length occupies in an eager byte ring: header + payload + tail flag
// byte, rounded up to PwcAlign.
func EagerMsgSize(payloadLen uint32) uint64 {
	const headerAndTail = 19 + 1 // wire.PwcEagerHeaderSize + 1 tail byte
	return alignUp(uint64(payloadLen) + headerAndTail)
}

// EagerBuf is a byte ring carrying eager PUT-with-completion payloads
// (spec §4.B, §4.D). Size must be a power of two, matching the
// reference implementation's mask-based offset arithmetic
// (curr & (size-1)).
type EagerBuf struct {
	size   uint64
	cursor Cursor

	local  []byte // non-nil for a consumer instance
	remote RemoteDescriptor
}

// NewEagerBuf constructs an eager byte ring of the given power-of-two
// size.
func NewEagerBuf(size uint64) *EagerBuf {
	return &EagerBuf{size: size}
}

// AttachLocal backs this ring with local mirror bytes, making it a
// consumer instance.
func (e *EagerBuf) AttachLocal(b []byte) { e.local = b }

// SetRemote records the peer-side copy's location, making this a
// producer instance.
func (e *EagerBuf) SetRemote(d RemoteDescriptor) { e.remote = d }

// Size returns the ring's total byte capacity.
func (e *EagerBuf) Size() uint64 { return e.size }

// Local returns the backing byte slice of a consumer instance.
func (e *EagerBuf) Local() []byte { return e.local }

// Reserve claims spanSize contiguous bytes for a producer to RDMA
// WRITE into, retrying the CAS until it wins or the ring is full.
// Mirrors the reference implementation's producer-side offset
// allocation: a span that would straddle the ring's wraparound point
// is not split — the remaining tail gap is burned and the span starts
// fresh at offset 0 (spec §3, "An offset is obtained by fetch-and-add
// on curr; if the wrap leaves less than the requested contiguous span,
// the reservation is rounded up so the span is contiguous").
func (e *EagerBuf) Reserve(spanSize uint64) (offset uint64, err error) {
	for {
		curr := e.cursor.Curr()
		off := curr & (e.size - 1)
		left := e.size - off

		var next uint64
		var actual uint64
		if left < spanSize {
			next = curr + left + spanSize
			actual = 0
		} else {
			next = curr + spanSize
			actual = off
		}

		if next-e.cursor.Tail() > e.size {
			return 0, ErrOverflow
		}
		if e.cursor.CompareAndSwapCurr(curr, next) {
			return actual, nil
		}
	}
}

// TryClaim attempts, once, to claim the next span a consumer should
// read starting at its current cursor — the same wraparound
// arithmetic as Reserve, but single-shot: on CAS failure the caller
// retries on its next poll rather than spinning here, since losing the
// race means another consumer (there is normally only one) already
// advanced and there is nothing further to read yet.
func (e *EagerBuf) TryClaim(spanSize uint64) (offset uint64, wrapped bool, ok bool) {
	curr := e.cursor.Curr()
	off := curr & (e.size - 1)
	left := e.size - off

	var next uint64
	var actual uint64
	var didWrap bool
	if left < spanSize {
		next = curr + left + spanSize
		actual = 0
		didWrap = true
	} else {
		next = curr + spanSize
		actual = off
	}

	if !e.cursor.CompareAndSwapCurr(curr, next) {
		return 0, false, false
	}
	return actual, didWrap, true
}

// MarkDone frees n bytes previously reserved, letting a producer's
// overflow check see room again.
func (e *EagerBuf) MarkDone(n uint64) { e.cursor.MarkDone(n) }

// NextOffset returns the byte offset a consumer should next inspect,
// without claiming it. PWC's eager ring is self-describing (the span
// length lives in the header at that offset), so the consumer must
// peek before it knows how much to TryClaim.
func (e *EagerBuf) NextOffset() uint64 { return e.cursor.Curr() & (e.size - 1) }

// RemoteSpanAddr computes the peer-side byte address of offset within
// this ring.
func (e *EagerBuf) RemoteSpanAddr(offset uint64) uint64 { return e.remote.Addr + offset }

// RemotePriv returns the rkey pair to target the peer's copy.
func (e *EagerBuf) RemotePriv() registry.BufferPriv { return e.remote.Priv }
