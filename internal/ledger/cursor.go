// Package ledger implements the three ring primitives shared storage is
// carved into (spec §3, §4.B): rendezvous-info ledgers, plain ledgers
// (FIN / PWC-notify / eager markers), and eager payload byte rings.
package ledger

import (
	"errors"
	"sync/atomic"
)

// ErrOverflow is returned when a producer's claim would exceed the
// ring's capacity — the only back-pressure signal the core exports
// (spec §4.I).
var ErrOverflow = errors.New("ledger: overflow")

// Cursor is the atomic curr/tail pair shared by every ring kind: curr
// is fetch-added by producers claiming slots, tail is fetch-added by
// consumers freeing them. Both are relaxed-ordering atomics — ordering
// of the entries they index is established by the RDMA transport, not
// by these counters (spec §5).
type Cursor struct {
	curr atomic.Uint64
	tail atomic.Uint64
}

// Claim fetch-adds curr by one and returns the claimed index modulo
// capacity. If curr-tail would exceed capacity, the fadd is undone and
// ErrOverflow is returned.
func (c *Cursor) Claim(capacity uint32) (uint32, error) {
	curr := c.curr.Add(1) - 1
	tail := c.tail.Load()
	if curr-tail >= uint64(capacity) {
		c.curr.Add(^uint64(0)) // undo: curr - 1
		return 0, ErrOverflow
	}
	return uint32(curr) % capacity, nil
}

// TryAdvance is the CAS a consumer uses to claim the next entry for
// itself, advancing curr from want to want+1.
func (c *Cursor) TryAdvance(want uint64) bool {
	return c.curr.CompareAndSwap(want, want+1)
}

// CompareAndSwapCurr performs an arbitrary CAS on curr, used by the
// eager byte ring's wraparound reservation where the new value is not
// simply want+1.
func (c *Cursor) CompareAndSwapCurr(old, new uint64) bool {
	return c.curr.CompareAndSwap(old, new)
}

// Curr loads the current producer cursor.
func (c *Cursor) Curr() uint64 { return c.curr.Load() }

// Tail loads the current consumer cursor.
func (c *Cursor) Tail() uint64 { return c.tail.Load() }

// MarkDone fetch-adds tail by n, freeing n slots.
func (c *Cursor) MarkDone(n uint64) { c.tail.Add(n) }

// Occupied reports curr-tail, the number of claimed-but-not-yet-freed slots.
func (c *Cursor) Occupied() uint64 { return c.curr.Load() - c.tail.Load() }
