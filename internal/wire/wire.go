// Package wire defines the byte-exact structures written into shared
// storage and mirrored across peers by RDMA WRITE: rendezvous-info
// ledger entries, plain ledger entries, and the PWC eager buffer
// header. Layouts are packed, little-endian, and fixed regardless of
// host struct alignment, since two ranks' copies must agree byte for
// byte on a homogeneous cluster.
package wire

import "encoding/binary"

// RiLedgerEntrySize is the wire size of a rendezvous-info ledger entry:
// header(1) pad(7) addr(8) size(8) key0(8) key1(8) request(8) tag(4)
// flags(2) pad(1) footer(1).
const RiLedgerEntrySize = 56

// PlainLedgerEntrySize is the wire size of a plain ledger entry
// (FIN / PWC notify / eager-size marker): request(8).
const PlainLedgerEntrySize = 8

// PwcEagerHeaderSize is the wire size of the header prefixed to an
// eager PWC payload: request(8) addr(8) length(2) head(1).
const PwcEagerHeaderSize = 19

// RiLedgerEntry is the decoded form of a rendezvous-info ledger slot.
// A reader busy-spins until both Header and Footer are non-zero: the
// producer's RDMA WRITE of the full entry is not observed atomically,
// and Header is written last by convention (see MarshalRi).
type RiLedgerEntry struct {
	Header  uint8
	Addr    uint64
	Size    uint64
	Key0    uint64
	Key1    uint64
	Request uint64
	Tag     int32
	Flags   uint16
	Footer  uint8
}

// MarshalRi packs e into the fixed 56-byte wire layout. Header is
// written last among the occupied bytes is a property of transport
// ordering, not of this function — the caller RDMA-WRITEs the whole
// span in one shot, and the field order here only fixes the byte
// offsets both peers agree on.
func MarshalRi(e RiLedgerEntry) []byte {
	buf := make([]byte, RiLedgerEntrySize)
	buf[0] = e.Header
	// bytes 1-7 are padding, left zero
	binary.LittleEndian.PutUint64(buf[8:16], e.Addr)
	binary.LittleEndian.PutUint64(buf[16:24], e.Size)
	binary.LittleEndian.PutUint64(buf[24:32], e.Key0)
	binary.LittleEndian.PutUint64(buf[32:40], e.Key1)
	binary.LittleEndian.PutUint64(buf[40:48], e.Request)
	binary.LittleEndian.PutUint32(buf[48:52], uint32(e.Tag))
	binary.LittleEndian.PutUint16(buf[52:54], e.Flags)
	// byte 54 is padding
	buf[55] = e.Footer
	return buf
}

// UnmarshalRi decodes a 56-byte wire span into a RiLedgerEntry.
func UnmarshalRi(data []byte) RiLedgerEntry {
	_ = data[RiLedgerEntrySize-1] // bounds check hint, panics on short reads
	return RiLedgerEntry{
		Header:  data[0],
		Addr:    binary.LittleEndian.Uint64(data[8:16]),
		Size:    binary.LittleEndian.Uint64(data[16:24]),
		Key0:    binary.LittleEndian.Uint64(data[24:32]),
		Key1:    binary.LittleEndian.Uint64(data[32:40]),
		Request: binary.LittleEndian.Uint64(data[40:48]),
		Tag:     int32(binary.LittleEndian.Uint32(data[48:52])),
		Flags:   binary.LittleEndian.Uint16(data[52:54]),
		Footer:  data[55],
	}
}

// Arrived reports whether a RI ledger slot is fully landed: both the
// header and footer guard bytes are non-zero.
func (e RiLedgerEntry) Arrived() bool {
	return e.Header != 0 && e.Footer != 0
}

// PlainLedgerEntry is the decoded form of a FIN / PWC-notify / eager
// marker ledger slot.
type PlainLedgerEntry struct {
	Request uint64
}

// MarshalPlain packs e into its 8-byte wire layout.
func MarshalPlain(e PlainLedgerEntry) []byte {
	buf := make([]byte, PlainLedgerEntrySize)
	binary.LittleEndian.PutUint64(buf, e.Request)
	return buf
}

// UnmarshalPlain decodes an 8-byte wire span into a PlainLedgerEntry.
func UnmarshalPlain(data []byte) PlainLedgerEntry {
	return PlainLedgerEntry{Request: binary.LittleEndian.Uint64(data[:PlainLedgerEntrySize])}
}

// FINEmptySentinel is the empty value of a FIN or EAGER plain ledger slot.
const FINEmptySentinel uint64 = 0

// PWCEmptySentinel is the empty value of a PWC plain ledger slot —
// 0 is a legitimate request id's low bits, so PWC uses all-ones instead.
const PWCEmptySentinel uint64 = ^uint64(0)

// PwcEagerHeader prefixes an eager-path PWC payload in the remote PWC
// eager buffer.
type PwcEagerHeader struct {
	Request uint64
	Addr    uint64
	Length  uint16
	Head    uint8
}

// MarshalPwcEagerHeader packs h into its 19-byte wire layout.
func MarshalPwcEagerHeader(h PwcEagerHeader) []byte {
	buf := make([]byte, PwcEagerHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Request)
	binary.LittleEndian.PutUint64(buf[8:16], h.Addr)
	binary.LittleEndian.PutUint16(buf[16:18], h.Length)
	buf[18] = h.Head
	return buf
}

// UnmarshalPwcEagerHeader decodes a 19-byte wire span into a PwcEagerHeader.
func UnmarshalPwcEagerHeader(data []byte) PwcEagerHeader {
	_ = data[PwcEagerHeaderSize-1]
	return PwcEagerHeader{
		Request: binary.LittleEndian.Uint64(data[0:8]),
		Addr:    binary.LittleEndian.Uint64(data[8:16]),
		Length:  binary.LittleEndian.Uint16(data[16:18]),
		Head:    data[18],
	}
}

// EagerHeaderSentinel marks an arrived eager message (header.Head and
// the trailing tail byte both take this value).
const EagerHeaderSentinel uint8 = 0xff
