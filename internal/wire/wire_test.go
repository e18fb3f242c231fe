package wire

import "testing"

func TestRiLedgerEntryRoundTrip(t *testing.T) {
	e := RiLedgerEntry{
		Header:  1,
		Addr:    0xdeadbeef,
		Size:    4096,
		Key0:    0x1111,
		Key1:    0x2222,
		Request: 0xabcdef,
		Tag:     13,
		Flags:   0x3,
		Footer:  1,
	}

	buf := MarshalRi(e)
	if len(buf) != RiLedgerEntrySize {
		t.Fatalf("expected %d bytes, got %d", RiLedgerEntrySize, len(buf))
	}

	got := UnmarshalRi(buf)
	if got != e {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
	if !got.Arrived() {
		t.Error("expected Arrived() true when header and footer set")
	}
}

func TestRiLedgerEntryNotArrived(t *testing.T) {
	e := RiLedgerEntry{Header: 0, Footer: 1}
	if e.Arrived() {
		t.Error("expected Arrived() false when header is zero")
	}
	e2 := RiLedgerEntry{Header: 1, Footer: 0}
	if e2.Arrived() {
		t.Error("expected Arrived() false when footer is zero")
	}
}

func TestPlainLedgerEntryRoundTrip(t *testing.T) {
	e := PlainLedgerEntry{Request: 0x12345678}
	buf := MarshalPlain(e)
	if len(buf) != PlainLedgerEntrySize {
		t.Fatalf("expected %d bytes, got %d", PlainLedgerEntrySize, len(buf))
	}
	if got := UnmarshalPlain(buf); got != e {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestPwcEagerHeaderRoundTrip(t *testing.T) {
	h := PwcEagerHeader{Request: 0xb, Addr: 0xc0ffee, Length: 128, Head: EagerHeaderSentinel}
	buf := MarshalPwcEagerHeader(h)
	if len(buf) != PwcEagerHeaderSize {
		t.Fatalf("expected %d bytes, got %d", PwcEagerHeaderSize, len(buf))
	}
	if got := UnmarshalPwcEagerHeader(buf); got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
}
