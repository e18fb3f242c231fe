package shared

import (
	"testing"

	"github.com/ehrlich-b/photonrdma/internal/wire"
)

func TestLayoutOffsetsDoNotOverlap(t *testing.T) {
	l := NewLayout(4, 64, 1<<16)

	type span struct{ start, end uint64 }
	var spans []span
	for _, k := range ordered {
		start := l.RegionOffset(k)
		end := start + l.regSize[k]
		spans = append(spans, span{start, end})
	}

	for i := range spans {
		for j := range spans {
			if i == j {
				continue
			}
			a, b := spans[i], spans[j]
			if a.start < b.end && b.start < a.end {
				t.Fatalf("regions %d and %d overlap: [%d,%d) vs [%d,%d)", i, j, a.start, a.end, b.start, b.end)
			}
		}
	}
}

func TestLayoutPerPeerStride(t *testing.T) {
	l := NewLayout(8, 32, 4096)

	if got, want := l.Stride(LocalRecvInfo), uint64(32*wire.RiLedgerEntrySize); got != want {
		t.Errorf("expected RI stride %d, got %d", want, got)
	}
	if got, want := l.Stride(LocalFIN), uint64(32*wire.PlainLedgerEntrySize); got != want {
		t.Errorf("expected plain ledger stride %d, got %d", want, got)
	}
	if got, want := l.Stride(LocalEagerBuf), uint64(4096); got != want {
		t.Errorf("expected eager buf stride %d, got %d", want, got)
	}
}

func TestLayoutOffsetAcrossRanks(t *testing.T) {
	l := NewLayout(4, 16, 1024)
	base := l.RegionOffset(LocalFIN)
	stride := l.Stride(LocalFIN)

	for rank := 0; rank < 4; rank++ {
		want := base + uint64(rank)*stride
		if got := l.Offset(LocalFIN, rank); got != want {
			t.Errorf("rank %d: expected offset %d, got %d", rank, want, got)
		}
	}
}

func TestStorageRoundTrip(t *testing.T) {
	l := NewLayout(2, 8, 512)
	s, err := NewStorage(l)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	defer s.Close()

	slot := s.Slot(LocalFIN, 1)
	if uint64(len(slot)) != l.Stride(LocalFIN) {
		t.Fatalf("expected slot length %d, got %d", l.Stride(LocalFIN), len(slot))
	}

	copy(slot, []byte{1, 2, 3, 4})
	if s.mem[l.Offset(LocalFIN, 1)] != 1 {
		t.Error("expected write through Slot to reach backing storage")
	}
}

func TestLedgerEntrySlotWraps(t *testing.T) {
	l := NewLayout(1, 4, 256)
	s, err := NewStorage(l)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	defer s.Close()

	a := s.LedgerEntrySlot(LocalFIN, 0, wire.PlainLedgerEntrySize, 1)
	b := s.LedgerEntrySlot(LocalFIN, 0, wire.PlainLedgerEntrySize, 5) // wraps to index 1
	a[0] = 0xaa
	if b[0] != 0xaa {
		t.Error("expected index 5 to alias index 1 (mod 4 ledger entries)")
	}
}
