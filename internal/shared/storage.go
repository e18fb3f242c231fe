package shared

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Storage is the page-aligned, mmap-backed region described by a
// Layout. It is registered with the backend exactly once (spec §3); a
// Backend's RegisterFunc is handed Addr()/Len() to produce Priv/MrHandle.
type Storage struct {
	layout *Layout
	mem    []byte
}

// NewStorage anonymously mmaps a region large enough for layout,
// rounded up to the system page size. The mapping is PROT_READ|PROT_WRITE
// and MAP_SHARED so a real verbs/uGNI/libfabric backend registering it
// sees the same pages this process writes into.
func NewStorage(layout *Layout) (*Storage, error) {
	pageSize := os.Getpagesize()
	size := int(layout.TotalSize())
	if rem := size % pageSize; rem != 0 {
		size += pageSize - rem
	}
	if size == 0 {
		size = pageSize
	}

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("shared: mmap %d bytes: %w", size, err)
	}

	return &Storage{layout: layout, mem: mem}, nil
}

// Close unmaps the storage. It is an error to use Storage after Close.
func (s *Storage) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	return err
}

// Layout returns the offset table this storage was built from.
func (s *Storage) Layout() *Layout { return s.layout }

// Bytes returns the entire backing region, for backend registration.
func (s *Storage) Bytes() []byte { return s.mem }

// Slot returns the byte slice backing peer rank's region of kind k.
func (s *Storage) Slot(k Kind, rank int) []byte {
	stride := s.layout.Stride(k)
	start := s.layout.Offset(k, rank)
	return s.mem[start : start+stride]
}

// LedgerEntrySlot returns the byte slice for a single ledger entry
// within peer rank's region of kind k (a ri or plain ledger), at the
// given entry index modulo LedgerEntries.
func (s *Storage) LedgerEntrySlot(k Kind, rank int, entrySize uint64, index uint32) []byte {
	slot := s.Slot(k, rank)
	n := uint64(s.layout.LedgerEntries)
	off := (uint64(index) % n) * entrySize
	return slot[off : off+entrySize]
}
