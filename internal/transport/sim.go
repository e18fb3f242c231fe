package transport

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/ehrlich-b/photonrdma/internal/registry"
	"github.com/ehrlich-b/photonrdma/internal/spinlock"
)

// simShardSize mirrors the teacher's Memory backend's 64KB sharded
// locking (backend/mem.go): each rank's shared-storage region is
// covered by one RWMutex per shard so concurrent RDMA PUT/GETs into
// disjoint ledgers from different goroutines don't serialize on a
// single whole-region lock.
const simShardSize = 64 * 1024

// Fabric is the in-process hub every sim.Backend instance in a test
// or demo attaches to: it plays the role of the physical network,
// holding every rank's registered shared-storage bytes directly
// reachable (since all ranks live in the same process) and a
// per-rank completion queue standing in for each rank's CQ.
type Fabric struct {
	mu         sync.Mutex
	regions    map[int]*simRegion
	bufRegions map[int][]*simRegion
	nextBase   uint64
}

type simRegion struct {
	base   uint64
	mem    []byte
	shards []sync.RWMutex

	evMu   sync.Mutex
	events []Event
	revMu  sync.Mutex
	revs   []Event
}

func newSimRegion(base uint64, mem []byte) *simRegion {
	n := (len(mem) + simShardSize - 1) / simShardSize
	if n == 0 {
		n = 1
	}
	return &simRegion{base: base, mem: mem, shards: make([]sync.RWMutex, n)}
}

func (r *simRegion) shardRange(off, length int) (start, end int) {
	start = off / simShardSize
	end = (off + length - 1) / simShardSize
	if end >= len(r.shards) {
		end = len(r.shards) - 1
	}
	if end < start {
		end = start
	}
	return
}

func (r *simRegion) writeAt(off int, p []byte) {
	start, end := r.shardRange(off, len(p))
	for i := start; i <= end; i++ {
		r.shards[i].Lock()
	}
	copy(r.mem[off:off+len(p)], p)
	for i := start; i <= end; i++ {
		r.shards[i].Unlock()
	}
}

func (r *simRegion) readAt(off int, p []byte) {
	start, end := r.shardRange(off, len(p))
	for i := start; i <= end; i++ {
		r.shards[i].RLock()
	}
	copy(p, r.mem[off:off+len(p)])
	for i := start; i <= end; i++ {
		r.shards[i].RUnlock()
	}
}

// NewFabric creates an empty in-process fabric. Every Backend sharing
// a Fabric must be constructed before any of them calls Init.
func NewFabric() *Fabric {
	return &Fabric{regions: make(map[int]*simRegion), bufRegions: make(map[int][]*simRegion), nextBase: 0x1_0000_0000}
}

func (f *Fabric) register(rank int, mem []byte) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := f.nextBase
	f.nextBase += uint64(len(mem)) + (1 << 32) // generous gap, avoids any overlap
	f.regions[rank] = newSimRegion(base, mem)
	return base
}

func (f *Fabric) region(rank int) (*simRegion, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.regions[rank]
	return r, ok
}

// registerBufferRegion adds an ad-hoc addressable region for rank,
// keyed by its own real process address rather than a Fabric-assigned
// base — every rank's memory already lives in this one OS process, so
// there is no virtual-to-physical translation to simulate for a
// buffer outside the ledger storage slab.
func (f *Fabric) registerBufferRegion(rank int, base uint64, mem []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bufRegions[rank] = append(f.bufRegions[rank], newSimRegion(base, mem))
}

func (f *Fabric) unregisterBufferRegion(rank int, base uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	regs := f.bufRegions[rank]
	for i, r := range regs {
		if r.base == base {
			f.bufRegions[rank] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// findRegion resolves addr against rank's primary (ledger storage)
// region first, then its ad-hoc registered buffer regions.
func (f *Fabric) findRegion(rank int, addr uint64) (*simRegion, bool) {
	f.mu.Lock()
	primary := f.regions[rank]
	bufs := f.bufRegions[rank]
	f.mu.Unlock()

	if primary != nil && addr >= primary.base && addr < primary.base+uint64(len(primary.mem)) {
		return primary, true
	}
	for _, r := range bufs {
		if addr >= r.base && addr < r.base+uint64(len(r.mem)) {
			return r, true
		}
	}
	return nil, false
}

// SimBackend is the in-process Backend implementation: RDMA PUT/GET
// are direct memcpys into the target rank's registered region,
// guarded by the same sharded-lock discipline the teacher's memory
// backend uses for concurrent block I/O.
type SimBackend struct {
	fabric *Fabric
	rank   int
	submit spinlock.TATAS

	initialized bool
	cfg         Config
	self        *simRegion
}

// NewSimBackend constructs a Backend attached to fabric.
func NewSimBackend(fabric *Fabric) *SimBackend {
	return &SimBackend{fabric: fabric}
}

func (b *SimBackend) Initialized() bool { return b.initialized }

func (b *SimBackend) Init(ctx context.Context, cfg Config, rank int, storage []byte) (PeerAddr, error) {
	b.cfg = cfg
	b.rank = rank
	base := b.fabric.register(rank, storage)
	b.self, _ = b.fabric.region(rank)
	b.initialized = true
	return PeerAddr{Addr: base}, nil
}

func (b *SimBackend) ConnectPeers(peers []PeerAddr) error {
	if !b.initialized {
		return fmt.Errorf("transport: ConnectPeers before Init")
	}
	return nil
}

func (b *SimBackend) Finalize() error {
	b.initialized = false
	return nil
}

func (b *SimBackend) RegisterBuffer(buf *registry.Buffer, flags uint32) error {
	mem := unsafe.Slice((*byte)(unsafe.Pointer(buf.Addr)), int(buf.Size))
	base := uint64(buf.Addr)
	b.fabric.registerBufferRegion(b.rank, base, mem)
	buf.Priv = registry.BufferPriv{Key0: base, Key1: buf.Size}
	buf.MrHandle = "sim"
	return nil
}

func (b *SimBackend) UnregisterBuffer(buf *registry.Buffer) error {
	b.fabric.unregisterBufferRegion(b.rank, uint64(buf.Addr))
	return nil
}

func (b *SimBackend) withSubmitLock(fn func()) {
	if b.cfg.ThreadSafeBackend {
		fn()
		return
	}
	b.submit.Acquire()
	defer b.submit.Release()
	fn()
}

// resolve maps a peer-relative virtual address (PeerAddr.Addr +
// offset, as computed by internal/shared's Layout arithmetic) back to
// an in-process byte offset within that peer's region.
func resolve(r *simRegion, addr uint64) (int, error) {
	if addr < r.base || addr >= r.base+uint64(len(r.mem)) {
		return 0, fmt.Errorf("transport: address %#x out of range for region base %#x len %d", addr, r.base, len(r.mem))
	}
	return int(addr - r.base), nil
}

func (b *SimBackend) RdmaPut(peer int, local []byte, localPriv registry.BufferPriv, remoteAddr uint64, remotePriv registry.BufferPriv, cookie uint64, imm uint64, flags uint32) error {
	if _, ok := b.fabric.region(peer); !ok {
		return fmt.Errorf("transport: unknown peer %d", peer)
	}
	r, ok := b.fabric.findRegion(peer, remoteAddr)
	if !ok {
		return fmt.Errorf("transport: address %#x not registered for peer %d", remoteAddr, peer)
	}
	off, err := resolve(r, remoteAddr)
	if err != nil {
		return err
	}

	var putErr error
	b.withSubmitLock(func() {
		if off+len(local) > len(r.mem) {
			putErr = fmt.Errorf("transport: put of %d bytes at offset %d overruns peer %d region (len %d)", len(local), off, peer, len(r.mem))
			return
		}
		r.writeAt(off, local)
	})
	if putErr != nil {
		return putErr
	}

	// A real RDMA WRITE completes locally once posted; the local
	// completion is what wait_any/probe_completion ultimately consume.
	b.self.evMu.Lock()
	b.self.events = append(b.self.events, Event{Cookie: cookie, Imm: imm})
	b.self.evMu.Unlock()
	return nil
}

func (b *SimBackend) RdmaGet(peer int, local []byte, localPriv registry.BufferPriv, remoteAddr uint64, remotePriv registry.BufferPriv, cookie uint64, flags uint32) error {
	if _, ok := b.fabric.region(peer); !ok {
		return fmt.Errorf("transport: unknown peer %d", peer)
	}
	r, ok := b.fabric.findRegion(peer, remoteAddr)
	if !ok {
		return fmt.Errorf("transport: address %#x not registered for peer %d", remoteAddr, peer)
	}
	off, err := resolve(r, remoteAddr)
	if err != nil {
		return err
	}

	var getErr error
	b.withSubmitLock(func() {
		if off+len(local) > len(r.mem) {
			getErr = fmt.Errorf("transport: get of %d bytes at offset %d overruns peer %d region (len %d)", len(local), off, peer, len(r.mem))
			return
		}
		r.readAt(off, local)
	})
	if getErr != nil {
		return getErr
	}

	b.self.evMu.Lock()
	b.self.events = append(b.self.events, Event{Cookie: cookie})
	b.self.evMu.Unlock()
	return nil
}

// simCookRecv is the sim transport's private RECV-prefixed cookie tag
// for UD send/recv completions, distinguishing them from application
// cookies the same way original_source's REQUEST_COOK_RECV does.
const simCookRecv uint64 = 0xff01_0000_0000_0000

func (b *SimBackend) RdmaSend(peer int, local []byte, localPriv registry.BufferPriv, cookie uint64, imm uint64, flags uint32) error {
	r, ok := b.fabric.region(peer)
	if !ok {
		return fmt.Errorf("transport: unknown peer %d", peer)
	}
	payload := append([]byte(nil), local...)
	r.revMu.Lock()
	r.revs = append(r.revs, Event{Cookie: simCookRecv, Imm: imm, Err: recvPayloadErr(payload)})
	r.revMu.Unlock()

	b.self.evMu.Lock()
	b.self.events = append(b.self.events, Event{Cookie: cookie})
	b.self.evMu.Unlock()
	return nil
}

// recvPayloadErr is not a real error; UD recv payload delivery in this
// in-process simulation doesn't need an out-of-band channel since a
// real implementation would need a receive-buffer pool this module's
// sim backend doesn't model (two-sided UD send/recv is an optional
// path per spec §6, unused by the PWC/ledger hot path this module
// exercises end to end).
func recvPayloadErr(_ []byte) error { return nil }

func (b *SimBackend) RdmaRecv(peer int, local []byte, localPriv registry.BufferPriv, cookie uint64, flags uint32) error {
	b.self.evMu.Lock()
	b.self.events = append(b.self.events, Event{Cookie: cookie})
	b.self.evMu.Unlock()
	return nil
}

func (b *SimBackend) GetEvent(peer int, max int) ([]Event, EventStatus, error) {
	b.self.evMu.Lock()
	defer b.self.evMu.Unlock()
	if len(b.self.events) == 0 {
		return nil, EventNone, nil
	}
	if max <= 0 || max > len(b.self.events) {
		max = len(b.self.events)
	}
	out := b.self.events[:max]
	b.self.events = b.self.events[max:]
	return out, EventOK, nil
}

func (b *SimBackend) GetREvent(peer int, max int) ([]Event, EventStatus, error) {
	b.self.revMu.Lock()
	defer b.self.revMu.Unlock()
	if len(b.self.revs) == 0 {
		return nil, EventNone, nil
	}
	if max <= 0 || max > len(b.self.revs) {
		max = len(b.self.revs)
	}
	out := b.self.revs[:max]
	b.self.revs = b.self.revs[max:]
	return out, EventOK, nil
}

func (b *SimBackend) TxSizeLeft(peer int) int32 { return 1 << 20 }
func (b *SimBackend) RxSizeLeft(peer int) int32 { return 1 << 20 }

func (b *SimBackend) GetInfo(peer int, kind InfoKind) ([]byte, error) {
	switch kind {
	case InfoMTU:
		return []byte{0, 0, 0x10, 0}, nil // 4096, little-endian uint32
	case InfoAlignment:
		return []byte{8}, nil
	default:
		return nil, fmt.Errorf("transport: unknown info kind %d", kind)
	}
}

var _ Backend = (*SimBackend)(nil)
