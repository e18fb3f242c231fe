package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"unsafe"

	"github.com/ehrlich-b/photonrdma/internal/registry"
	"github.com/ehrlich-b/photonrdma/internal/spinlock"
	"golang.org/x/sys/unix"
)

// TCPBackend is a loopback-socket Backend: RDMA PUT/GET are carried
// over plain TCP connections between ranks on the same host, one
// connection per peer pair. It exists for development and integration
// testing without a real verbs/uGNI/libfabric device, trading true
// one-sidedness for a wire protocol a real NIC would make unnecessary.
//
// PeerAddr.Addr is a per-rank virtual base for the peer's
// shared-storage region, mirroring the sim backend's address space so
// ledger code written against PeerAddr.Addr works unmodified against
// either backend; the peer's listen port travels in PeerAddr.Priv.Key1.
type TCPBackend struct {
	rank int
	cfg  Config

	ln       net.Listener
	base     uint64
	selfMem  []byte
	submit   spinlock.TATAS

	mu    sync.Mutex
	conns map[int]net.Conn

	evMu   sync.Mutex
	events []Event

	pendMu     sync.Mutex
	pending    map[uint64]chan []byte
	pendingPut map[uint64]chan error

	bufMu      sync.Mutex
	bufRegions []*tcpBufRegion

	initialized bool
}

// tcpBufRegion is an ad-hoc addressable region for a registered
// application buffer, keyed by the buffer's own real process address
// rather than the rank's Fabric-style base — mirrors sim.go's
// simRegion/bufRegions (registerBufferRegion/findRegion), valid here
// for the same reason: every rank in a TCPBackend test or demo lives
// in this one OS process, so a peer's real pointer is meaningful
// without any virtual-to-physical translation.
type tcpBufRegion struct {
	base uint64
	mem  []byte
}

const (
	opPut byte = iota
	opGet
	opGetReply
	opSend
	opPutAck
)

// NewTCPBackend constructs a backend that will listen on listenAddr
// (e.g. "127.0.0.1:0" to pick an ephemeral port) once Init is called.
func NewTCPBackend(listenAddr string) (*TCPBackend, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", listenAddr, err)
	}
	if tl, ok := ln.(*net.TCPListener); ok {
		if raw, err := tl.SyscallConn(); err == nil {
			_ = raw.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
		}
	}
	return &TCPBackend{
		ln:         ln,
		conns:      make(map[int]net.Conn),
		pending:    make(map[uint64]chan []byte),
		pendingPut: make(map[uint64]chan error),
	}, nil
}

// Addr returns the listener's bound address, for peers to dial.
func (b *TCPBackend) Addr() net.Addr { return b.ln.Addr() }

func (b *TCPBackend) Initialized() bool { return b.initialized }

func (b *TCPBackend) Init(ctx context.Context, cfg Config, rank int, storage []byte) (PeerAddr, error) {
	b.cfg = cfg
	b.rank = rank
	b.selfMem = storage
	b.base = 0x1_0000_0000 * (uint64(rank) + 1)

	port := uint16(b.ln.Addr().(*net.TCPAddr).Port)
	go b.acceptLoop()

	b.initialized = true
	// The listen port travels in Priv.Key1, not Addr: Addr must stay a
	// pure memory-region base so remote-offset arithmetic
	// (RemoteDescriptor.Addr + offset) never collides with it.
	return PeerAddr{Addr: b.base, Priv: registry.BufferPriv{Key1: uint64(port)}}, nil
}

func (b *TCPBackend) acceptLoop() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		go b.readLoop(conn)
	}
}

// ConnectPeers dials every other rank's listener. Lower rank dials
// higher rank to avoid duplicate connections for the same pair; both
// sides read from whichever connection exists.
func (b *TCPBackend) ConnectPeers(peers []PeerAddr) error {
	if !b.initialized {
		return fmt.Errorf("transport: ConnectPeers before Init")
	}
	for peer, pa := range peers {
		if peer <= b.rank {
			continue
		}
		port := uint16(pa.Priv.Key1)
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			return fmt.Errorf("transport: dial peer %d: %w", peer, err)
		}
		b.mu.Lock()
		b.conns[peer] = conn
		b.mu.Unlock()
		go b.readLoop(conn)
	}
	return nil
}

func (b *TCPBackend) connFor(peer int) (net.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.conns[peer]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("transport: no connection to peer %d (ConnectPeers not yet settled)", peer)
}

// frame: op(1) cookie(8) addr(8) len(4) payload(len)
func writeFrame(conn net.Conn, op byte, cookie, addr uint64, payload []byte) error {
	hdr := make([]byte, 1+8+8+4)
	hdr[0] = op
	binary.LittleEndian.PutUint64(hdr[1:9], cookie)
	binary.LittleEndian.PutUint64(hdr[9:17], addr)
	binary.LittleEndian.PutUint32(hdr[17:21], uint32(len(payload)))
	if _, err := conn.Write(hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err := conn.Write(payload)
		return err
	}
	return nil
}

// ackPayload encodes a PUT resolution outcome for the opPutAck frame:
// empty means success, otherwise the error text.
func ackPayload(err error) []byte {
	if err == nil {
		return nil
	}
	return []byte(err.Error())
}

// resolveTarget maps a full remote address to this rank's shared
// storage slab or one of its registered application buffer regions,
// mirroring the sim backend's primary-then-bufRegions lookup
// (internal/transport/sim.go's findRegion). Unlike the sim backend's
// single cross-rank Fabric dictionary, TCPBackend only ever resolves
// addresses against its own rank's memory, since readLoop runs on the
// side that owns the target: each rank answers for its own address
// space instead of one process answering for every rank's.
func (b *TCPBackend) resolveTarget(addr uint64, length int) ([]byte, int, error) {
	if addr >= b.base && addr < b.base+uint64(len(b.selfMem)) {
		off := int(addr - b.base)
		if off+length > len(b.selfMem) {
			return nil, 0, fmt.Errorf("transport: access of %d bytes at offset %d overruns storage region (len %d)", length, off, len(b.selfMem))
		}
		return b.selfMem, off, nil
	}

	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	for _, r := range b.bufRegions {
		if addr >= r.base && addr < r.base+uint64(len(r.mem)) {
			off := int(addr - r.base)
			if off+length > len(r.mem) {
				return nil, 0, fmt.Errorf("transport: access of %d bytes at offset %d overruns registered buffer %#x (len %d)", length, off, r.base, len(r.mem))
			}
			return r.mem, off, nil
		}
	}
	return nil, 0, fmt.Errorf("transport: address %#x not registered locally", addr)
}

func (b *TCPBackend) readLoop(conn net.Conn) {
	hdr := make([]byte, 1+8+8+4)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		op := hdr[0]
		cookie := binary.LittleEndian.Uint64(hdr[1:9])
		addr := binary.LittleEndian.Uint64(hdr[9:17])
		length := binary.LittleEndian.Uint32(hdr[17:21])

		// An opGet frame's length is the size to read back, not a
		// payload that follows the header.
		payload := make([]byte, length)
		if length > 0 && op != opGet {
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
		}

		switch op {
		case opPut:
			mem, off, rerr := b.resolveTarget(addr, len(payload))
			if rerr == nil {
				b.submit.Acquire()
				copy(mem[off:], payload)
				b.submit.Release()
			}
			_ = writeFrame(conn, opPutAck, cookie, 0, ackPayload(rerr))
		case opGet:
			mem, off, rerr := b.resolveTarget(addr, int(length))
			var reply []byte
			if rerr != nil {
				reply = append([]byte{1}, []byte(rerr.Error())...)
			} else {
				b.submit.Acquire()
				data := append([]byte(nil), mem[off:off+int(length)]...)
				b.submit.Release()
				reply = append([]byte{0}, data...)
			}
			_ = writeFrame(conn, opGetReply, cookie, 0, reply)
		case opGetReply:
			b.pendMu.Lock()
			ch, ok := b.pending[cookie]
			delete(b.pending, cookie)
			b.pendMu.Unlock()
			if ok {
				ch <- payload
			}
		case opPutAck:
			b.pendMu.Lock()
			ch, ok := b.pendingPut[cookie]
			delete(b.pendingPut, cookie)
			b.pendMu.Unlock()
			if ok {
				if len(payload) > 0 {
					ch <- fmt.Errorf("transport: remote put failed: %s", payload)
				} else {
					ch <- nil
				}
			}
		case opSend:
			b.evMu.Lock()
			b.events = append(b.events, Event{Cookie: simCookRecv})
			b.evMu.Unlock()
		}
	}
}

func (b *TCPBackend) Finalize() error {
	b.mu.Lock()
	for _, c := range b.conns {
		_ = c.Close()
	}
	b.mu.Unlock()
	b.initialized = false
	return b.ln.Close()
}

// RegisterBuffer registers an application buffer (not this rank's
// shared-storage slab) for direct RDMA addressing, the same way
// sim.go's SimBackend.RegisterBuffer does: the buffer's own real
// process address becomes its remote address, since every rank a
// TCPBackend talks to lives in this one OS process. Without this, a
// PUT/GET targeting a registered buffer had no region to resolve
// against and readLoop silently dropped it while still reporting
// local completion.
func (b *TCPBackend) RegisterBuffer(buf *registry.Buffer, flags uint32) error {
	mem := unsafe.Slice((*byte)(unsafe.Pointer(buf.Addr)), int(buf.Size))
	base := uint64(buf.Addr)
	b.bufMu.Lock()
	b.bufRegions = append(b.bufRegions, &tcpBufRegion{base: base, mem: mem})
	b.bufMu.Unlock()
	buf.Priv = registry.BufferPriv{Key0: base, Key1: buf.Size}
	buf.MrHandle = "tcprdma"
	return nil
}

func (b *TCPBackend) UnregisterBuffer(buf *registry.Buffer) error {
	base := uint64(buf.Addr)
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	for i, r := range b.bufRegions {
		if r.base == base {
			b.bufRegions = append(b.bufRegions[:i], b.bufRegions[i+1:]...)
			break
		}
	}
	return nil
}

// RdmaPut writes local into the peer's shared-storage slab or one of
// its registered buffer regions, identified by the full remote
// address resolved on the receiving side (resolveTarget), and waits
// for that side's opPutAck before reporting completion — a real RDMA
// WRITE completes locally without a remote round trip, but this
// loopback transport has no other way to learn that the peer's
// bounds check failed, so it trades the one-sided illusion for a
// result it can actually stand behind.
func (b *TCPBackend) RdmaPut(peer int, local []byte, localPriv registry.BufferPriv, remoteAddr uint64, remotePriv registry.BufferPriv, cookie uint64, imm uint64, flags uint32) error {
	conn, err := b.connFor(peer)
	if err != nil {
		return err
	}

	ch := make(chan error, 1)
	b.pendMu.Lock()
	b.pendingPut[cookie] = ch
	b.pendMu.Unlock()

	if err := writeFrame(conn, opPut, cookie, remoteAddr, local); err != nil {
		b.pendMu.Lock()
		delete(b.pendingPut, cookie)
		b.pendMu.Unlock()
		return fmt.Errorf("transport: put to peer %d: %w", peer, err)
	}

	if err := <-ch; err != nil {
		return fmt.Errorf("transport: put to peer %d: %w", peer, err)
	}

	b.evMu.Lock()
	b.events = append(b.events, Event{Cookie: cookie, Imm: imm})
	b.evMu.Unlock()
	return nil
}

func (b *TCPBackend) RdmaGet(peer int, local []byte, localPriv registry.BufferPriv, remoteAddr uint64, remotePriv registry.BufferPriv, cookie uint64, flags uint32) error {
	conn, err := b.connFor(peer)
	if err != nil {
		return err
	}

	ch := make(chan []byte, 1)
	b.pendMu.Lock()
	b.pending[cookie] = ch
	b.pendMu.Unlock()

	// A GET frame's length field carries the requested read size
	// rather than a payload length, unlike every other frame kind, so
	// it is written directly instead of through writeFrame.
	return b.doGet(conn, cookie, remoteAddr, local, ch)
}

func (b *TCPBackend) doGet(conn net.Conn, cookie, remoteAddr uint64, local []byte, ch chan []byte) error {
	hdr := make([]byte, 1+8+8+4)
	hdr[0] = opGet
	binary.LittleEndian.PutUint64(hdr[1:9], cookie)
	binary.LittleEndian.PutUint64(hdr[9:17], remoteAddr)
	binary.LittleEndian.PutUint32(hdr[17:21], uint32(len(local)))
	if _, err := conn.Write(hdr); err != nil {
		return err
	}

	// The reply's first byte is a status flag set by the opGet handler
	// in readLoop: 0 plus the data on a resolved address, 1 plus an
	// error message when resolveTarget couldn't place remoteAddr.
	payload := <-ch
	if len(payload) == 0 || payload[0] != 0 {
		msg := "unknown error"
		if len(payload) > 1 {
			msg = string(payload[1:])
		}
		return fmt.Errorf("transport: get from remote: %s", msg)
	}
	copy(local, payload[1:])

	b.evMu.Lock()
	b.events = append(b.events, Event{Cookie: cookie})
	b.evMu.Unlock()
	return nil
}

func (b *TCPBackend) RdmaSend(peer int, local []byte, localPriv registry.BufferPriv, cookie uint64, imm uint64, flags uint32) error {
	conn, err := b.connFor(peer)
	if err != nil {
		return err
	}
	if err := writeFrame(conn, opSend, cookie, 0, local); err != nil {
		return err
	}
	b.evMu.Lock()
	b.events = append(b.events, Event{Cookie: cookie})
	b.evMu.Unlock()
	return nil
}

func (b *TCPBackend) RdmaRecv(peer int, local []byte, localPriv registry.BufferPriv, cookie uint64, flags uint32) error {
	b.evMu.Lock()
	b.events = append(b.events, Event{Cookie: cookie})
	b.evMu.Unlock()
	return nil
}

func (b *TCPBackend) GetEvent(peer int, max int) ([]Event, EventStatus, error) {
	b.evMu.Lock()
	defer b.evMu.Unlock()
	if len(b.events) == 0 {
		return nil, EventNone, nil
	}
	if max <= 0 || max > len(b.events) {
		max = len(b.events)
	}
	out := b.events[:max]
	b.events = b.events[max:]
	return out, EventOK, nil
}

func (b *TCPBackend) GetREvent(peer int, max int) ([]Event, EventStatus, error) {
	return nil, EventNotImpl, nil
}

func (b *TCPBackend) TxSizeLeft(peer int) int32 { return 1 << 20 }
func (b *TCPBackend) RxSizeLeft(peer int) int32 { return 1 << 20 }

func (b *TCPBackend) GetInfo(peer int, kind InfoKind) ([]byte, error) {
	switch kind {
	case InfoMTU:
		return []byte{0, 0, 0x10, 0}, nil
	case InfoAlignment:
		return []byte{8}, nil
	default:
		return nil, fmt.Errorf("transport: unknown info kind %d", kind)
	}
}

var _ Backend = (*TCPBackend)(nil)
