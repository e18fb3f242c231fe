// Package transport defines the narrow fabric-facing interface the
// core never sees below (spec §6): one Backend implementation per
// fabric, plus the in-process `sim` and loopback-socket `tcprdma`
// implementations used when no verbs/uGNI/libfabric device is present.
package transport

import (
	"context"

	"github.com/ehrlich-b/photonrdma/internal/registry"
)

// EventStatus is the result of a GetEvent/GetREvent poll.
type EventStatus int

const (
	EventOK EventStatus = iota
	EventNone
	EventError
	EventNotImpl
)

func (s EventStatus) String() string {
	switch s {
	case EventOK:
		return "OK"
	case EventNone:
		return "NONE"
	case EventError:
		return "ERROR"
	default:
		return "NOT_IMPL"
	}
}

// Event is one raw completion pulled off the backend: a cookie (an
// application Rid or a reserved high-prefix cookie) and, for
// GetREvent, an optional immediate-data word carried by the wire
// operation.
type Event struct {
	Cookie uint64
	Imm    uint64
	Err    error
}

// InfoKind selects the kind of fabric property GetInfo queries.
type InfoKind int

const (
	InfoMTU InfoKind = iota
	InfoAlignment
)

// PeerAddr is what a rank's Init publishes about its own shared
// storage registration, to be allgathered by the exchange layer and
// turned into every ledger's RemoteDescriptor (spec §4.D).
type PeerAddr struct {
	Addr uint64
	Priv registry.BufferPriv
}

// Backend is the fabric trait (spec §6). The core (ledgers, request
// table, PWC engine, event loop) is written entirely in terms of this
// interface and never references verbs/uGNI/libfabric types directly.
type Backend interface {
	// Initialized reports whether Init has completed successfully.
	Initialized() bool

	// Init registers storage as this rank's shared-storage region and
	// returns the PeerAddr other ranks need to target it with RDMA.
	Init(ctx context.Context, cfg Config, rank int, storage []byte) (PeerAddr, error)

	// ConnectPeers supplies every rank's PeerAddr (this rank's own
	// included, at index rank) once the bootstrap allgather completes.
	ConnectPeers(peers []PeerAddr) error

	// Finalize tears down backend state in strict reverse order of
	// construction (spec §7).
	Finalize() error

	RegisterBuffer(buf *registry.Buffer, flags uint32) error
	UnregisterBuffer(buf *registry.Buffer) error

	// RdmaPut writes local into peer's memory at (remoteAddr,
	// remotePriv). cookie is the completion tag; imm is optional
	// immediate data (UD sends only use it meaningfully).
	RdmaPut(peer int, local []byte, localPriv registry.BufferPriv, remoteAddr uint64, remotePriv registry.BufferPriv, cookie uint64, imm uint64, flags uint32) error

	// RdmaGet reads from peer's memory at (remoteAddr, remotePriv)
	// into local.
	RdmaGet(peer int, local []byte, localPriv registry.BufferPriv, remoteAddr uint64, remotePriv registry.BufferPriv, cookie uint64, flags uint32) error

	// RdmaSend/RdmaRecv are the two-sided, UD-only primitives used
	// only where no remote memory descriptor is yet known (spec §6).
	RdmaSend(peer int, local []byte, localPriv registry.BufferPriv, cookie uint64, imm uint64, flags uint32) error
	RdmaRecv(peer int, local []byte, localPriv registry.BufferPriv, cookie uint64, flags uint32) error

	// GetEvent drains up to max completions this rank has observed
	// from peer (or any peer, if the backend doesn't distinguish).
	GetEvent(peer int, max int) ([]Event, EventStatus, error)
	// GetREvent is the optional remote-CQ variant carrying immediate data.
	GetREvent(peer int, max int) ([]Event, EventStatus, error)

	TxSizeLeft(peer int) int32
	RxSizeLeft(peer int) int32

	GetInfo(peer int, kind InfoKind) ([]byte, error)
}
