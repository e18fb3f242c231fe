// Package photon is the public entry point for the one-sided,
// zero-copy, completion-notified RDMA message-passing core (spec §6
// "Public API surface"). A Runtime owns one rank's shared storage,
// transport, buffer registry, and per-peer Process set, and exposes
// post_recv_buffer/post_send_buffer/post_os_put/post_os_get/send_FIN,
// put_with_completion/get_with_completion/probe_completion, and
// wait_any/wait_any_ledger as methods.
package photon

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/ehrlich-b/photonrdma/internal/eventloop"
	"github.com/ehrlich-b/photonrdma/internal/exchange"
	"github.com/ehrlich-b/photonrdma/internal/handshake"
	"github.com/ehrlich-b/photonrdma/internal/ledger"
	"github.com/ehrlich-b/photonrdma/internal/logging"
	"github.com/ehrlich-b/photonrdma/internal/pwc"
	"github.com/ehrlich-b/photonrdma/internal/registry"
	"github.com/ehrlich-b/photonrdma/internal/shared"
	"github.com/ehrlich-b/photonrdma/internal/transport"
)

// Runtime is one rank's live handle onto the RDMA message-passing
// core. The zero value is not usable; construct with New.
type Runtime struct {
	cfg    Config
	rank   int
	nproc  int
	logger *logging.Logger
	zap    *zap.Logger

	// sessionID is a short, time-sortable id for correlating this
	// Runtime's log lines within a single process lifetime.
	// instanceID is a globally unique id for this Runtime across
	// processes and hosts, suitable as a constant label on exported
	// metrics when more than one Runtime feeds the same registry.
	sessionID  xid.ID
	instanceID uuid.UUID

	backend transport.Backend
	reg     *registry.Registry
	storage *shared.Storage
	layout  *shared.Layout

	procs []*handshake.Process // indexed by peer rank; procs[rank] is nil
	pwcs  []*pwc.Engine        // parallel to procs
	loop  *eventloop.Loop

	metrics  *Metrics
	observer Observer
}

// localAttacher and remoteSetter are the two halves every ledger/eager
// ring type in internal/ledger implements, letting Runtime wire any of
// them uniformly without a type switch per Kind.
type localAttacher interface{ AttachLocal([]byte) }
type remoteSetter interface{ SetRemote(ledger.RemoteDescriptor) }

// New brings up a Runtime: it mmaps shared storage, registers it with
// backend, runs the bootstrap allgather/barrier over cfg.Transport's
// exchange mechanism, and wires every peer's Process from the
// resulting peer addresses (spec §4.D, §9 "Globals").
func New(ctx context.Context, cfg Config, backend transport.Backend) (*Runtime, error) {
	if cfg.Transport.NProc <= 0 {
		return nil, NewError("runtime.New", CodeInvalid, "NProc must be positive")
	}
	if cfg.Transport.Rank < 0 || cfg.Transport.Rank >= cfg.Transport.NProc {
		return nil, NewError("runtime.New", CodeInvalid, "Rank out of range")
	}

	r := &Runtime{
		cfg:    cfg,
		rank:   cfg.Transport.Rank,
		nproc:  cfg.Transport.NProc,
		logger: cfg.logger(),
		zap:    cfg.zapLogger(),

		sessionID:  xid.New(),
		instanceID: uuid.New(),

		backend: backend,
		reg:     registry.New(),
		metrics: NewMetrics(),
	}
	if cfg.Observer != nil {
		r.observer = cfg.Observer
	} else {
		r.observer = NewMetricsObserver(r.metrics)
	}

	r.layout = shared.NewLayout(r.nproc, int(cfg.Transport.Cap.LedgerEntries), uint64(cfg.Transport.Cap.EagerBufSize))

	storage, err := shared.NewStorage(r.layout)
	if err != nil {
		return nil, NewPeerError("runtime.New", r.rank, CodeResource, fmt.Sprintf("shared storage: %v", err))
	}
	r.storage = storage

	if err := r.reg.Init(backend.RegisterBuffer, backend.UnregisterBuffer); err != nil {
		storage.Close()
		return nil, NewPeerError("runtime.New", r.rank, CodeResource, fmt.Sprintf("registry init: %v", err))
	}

	self, err := backend.Init(ctx, cfg.Transport, r.rank, storage.Bytes())
	if err != nil {
		storage.Close()
		return nil, NewPeerError("runtime.New", r.rank, CodeTransport, fmt.Sprintf("backend init: %v", err))
	}

	peers, err := exchange.Bootstrap(ctx, r.zap, cfg.Transport.External, self)
	if err != nil {
		storage.Close()
		return nil, NewPeerError("runtime.New", r.rank, CodeTransport, fmt.Sprintf("bootstrap: %v", err))
	}
	if len(peers) != r.nproc {
		storage.Close()
		return nil, NewPeerError("runtime.New", r.rank, CodeInvalid, fmt.Sprintf("bootstrap returned %d peers, want %d", len(peers), r.nproc))
	}

	if err := backend.ConnectPeers(peers); err != nil {
		storage.Close()
		return nil, NewPeerError("runtime.New", r.rank, CodeTransport, fmt.Sprintf("connect peers: %v", err))
	}

	descs, err := exchange.BuildRemoteDescriptors(ctx, peers, r.layout, r.rank)
	if err != nil {
		storage.Close()
		return nil, NewPeerError("runtime.New", r.rank, CodeResource, fmt.Sprintf("build descriptors: %v", err))
	}

	r.procs = make([]*handshake.Process, r.nproc)
	r.pwcs = make([]*pwc.Engine, r.nproc)
	for i := 0; i < r.nproc; i++ {
		if i == r.rank {
			continue
		}
		proc := handshake.NewProcess(i, backend, r.reg, cfg.Transport.Cap.LedgerEntries, uint64(cfg.Transport.Cap.EagerBufSize), cfg.Transport.Cap.SmallMsgSize, cfg.ReqQueueCapacity)
		attachProcess(proc, r.storage, r.layout, i, descs[i])
		r.procs[i] = proc
		r.pwcs[i] = pwc.New(proc, cfg.Transport.Cap.SmallPwcSize)
	}
	r.loop = eventloop.New(r.procs)

	r.logger.Info("runtime initialized", "rank", r.rank, "nproc", r.nproc, "session", r.sessionID.String(), "instance", r.instanceID.String())
	return r, nil
}

// attachProcess wires all seven local/remote ledger-and-eager-buffer
// pairs a Process owns for peer peerRank, per spec §4.D's addressing
// rule: the local half mirrors what peerRank writes into this rank's
// own storage; the remote half targets peerRank's mirror of what this
// rank writes.
func attachProcess(proc *handshake.Process, storage *shared.Storage, layout *shared.Layout, peerRank int, pd exchange.PeerDescriptors) {
	type concern struct {
		kind   shared.Kind
		role   exchange.Role
		local  localAttacher
		remote remoteSetter
	}
	concerns := []concern{
		{shared.LocalRecvInfo, exchange.RoleRecvInfo, proc.RecvInfoLocal, proc.RecvInfoRemote},
		{shared.LocalSendInfo, exchange.RoleSendInfo, proc.SendInfoLocal, proc.SendInfoRemote},
		{shared.LocalFIN, exchange.RoleFIN, proc.FINLocal, proc.FINRemote},
		{shared.LocalPWC, exchange.RolePWC, proc.PWCLocal, proc.PWCRemote},
		{shared.LocalEager, exchange.RoleEager, proc.EagerLocal, proc.EagerRemote},
		{shared.LocalEagerBuf, exchange.RoleEagerBuf, proc.EagerBufLocal, proc.EagerBufRemote},
		{shared.LocalPWCBuf, exchange.RolePWCBuf, proc.PWCBufLocal, proc.PWCBufRemote},
	}
	for _, c := range concerns {
		c.local.AttachLocal(storage.Slot(c.kind, peerRank))
		c.remote.SetRemote(pd[c.role])
	}
}

// Rank returns this Runtime's own rank.
func (r *Runtime) Rank() int { return r.rank }

// NProc returns the process-group size this Runtime was configured with.
func (r *Runtime) NProc() int { return r.nproc }

// SessionID returns the short, time-sortable id generated for this
// Runtime's lifetime, for correlating its log lines.
func (r *Runtime) SessionID() string { return r.sessionID.String() }

// InstanceID returns this Runtime's globally unique id, stable for its
// lifetime and suitable as a metrics label distinguishing it from
// other Runtimes exporting to the same Prometheus registry.
func (r *Runtime) InstanceID() string { return r.instanceID.String() }

// Metrics returns the built-in atomic-counter metrics, regardless of
// which Observer Config supplied.
func (r *Runtime) Metrics() *Metrics { return r.metrics }

func (r *Runtime) proc(peer int) (*handshake.Process, error) {
	if peer < 0 || peer >= len(r.procs) || r.procs[peer] == nil {
		return nil, NewPeerError("runtime", peer, CodeInvalid, "unknown or self peer")
	}
	return r.procs[peer], nil
}

func (r *Runtime) pwcEngine(peer int) (*pwc.Engine, error) {
	if peer < 0 || peer >= len(r.pwcs) || r.pwcs[peer] == nil {
		return nil, NewPeerError("runtime", peer, CodeInvalid, "unknown or self peer")
	}
	return r.pwcs[peer], nil
}

// logFailure logs a peer- and error-scoped Warn line for a failed
// public API call (spec §7: recoverable errors logged, never above
// trace level for the merely-busy cases handled elsewhere).
func (r *Runtime) logFailure(peer int, op string, err error) {
	r.logger.WithPeer(peer).WithError(err).Warn(op + " failed")
}

// logRequest logs a Debug-level trace of a successful request-shaped
// API call, tagged with the peer and the resulting Rid.
func (r *Runtime) logRequest(peer int, op string, id Rid) {
	r.logger.WithPeer(peer).WithRid(uint64(id)).Debug(op)
}

// WaitAny reaps one non-PWC/GWC completion across every peer (spec
// §4.G). PWC/GWC completions are routed internally to
// ProbeCompletion/WaitGetCompletion instead.
func (r *Runtime) WaitAny(ctx context.Context) (Rid, error) {
	id, err := r.loop.WaitAny(ctx)
	if err != nil {
		return 0, WrapTransportError("wait_any", -1, err)
	}
	return Rid(id), nil
}

// WaitAnyLedger reaps one send_FIN notification across every peer's
// local FIN ledger, round-robin (spec §4.G).
func (r *Runtime) WaitAnyLedger(ctx context.Context) (Rid, error) {
	id, err := r.loop.WaitAnyLedger(ctx)
	if err != nil {
		return 0, WrapTransportError("wait_any_ledger", -1, err)
	}
	return Rid(id), nil
}

// Finalize tears down the backend and unmaps shared storage, in that
// order (spec §7).
func (r *Runtime) Finalize() error {
	r.metrics.Stop()
	if err := r.backend.Finalize(); err != nil {
		return NewPeerError("runtime.Finalize", r.rank, CodeTransport, err.Error())
	}
	if r.storage != nil {
		if err := r.storage.Close(); err != nil {
			return NewPeerError("runtime.Finalize", r.rank, CodeResource, err.Error())
		}
	}
	return nil
}
