package photon

import (
	"github.com/ehrlich-b/photonrdma/internal/registry"
)

// BufferPriv is the remote-access pair (rkey/memory-handle equivalent)
// a backend fills in on registration; callers pass it back to
// PutWithCompletion/GetWithCompletion to name a peer's target buffer.
type BufferPriv = registry.BufferPriv

// RegisterBuffer registers the memory range [ptr, ptr+size) for RDMA
// access, incrementing its ref-count if already registered (spec
// §4.A). The returned Priv is what a peer needs to target this range.
func (r *Runtime) RegisterBuffer(ptr uintptr, size uint64, flags uint32) (BufferPriv, error) {
	buf, err := r.reg.Register(ptr, size, flags)
	if err != nil {
		r.logFailure(r.rank, "register_buffer", err)
		return BufferPriv{}, WrapTransportError("register_buffer", r.rank, err)
	}
	return buf.Priv, nil
}

// UnregisterBuffer decrements the ref-count of the buffer covering
// [ptr, ptr+size), backend-unregistering it once it reaches zero.
func (r *Runtime) UnregisterBuffer(ptr uintptr, size uint64) error {
	if err := r.reg.Unregister(ptr, size); err != nil {
		r.logger.WithPeer(r.rank).WithError(err).Warn("unregister_buffer of an unregistered range")
		return NewPeerError("unregister_buffer", r.rank, CodeLookup, err.Error())
	}
	return nil
}
