// Package registry implements the buffer registry (spec §4.A): a
// linearly-scanned table mapping registered address ranges to
// ref-counted buffer handles, guarded by a single spinlock exactly as
// the reference implementation's buffertable does.
package registry

import (
	"errors"

	"github.com/ehrlich-b/photonrdma/internal/spinlock"
)

// ErrNotFound is returned by FindContaining/FindExact/Unregister when
// no matching buffer is registered.
var ErrNotFound = errors.New("registry: address not registered")

// BufferPriv is the remote-access pair (rkey / memory-handle
// equivalent) a backend fills in on registration.
type BufferPriv struct {
	Key0 uint64
	Key1 uint64
}

// Buffer is a registered memory region. MrHandle is opaque backend
// state; a buffer participates in RDMA iff MrHandle is non-nil.
type Buffer struct {
	Addr     uintptr
	Size     uint64
	Priv     BufferPriv
	MrHandle any
	Flags    uint32

	refCount int32 // protected by the owning Registry's lock
}

// RefCount returns the buffer's current reference count.
func (b *Buffer) RefCount() int32 { return b.refCount }

// RegisterFunc is the backend hook invoked on first registration of a
// range; it must fill b.Priv and b.MrHandle.
type RegisterFunc func(b *Buffer, flags uint32) error

// UnregisterFunc is the backend hook invoked when a buffer's ref-count
// reaches zero.
type UnregisterFunc func(b *Buffer) error

type pendingRegistration struct {
	addr  uintptr
	size  uint64
	flags uint32
}

// Registry is the buffer registry. The zero value is not ready for
// use; call New.
type Registry struct {
	lock    spinlock.TATAS
	buffers []*Buffer

	initialized bool
	register    RegisterFunc
	unregister  UnregisterFunc
	pending     []pendingRegistration
}

// New creates an empty registry. Registrations made before Init are
// queued and replayed once Init supplies the backend hooks.
func New() *Registry {
	return &Registry{buffers: make([]*Buffer, 0, 16)}
}

// Init supplies the backend register/unregister hooks and replays any
// registrations queued by calls to Register made before Init.
func (r *Registry) Init(register RegisterFunc, unregister UnregisterFunc) error {
	r.lock.Acquire()
	r.register = register
	r.unregister = unregister
	r.initialized = true
	pending := r.pending
	r.pending = nil
	r.lock.Release()

	for _, p := range pending {
		if _, err := r.Register(p.addr, p.size, p.flags); err != nil {
			return err
		}
	}
	return nil
}

// Register finds an exact (addr, size) match and increments its
// ref-count, or creates, backend-registers, and inserts a new buffer.
// If Init has not yet been called, the request is queued and replayed
// once it is.
func (r *Registry) Register(addr uintptr, size uint64, flags uint32) (*Buffer, error) {
	r.lock.Acquire()

	if !r.initialized {
		r.pending = append(r.pending, pendingRegistration{addr, size, flags})
		r.lock.Release()
		return nil, nil
	}

	if b := r.findExactLocked(addr, size); b != nil {
		b.refCount++
		r.lock.Release()
		return b, nil
	}
	r.lock.Release()

	b := &Buffer{Addr: addr, Size: size, Flags: flags, refCount: 1}
	if err := r.register(b, flags); err != nil {
		return nil, err
	}

	r.lock.Acquire()
	r.buffers = append(r.buffers, b)
	r.lock.Release()
	return b, nil
}

// Unregister decrements the ref-count of the exact (addr, size) match;
// at zero it backend-unregisters and removes the buffer. Removing a
// range never invalidates other, non-overlapping registrations.
func (r *Registry) Unregister(addr uintptr, size uint64) error {
	r.lock.Acquire()
	b := r.findExactLocked(addr, size)
	if b == nil {
		r.lock.Release()
		return ErrNotFound
	}
	b.refCount--
	dead := b.refCount <= 0
	if dead {
		r.removeLocked(b)
	}
	r.lock.Release()

	if dead && r.unregister != nil {
		return r.unregister(b)
	}
	return nil
}

// FindContaining returns any registered buffer whose [addr, addr+size)
// range contains the query range. Ties are broken by insertion order.
func (r *Registry) FindContaining(addr uintptr, size uint64) (*Buffer, error) {
	r.lock.Acquire()
	defer r.lock.Release()

	for _, b := range r.buffers {
		if b.Addr <= addr && b.Addr+uintptr(b.Size) >= addr+uintptr(size) {
			return b, nil
		}
	}
	return nil, ErrNotFound
}

// FindExact returns the registered buffer whose range exactly equals
// (addr, size).
func (r *Registry) FindExact(addr uintptr, size uint64) (*Buffer, error) {
	r.lock.Acquire()
	defer r.lock.Release()

	if b := r.findExactLocked(addr, size); b != nil {
		return b, nil
	}
	return nil, ErrNotFound
}

// findExactLocked must be called with r.lock held.
func (r *Registry) findExactLocked(addr uintptr, size uint64) *Buffer {
	for _, b := range r.buffers {
		if b.Addr == addr && b.Size == size {
			return b
		}
	}
	return nil
}

// removeLocked swaps the matched buffer with the last element and
// shrinks the slice by one, mirroring the reference implementation's
// swap-with-last removal rather than a shift (removal order is
// unspecified, per spec §4.A).
func (r *Registry) removeLocked(target *Buffer) {
	for i, b := range r.buffers {
		if b == target {
			last := len(r.buffers) - 1
			r.buffers[i] = r.buffers[last]
			r.buffers[last] = nil
			r.buffers = r.buffers[:last]
			return
		}
	}
}

// Len returns the number of currently registered buffers.
func (r *Registry) Len() int {
	r.lock.Acquire()
	defer r.lock.Release()
	return len(r.buffers)
}
