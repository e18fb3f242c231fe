package photon

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/ehrlich-b/photonrdma/internal/handshake"
	"github.com/ehrlich-b/photonrdma/internal/ledger"
	"github.com/ehrlich-b/photonrdma/internal/pwc"
	"github.com/ehrlich-b/photonrdma/internal/reqtable"
)

// Code is a high-level error category, per the six kinds the core
// distinguishes: callers branch on Code, not on Msg.
type Code string

const (
	CodeNoInit         Code = "not initialized"
	CodeInvalid        Code = "invalid argument"
	CodeLookup         Code = "address not registered"
	CodeResource       Code = "resource exhausted"
	CodeLedgerOverflow Code = "ledger overflow"
	CodeTransport      Code = "transport error"
	CodeUnimplemented  Code = "unimplemented"
)

// Error is a structured error carrying the failing operation, the peer
// and request it concerns (when applicable), and an errno when the
// failure originated in a syscall.
type Error struct {
	Op     string        // operation that failed, e.g. "post_recv_buffer_rdma"
	Peer   int           // peer rank (-1 if not applicable)
	Rid    Rid           // request id (0 if not applicable)
	Code   Code          // high-level error category
	Errno  syscall.Errno // kernel errno, if this wraps one (0 otherwise)
	Msg    string        // human-readable message
	Inner  error         // wrapped error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Peer >= 0 {
		parts = append(parts, fmt.Sprintf("peer=%d", e.Peer))
	}
	if e.Rid != 0 {
		parts = append(parts, fmt.Sprintf("rid=%s", e.Rid))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("photon: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("photon: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError creates a structured error with no peer/request context.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Peer: -1, Code: code, Msg: msg}
}

// NewPeerError creates an error scoped to a specific peer.
func NewPeerError(op string, peer int, code Code, msg string) *Error {
	return &Error{Op: op, Peer: peer, Code: code, Msg: msg}
}

// NewRequestError creates an error scoped to a specific peer and request.
func NewRequestError(op string, peer int, rid Rid, code Code, msg string) *Error {
	return &Error{Op: op, Peer: peer, Rid: rid, Code: code, Msg: msg}
}

// WrapTransportError wraps a backend-reported CQE failure, mapping the
// errno (if any) onto a Code for callers that want to branch on it.
func WrapTransportError(op string, peer int, inner error) *Error {
	if inner == nil {
		return nil
	}
	if pe, ok := inner.(*Error); ok {
		return &Error{Op: op, Peer: pe.Peer, Rid: pe.Rid, Code: pe.Code, Errno: pe.Errno, Msg: pe.Msg, Inner: pe.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Peer: peer, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Peer: peer, Code: codeForInner(inner), Msg: inner.Error(), Inner: inner}
}

// codeForInner maps the package-local sentinel errors internal/handshake,
// internal/pwc, internal/ledger, and internal/reqtable each wrap their
// failures in (those packages can't import this one without a cycle, so
// the mapping lives here instead) onto a Code. The ledger's own overflow
// sentinel is checked first since it's the more specific of the two
// "resource" kinds.
func codeForInner(err error) Code {
	switch {
	case errors.Is(err, ledger.ErrOverflow):
		return CodeLedgerOverflow
	case errors.Is(err, reqtable.ErrNotFound):
		return CodeLookup
	case errors.Is(err, handshake.ErrLookup):
		return CodeLookup
	case errors.Is(err, handshake.ErrResource), errors.Is(err, pwc.ErrResource):
		return CodeResource
	case errors.Is(err, handshake.ErrInvalid):
		return CodeInvalid
	case errors.Is(err, handshake.ErrTransport), errors.Is(err, pwc.ErrTransport):
		return CodeTransport
	default:
		return CodeTransport
	}
}

func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.EINVAL:
		return CodeInvalid
	case syscall.ENOMEM, syscall.ENOSPC, syscall.EAGAIN:
		return CodeResource
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return CodeUnimplemented
	default:
		return CodeTransport
	}
}

// IsCode reports whether err (or something it wraps) carries the given Code.
func IsCode(err error, code Code) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
