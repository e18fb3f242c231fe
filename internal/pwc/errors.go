package pwc

import "fmt"

// Sentinel errors, matched with errors.Is. A package-local set rather
// than the root module's *Error mirrors internal/handshake's layering:
// the public API maps these onto its own Code at the boundary.
var (
	ErrResource  = fmt.Errorf("pwc: resource")
	ErrTransport = fmt.Errorf("pwc: transport")
)

func newResourceError(op string, peer int, cause error) error {
	return fmt.Errorf("%s: peer %d: %w: %v", op, peer, ErrResource, cause)
}

func newTransportError(op string, peer int, rid uint64, cause error) error {
	return fmt.Errorf("%s: peer %d: rid %#x: %w: %v", op, peer, rid, ErrTransport, cause)
}
