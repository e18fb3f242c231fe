package handshake

import "fmt"

// Sentinel kinds every handshake operation's errors wrap, mirroring
// spec §7's error kinds at the package boundary. The root package maps
// these onto its public Code via errors.Is at the API surface, since
// internal packages can't import the root package without a cycle.
var (
	ErrLookup    = fmt.Errorf("handshake: lookup")
	ErrResource  = fmt.Errorf("handshake: resource")
	ErrTransport = fmt.Errorf("handshake: transport")
	ErrInvalid   = fmt.Errorf("handshake: invalid")
)

// NewLookupError wraps a registry miss (spec §4.I).
func NewLookupError(op string, peer int, cause error) error {
	return fmt.Errorf("%s: peer %d: %w: %v", op, peer, ErrLookup, cause)
}

// NewResourceError wraps a ledger/request-table/eager-buffer overflow.
func NewResourceError(op string, peer int, cause error) error {
	return fmt.Errorf("%s: peer %d: %w: %v", op, peer, ErrResource, cause)
}

// NewTransportError wraps a backend-reported failure for a specific request.
func NewTransportError(op string, peer int, rid uint64, cause error) error {
	return fmt.Errorf("%s: peer %d request %#x: %w: %v", op, peer, rid, ErrTransport, cause)
}

// NewInvalidError wraps an unknown or malformed request id.
func NewInvalidError(op string, peer int, cause error) error {
	return fmt.Errorf("%s: peer %d: %w: %v", op, peer, ErrInvalid, cause)
}
