package eventloop

import "fmt"

// ErrTransport wraps a backend.GetEvent failure surfaced by WaitAny.
var ErrTransport = fmt.Errorf("eventloop: transport")

func newTransportError(peer int, cause error) error {
	return fmt.Errorf("WaitAny: peer %d: %w: %v", peer, ErrTransport, cause)
}
