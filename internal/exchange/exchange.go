// Package exchange implements the bootstrap out-of-band exchange
// (spec §4.D): a single allgather of each rank's shared-storage
// registration, followed by a barrier, followed by fanning the
// resulting peer addresses out into every ledger's RemoteDescriptor.
package exchange

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ehrlich-b/photonrdma/internal/transport"
)

// selfInfoSize is the wire size of one rank's published registration:
// addr(8) key0(8) key1(8).
const selfInfoSize = 24

// EncodeSelf packs a PeerAddr into the 24-byte payload carried by the
// bootstrap allgather.
func EncodeSelf(pa transport.PeerAddr) []byte {
	buf := make([]byte, selfInfoSize)
	binary.LittleEndian.PutUint64(buf[0:8], pa.Addr)
	binary.LittleEndian.PutUint64(buf[8:16], pa.Priv.Key0)
	binary.LittleEndian.PutUint64(buf[16:24], pa.Priv.Key1)
	return buf
}

// DecodeSelf unpacks one rank's contribution to the bootstrap allgather.
func DecodeSelf(b []byte) (transport.PeerAddr, error) {
	if len(b) < selfInfoSize {
		return transport.PeerAddr{}, fmt.Errorf("exchange: short peer info (%d bytes, want %d)", len(b), selfInfoSize)
	}
	var pa transport.PeerAddr
	pa.Addr = binary.LittleEndian.Uint64(b[0:8])
	pa.Priv.Key0 = binary.LittleEndian.Uint64(b[8:16])
	pa.Priv.Key1 = binary.LittleEndian.Uint64(b[16:24])
	return pa, nil
}

// retryPolicy bounds how long a transient allgather/barrier failure
// (e.g. a user-supplied callback racing process startup) is retried
// before bootstrap gives up, per SPEC_FULL's domain-stack wiring of
// cenkalti/backoff for the exchange phase.
func retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 500 * time.Millisecond
	eb.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(eb, ctx)
}

// Allgather runs ext.Allgather with retry, decoding each rank's
// contribution into a PeerAddr. The returned slice is in rank order.
func Allgather(ctx context.Context, log *zap.Logger, ext *transport.ExternalExchange, self transport.PeerAddr) ([]transport.PeerAddr, error) {
	if ext == nil || ext.Allgather == nil {
		return nil, fmt.Errorf("exchange: no allgather callback configured")
	}

	var raw [][]byte
	op := func() error {
		var err error
		raw, err = ext.Allgather(ctx, EncodeSelf(self))
		if err != nil {
			log.Warn("allgather attempt failed, retrying", zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return nil, fmt.Errorf("exchange: allgather: %w", err)
	}

	peers := make([]transport.PeerAddr, len(raw))
	for i, b := range raw {
		pa, err := DecodeSelf(b)
		if err != nil {
			return nil, fmt.Errorf("exchange: decoding peer %d: %w", i, err)
		}
		peers[i] = pa
	}
	return peers, nil
}

// Barrier runs ext.Barrier with the same retry policy as Allgather.
func Barrier(ctx context.Context, log *zap.Logger, ext *transport.ExternalExchange) error {
	if ext == nil || ext.Barrier == nil {
		return fmt.Errorf("exchange: no barrier callback configured")
	}
	op := func() error {
		err := ext.Barrier(ctx)
		if err != nil {
			log.Warn("barrier attempt failed, retrying", zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return fmt.Errorf("exchange: barrier: %w", err)
	}
	return nil
}

// Bootstrap runs the full sequence: allgather self info, then a
// barrier so no rank starts RDMA-ing into a peer's storage before
// every rank has published its own registration.
func Bootstrap(ctx context.Context, log *zap.Logger, ext *transport.ExternalExchange, self transport.PeerAddr) ([]transport.PeerAddr, error) {
	peers, err := Allgather(ctx, log, ext, self)
	if err != nil {
		return nil, err
	}
	if err := Barrier(ctx, log, ext); err != nil {
		return nil, err
	}
	return peers, nil
}
