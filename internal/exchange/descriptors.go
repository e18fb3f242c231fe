package exchange

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/photonrdma/internal/ledger"
	"github.com/ehrlich-b/photonrdma/internal/shared"
	"github.com/ehrlich-b/photonrdma/internal/transport"
)

// Role names one of the seven ledger/eager-buffer kinds a rank
// produces into on a peer (spec §3's Process "remote" half — what
// this rank RDMA-WRITEs into, as opposed to what it reads from).
type Role int

const (
	RoleRecvInfo Role = iota
	RoleSendInfo
	RoleFIN
	RolePWC
	RoleEager
	RoleEagerBuf
	RolePWCBuf
)

var roleTarget = map[Role]shared.Kind{
	RoleRecvInfo: shared.LocalRecvInfo,
	RoleSendInfo: shared.LocalSendInfo,
	RoleFIN:      shared.LocalFIN,
	RolePWC:      shared.LocalPWC,
	RoleEager:    shared.LocalEager,
	RoleEagerBuf: shared.LocalEagerBuf,
	RolePWCBuf:   shared.LocalPWCBuf,
}

var allRoles = []Role{RoleRecvInfo, RoleSendInfo, RoleFIN, RolePWC, RoleEager, RoleEagerBuf, RolePWCBuf}

// PeerDescriptors is every producer-side RemoteDescriptor this rank
// needs for one peer — the peer's "Local X" mirror at this rank's
// slot, for each of the seven roles (spec §4.D: "addr = peer_va[i] +
// offset_X + my_rank × stride_X").
type PeerDescriptors map[Role]ledger.RemoteDescriptor

// BuildRemoteDescriptors fans out across peers with an errgroup,
// computing each peer's PeerDescriptors from its published PeerAddr
// and this rank's position in the shared layout. Fan-out matters at
// scale: with thousands of ranks, the descriptor table for a single
// rank is nproc × 7 entries, independent per peer.
func BuildRemoteDescriptors(ctx context.Context, peers []transport.PeerAddr, layout *shared.Layout, myRank int) ([]PeerDescriptors, error) {
	out := make([]PeerDescriptors, len(peers))

	g, _ := errgroup.WithContext(ctx)
	for i, pa := range peers {
		i, pa := i, pa
		g.Go(func() error {
			if i == myRank {
				out[i] = nil // no self-descriptor; a rank never RDMAs to itself
				return nil
			}
			pd := make(PeerDescriptors, len(allRoles))
			for _, role := range allRoles {
				k := roleTarget[role]
				pd[role] = ledger.RemoteDescriptor{
					Addr: pa.Addr + layout.Offset(k, myRank),
					Priv: pa.Priv,
				}
			}
			out[i] = pd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
