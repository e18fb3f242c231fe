package photon

import "github.com/ehrlich-b/photonrdma/internal/constants"

// Re-exported tuning defaults. See internal/constants for rationale.
const (
	DefaultLedgerEntries    = constants.DefaultLedgerEntries
	DefaultSmallPwcSize     = constants.DefaultSmallPwcSize
	DefaultEagerBufSize     = constants.DefaultEagerBufSize
	DefaultRequestTableSize = constants.DefaultRequestTableSize
	DefaultMaxPeers         = constants.DefaultMaxPeers
)
