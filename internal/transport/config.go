package transport

import (
	"context"

	"github.com/ehrlich-b/photonrdma/internal/constants"
)

// MetaExch selects the bootstrap out-of-band exchange mechanism
// (spec §6). EXTERNAL carries user-supplied allgather/barrier
// callbacks — the only variant the sim/tcprdma backends in this
// module actually drive end to end; MPI/PMI/XSP are named for
// interface completeness but require a cluster job launcher this
// module does not provide.
type MetaExch int

const (
	MetaExchMPI MetaExch = iota
	MetaExchPMI
	MetaExchXSP
	MetaExchExternal
)

func (m MetaExch) String() string {
	switch m {
	case MetaExchMPI:
		return "mpi"
	case MetaExchPMI:
		return "pmi"
	case MetaExchXSP:
		return "xsp"
	default:
		return "external"
	}
}

// AllgatherFunc gathers myBytes from every rank, returning one slice
// per rank in rank order (including this rank's own contribution).
type AllgatherFunc func(ctx context.Context, myBytes []byte) ([][]byte, error)

// BarrierFunc blocks until every rank has called it.
type BarrierFunc func(ctx context.Context) error

// ExternalExchange is the EXTERNAL MetaExch callback pair.
type ExternalExchange struct {
	Allgather AllgatherFunc
	Barrier   BarrierFunc
}

// Capabilities are the enumerated sizing knobs spec §6 groups under
// `cap.*`.
type Capabilities struct {
	NumCQ         uint8
	UseRCQ        bool
	LedgerEntries uint32 // power of two
	SmallMsgSize  uint32
	SmallPwcSize  uint32
	EagerBufSize  uint32
}

// DefaultCapabilities matches the reference implementation's defaults.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		NumCQ:         1,
		UseRCQ:        false,
		LedgerEntries: constants.DefaultLedgerEntries,
		SmallMsgSize:  constants.DefaultSmallPwcSize,
		SmallPwcSize:  constants.DefaultSmallPwcSize,
		EagerBufSize:  constants.DefaultEagerBufSize,
	}
}

// VerbsOptions are the ibverbs-specific sub-struct fields (spec §6).
// Only `sim`/`tcprdma` ship in this module; a real verbs backend would
// read these at Init time.
type VerbsOptions struct {
	UseUD       bool
	UseCMA      bool
	IBDev       string
	IBPort      int
	EthDev      string
	UDGIDPrefix string
}

// UGNIOptions are the uGNI-specific sub-struct fields.
type UGNIOptions struct {
	BTEThresh int
	EthDev    string
}

// LibfabricOptions are the libfabric-specific sub-struct fields.
type LibfabricOptions struct {
	Provider string
}

// Config is the bootstrap configuration a Runtime is built from
// (spec §6).
type Config struct {
	NProc      int
	Rank       int
	Forwarders []int

	BackendName string // "sim", "tcprdma", "verbs", "ugni", "fi"

	MetaExch MetaExch
	External *ExternalExchange

	Cap Capabilities

	Verbs     VerbsOptions
	UGNI      UGNIOptions
	Libfabric LibfabricOptions

	// ThreadSafeBackend bypasses the submission spinlock around
	// RdmaPut/RdmaGet when the backend is itself re-entrant (spec §5).
	ThreadSafeBackend bool
}
