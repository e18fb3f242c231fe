package photon

import (
	"go.uber.org/zap"

	"github.com/ehrlich-b/photonrdma/internal/constants"
	"github.com/ehrlich-b/photonrdma/internal/logging"
	"github.com/ehrlich-b/photonrdma/internal/transport"
)

// Config bundles everything a Runtime is built from: the bootstrap/
// transport knobs spec §6 groups under `photon_config_t` (carried as
// transport.Config, since the transport package already owns that
// shape) plus the ambient concerns spec.md never mentions — logging,
// request-table sizing, and metrics observation.
type Config struct {
	Transport transport.Config

	// ReqQueueCapacity sizes the PwcQ/GwcQ/CompQ auxiliary channels
	// every peer's request table carries (spec §3, "Globals").
	ReqQueueCapacity int

	// Logger receives lifecycle/debug messages in the teacher's
	// Debug/Info/Warn/Error style. Defaults to logging.Default() if nil.
	Logger *logging.Logger

	// ZapLogger, if set, receives the bootstrap exchange's structured
	// retry warnings. Unlike Logger this is optional: a nil ZapLogger is
	// replaced by a no-op logger, so those warnings are discarded. The
	// event loop does not log through it.
	ZapLogger *zap.Logger

	// Observer is held by the Runtime. Defaults to a *Metrics-backed
	// MetricsObserver if nil. The Runtime does not call it on
	// completions.
	Observer Observer
}

// DefaultConfig returns a Config for a Runtime of nproc ranks, with
// this process at rank, riding the in-process sim transport (the only
// backend that needs no further configuration to run).
func DefaultConfig(nproc, rank int) Config {
	return Config{
		Transport: transport.Config{
			NProc:       nproc,
			Rank:        rank,
			BackendName: "sim",
			MetaExch:    transport.MetaExchExternal,
			Cap:         transport.DefaultCapabilities(),
		},
		ReqQueueCapacity: constants.DefaultRequestTableSize,
	}
}

func (c Config) logger() *logging.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.Default()
}

func (c Config) zapLogger() *zap.Logger {
	if c.ZapLogger != nil {
		return c.ZapLogger
	}
	return zap.NewNop()
}
