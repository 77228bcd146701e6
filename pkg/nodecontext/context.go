// Package nodecontext threads a small, explicit context value through
// component constructors instead of reaching for package-level singletons
// for the logger, metrics registry, and configuration (spec.md §9's
// redesign flag: "Global singletons (logger, metrics, configuration).
// Thread a small context value through constructors; the context exposes
// a subset interface to each component (principle of least authority).").
//
// Every pack file that logs does so through the stdlib *log.Logger
// directly (grepping the teacher repo turns up zero direct imports of
// zerolog/logrus/zap even though all three sit in go.mod as transitive
// dependencies of cometbft and friends), so Context carries a *log.Logger
// rather than introducing a structured-logging dependency the teacher
// itself never reaches for.
package nodecontext

import (
	"log"

	"github.com/chikuno/dchat/pkg/config"
	"github.com/chikuno/dchat/pkg/metrics"
)

// Context is the node-wide dependency bundle. It is built once at startup
// and handed to each subsystem's constructor; nothing under pkg/ reaches
// back into it through a global variable.
type Context struct {
	Config  *config.Config
	Logger  *log.Logger
	Metrics *metrics.Registry
	NodeID  string
}

// New builds a Context from cfg, logging to logger (or log.Default() if
// nil) and registering metrics under a namespace derived from cfg.ChainID.
func New(cfg *config.Config, logger *log.Logger, nodeID string) *Context {
	if logger == nil {
		logger = log.Default()
	}
	namespace := "dchat"
	if cfg != nil && cfg.ChainID != "" {
		namespace = sanitizeNamespace(cfg.ChainID)
	}
	return &Context{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewRegistry(namespace),
		NodeID:  nodeID,
	}
}

func sanitizeNamespace(s string) string {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b = append(b, byte(r))
		default:
			b = append(b, '_')
		}
	}
	if len(b) == 0 {
		return "dchat"
	}
	return string(b)
}

// Logging is the narrow logging surface most components need: a prefixed
// Printf, nothing else. Satisfied by *log.Logger.
type Logging interface {
	Printf(format string, v ...interface{})
}

// componentLogger returns a *log.Logger that prefixes every line with
// name, sharing the underlying writer/flags so output still interleaves
// in one stream.
func (c *Context) componentLogger(name string) *log.Logger {
	return log.New(c.Logger.Writer(), name+": ", c.Logger.Flags())
}

// RelayView is the subset of Context pkg/relay needs: a prefixed logger,
// the relay-specific metrics, and the relay configuration knobs — nothing
// about consensus, bridge, or storage internals.
type RelayView struct {
	Logging
	Metrics       *metrics.Registry
	MaxQueue      int
	StakeBalance  int64
	RelayEnabled  bool
}

// ForRelay narrows the Context to what pkg/relay's constructors need.
func (c *Context) ForRelay() RelayView {
	view := RelayView{Logging: c.componentLogger("relay"), Metrics: c.Metrics}
	if c.Config != nil {
		view.MaxQueue = c.Config.RelayMaxQueue
		view.StakeBalance = c.Config.RelayStake
		view.RelayEnabled = c.Config.RelayEnabled
	}
	return view
}

// ChainView is the subset of Context pkg/chain's ABCI application needs.
type ChainView struct {
	Logging
	Metrics         *metrics.Registry
	ChainID         string
	QuorumThreshold float64
	PruningPolicy   string
	BlockTimeTarget string
}

// ForChain narrows the Context to what pkg/chain's App needs.
func (c *Context) ForChain() ChainView {
	view := ChainView{Logging: c.componentLogger("chain"), Metrics: c.Metrics}
	if c.Config != nil {
		view.ChainID = c.Config.ChainID
		view.QuorumThreshold = c.Config.QuorumThreshold
		view.PruningPolicy = c.Config.PruningPolicy
		view.BlockTimeTarget = c.Config.BlockTimeTarget.String()
	}
	return view
}

// BridgeView is the subset of Context pkg/bridge's Protocol needs.
type BridgeView struct {
	Logging
	Metrics           *metrics.Registry
	AttestationTimeout string
	ValidatorSet       []string
}

// ForBridge narrows the Context to what pkg/bridge's Protocol needs.
func (c *Context) ForBridge() BridgeView {
	view := BridgeView{Logging: c.componentLogger("bridge"), Metrics: c.Metrics}
	if c.Config != nil {
		view.AttestationTimeout = c.Config.BridgeAttestationTimeout.String()
		view.ValidatorSet = c.Config.BridgeValidatorSet
	}
	return view
}

// TransportView is the subset of Context pkg/transport needs.
type TransportView struct {
	Logging
	Metrics         *metrics.Registry
	ListenAddresses []string
	BootstrapPeers  []string
	MaxConnections  int
	EnableUPnP      bool
}

// ForTransport narrows the Context to what pkg/transport's constructors need.
func (c *Context) ForTransport() TransportView {
	view := TransportView{Logging: c.componentLogger("transport"), Metrics: c.Metrics}
	if c.Config != nil {
		view.ListenAddresses = c.Config.ListenAddresses
		view.BootstrapPeers = c.Config.BootstrapPeers
		view.MaxConnections = c.Config.MaxConnections
		view.EnableUPnP = c.Config.EnableUPnP
	}
	return view
}
