// Package chain: in-process CometBFT engine.
//
// Adapted from the teacher's RealCometBFTEngine (pkg/consensus/
// bft_integration.go): construct a *node.Node over our ABCI App and a
// standard on-disk config/key layout under a home directory, expose
// Start/Stop. Two deliberate simplifications versus the teacher:
//
//   - Key and genesis material use CometBFT's own LoadOrGen helpers
//     (p2p.LoadOrGenNodeKey, privval.LoadOrGenFilePV) instead of the
//     teacher's hand-rolled deterministic-seed key generation, which
//     existed only to make a fixed 4-validator Docker Compose network
//     reproducible across container restarts. A single dchatd process
//     with a persistent home directory gets the same property for free
//     by just keeping its generated keys on disk.
//   - The genesis document written on first start lists a single
//     validator, this node's own key, named after the first validator
//     name passed in, rather than a hardcoded 4-name list. The other
//     names are not written to it; an existing genesis file under the
//     home directory is used as-is.
package chain

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	cmtcfg "github.com/cometbft/cometbft/config"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmttypes "github.com/cometbft/cometbft/types"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	dbm "github.com/cometbft/cometbft-db"
)

// Engine wraps an in-process CometBFT consensus node driving App.
type Engine struct {
	cfg    *cmtcfg.Config
	node   *node.Node
	logger *log.Logger
}

// NewEngine builds (but does not start) a CometBFT node rooted at homeDir,
// applying the block-time target and quorum-relevant timeouts the caller
// already validated in pkg/config, and driving app as the ABCI backend.
// Only the first entry of validators is used, as the name of the single
// genesis validator (see writeGenesisIfMissing); this node's own key is
// generated (or loaded) under homeDir first, matching the teacher's
// load-keys-then-build-genesis order.
func NewEngine(homeDir, chainID string, validators []string, blockTime time.Duration, app abcitypes.Application, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}

	cfg := cmtcfg.DefaultConfig()
	cfg.SetRoot(homeDir)
	cfg.Moniker = chainID

	cfg.Consensus.CreateEmptyBlocks = true
	if blockTime <= 0 {
		blockTime = 2500 * time.Millisecond
	}
	cfg.Consensus.CreateEmptyBlocksInterval = blockTime
	cfg.Consensus.TimeoutCommit = blockTime

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.RootDir+"/config", 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	nodeKey, err := p2p.LoadOrGenNodeKey(cfg.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("load or generate node key: %w", err)
	}

	pv := privval.LoadOrGenFilePV(cfg.PrivValidatorKeyFile(), cfg.PrivValidatorStateFile())

	if err := writeGenesisIfMissing(cfg, chainID, validators, pv); err != nil {
		return nil, fmt.Errorf("write genesis: %w", err)
	}

	dbProvider := cmtcfg.DBProvider(func(ctx *cmtcfg.DBContext) (dbm.DB, error) {
		return dbm.NewGoLevelDB(ctx.ID, ctx.Config.DBDir())
	})

	tmLogger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout)).With("module", "cometbft")

	n, err := node.NewNode(
		cfg,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(app),
		node.DefaultGenesisDocProviderFunc(cfg),
		dbProvider,
		node.DefaultMetricsProvider(cfg.Instrumentation),
		tmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("create cometbft node: %w", err)
	}

	return &Engine{cfg: cfg, node: n, logger: logger}, nil
}

// writeGenesisIfMissing seeds a genesis document whose only validator is
// the calling node's own key, with voting power 10, named names[0] ("self"
// when names is empty); the remaining names are not written. A
// single-process devnet can therefore reach quorum immediately; a
// multi-process deployment replaces this file with a
// shared one before first start, the same hand-off point the teacher's
// writeDeterministicGenesisIfNeeded leaves for an externally distributed
// genesis.
func writeGenesisIfMissing(cfg *cmtcfg.Config, chainID string, names []string, pv *privval.FilePV) error {
	genFile := cfg.GenesisFile()
	if _, err := os.Stat(genFile); err == nil {
		return nil
	}

	pubKey, err := pv.GetPubKey()
	if err != nil {
		return fmt.Errorf("get validator pubkey: %w", err)
	}

	if len(names) == 0 {
		names = []string{"self"}
	}

	validators := make([]cmttypes.GenesisValidator, 0, len(names))
	validators = append(validators, cmttypes.GenesisValidator{
		Address: pubKey.Address(),
		PubKey:  pubKey,
		Power:   10,
		Name:    names[0],
	})

	doc := &cmttypes.GenesisDoc{
		ChainID:         chainID,
		GenesisTime:     time.Now(),
		InitialHeight:   1,
		ConsensusParams: cmttypes.DefaultConsensusParams(),
		Validators:      validators,
		AppState:        json.RawMessage(`{}`),
	}
	return doc.SaveAs(genFile)
}

// Start boots the consensus node.
func (e *Engine) Start() error {
	return e.node.Start()
}

// Stop halts the consensus node.
func (e *Engine) Stop() error {
	return e.node.Stop()
}
