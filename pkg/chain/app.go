package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"

	"github.com/chikuno/dchat/pkg/chain/state"
)

// App implements the ABCI Application interface for the chat-chain,
// adapted nearly line-for-line from the teacher's ValidatorApp
// (pkg/consensus/abci_validator.go): same Info/CheckTx/FinalizeBlock/
// Commit/Query shape, operating over our LogEntry sum type and
// pkg/chain/state.ChainState instead of ValidatorBlock and
// ledger.LedgerStore.
type App struct {
	logger *log.Logger

	mu             sync.RWMutex
	latestHeight   int64
	lastCommitHash []byte

	state      *state.ChainState
	archive    *state.ArchiveStore
	invariants *InvariantChecker
	disputes   *DisputeTracker
	pruner     *Pruner

	chainID        string
	validatorCount int

	// currentBlockHeight/Hash/Time are captured in FinalizeBlock and
	// consumed in Commit, mirroring the teacher's per-block staging area.
	currentBlockHeight uint64
	currentBlockHash   string
	currentBlockTime   time.Time

	// recentEntries caches the entries finalized at the current height,
	// keyed by height, so Commit can hand them to the pruner without
	// re-parsing transactions. Evicted once older than the pruning
	// horizon's archive pass has run.
	recentEntries map[uint64][]*LogEntry
}

// NewApp builds an ABCI application over st/archive for chainID, pruning
// according to policy.
func NewApp(st *state.ChainState, archive *state.ArchiveStore, chainID string, policy RetentionPolicy) *App {
	app := &App{
		logger:        log.New(log.Writer(), "[chain.App] ", log.LstdFlags),
		state:         st,
		archive:       archive,
		invariants:    NewInvariantChecker(),
		disputes:      NewDisputeTracker(st),
		chainID:       chainID,
		recentEntries: make(map[uint64][]*LogEntry),
	}
	if archive != nil {
		app.pruner = NewPruner(policy, st, archive)
	}

	if h, err := st.LatestHeader(); err == nil && h != nil {
		app.latestHeight = int64(h.Height)
		app.lastCommitHash = h.StateRoot
		app.logger.Printf("restored chain state: height=%d stateRoot=%x", app.latestHeight, app.lastCommitHash)
	}

	return app
}

// SetValidatorCount sets the validator set size used for quorum math.
func (app *App) SetValidatorCount(count int) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.validatorCount = count
}

// Info reports the application's current height and app hash so CometBFT
// can resynchronize after a restart.
func (app *App) Info(ctx context.Context, req *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()

	return &abcitypes.ResponseInfo{
		Data:             "dchat chat-chain",
		Version:          "1.0.0",
		AppVersion:       1,
		LastBlockHeight:  app.latestHeight,
		LastBlockAppHash: app.lastCommitHash,
	}, nil
}

// CheckTx performs structural validation only — it cannot run full
// invariant checks since CheckTx does not know the final block height an
// entry will land at (same caveat the teacher documents for
// validateValidatorBlock).
func (app *App) CheckTx(ctx context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	var entry LogEntry
	if err := json.Unmarshal(req.Tx, &entry); err != nil {
		return &abcitypes.ResponseCheckTx{
			Code: 1,
			Log:  "invalid log entry JSON: " + err.Error(),
		}, nil
	}

	if err := validateStructure(&entry); err != nil {
		return &abcitypes.ResponseCheckTx{
			Code: 2,
			Log:  "log entry validation failed: " + err.Error(),
		}, nil
	}

	return &abcitypes.ResponseCheckTx{
		Code:      0,
		GasWanted: 1,
		GasUsed:   1,
		Log:       "log entry accepted",
	}, nil
}

func validateStructure(entry *LogEntry) error {
	if entry.Kind == "" {
		return fmt.Errorf("kind must not be empty")
	}
	if entry.Identity == "" {
		return fmt.Errorf("identity must not be empty")
	}
	return nil
}

// processEntry applies one finalized LogEntry: runs the incremental
// invariant check, then the kind-specific state transition. Mirrors the
// teacher's processValidatorTransaction, generalized from one transaction
// type to the LogEntry sum type.
func (app *App) processEntry(tx []byte, height uint64) abcitypes.ExecTxResult {
	var entry LogEntry
	if err := json.Unmarshal(tx, &entry); err != nil {
		return abcitypes.ExecTxResult{Code: 1, Log: "invalid log entry JSON: " + err.Error()}
	}

	if err := app.invariants.CheckEntry(&entry, height); err != nil {
		return abcitypes.ExecTxResult{Code: 2, Log: "invariant violation: " + err.Error()}
	}

	if err := app.applyEntry(&entry, height); err != nil {
		return abcitypes.ExecTxResult{Code: 3, Log: "state transition failed: " + err.Error()}
	}

	app.recentEntries[height] = append(app.recentEntries[height], &entry)

	return abcitypes.ExecTxResult{
		Code: 0,
		Log:  "log entry committed",
		Events: []abcitypes.Event{
			{
				Type: "log_entry",
				Attributes: []abcitypes.EventAttribute{
					{Key: "kind", Value: entry.Kind},
					{Key: "identity", Value: entry.Identity},
					{Key: "height", Value: fmt.Sprintf("%d", height)},
				},
			},
		},
	}
}

// applyEntry updates the live state store for entry's kind. Kinds with no
// direct live-state representation (GovernanceProposal, GovernanceVote,
// BridgeTransfer) are recorded in the log but otherwise left to their
// owning subsystem (governance tallying, pkg/bridge's protocol state
// machine) — the chain itself only needs to have ordered and invariant-
// checked them.
func (app *App) applyEntry(entry *LogEntry, height uint64) error {
	switch entry.Kind {
	case KindIdentityRegister:
		return app.state.PutIdentity(&state.IdentityRecord{
			RootPublicKey:     entry.Identity,
			Sequence:          1,
			Handle:            entry.Payload["handle"],
			AuthorizedDevices: []string{entry.Payload["device_key"]},
		})

	case KindDeviceRotate:
		rec, err := app.state.GetIdentity(entry.Identity)
		if err != nil {
			return fmt.Errorf("rotate device for unknown identity %s: %w", entry.Identity, err)
		}
		rec.AuthorizedDevices = append(rec.AuthorizedDevices, entry.Payload["device_key"])
		rec.Sequence++
		return app.state.PutIdentity(rec)

	case KindChannelCreate:
		return app.state.PutChannel(&state.ChannelRecord{
			Name:    entry.Payload["channel"],
			Creator: entry.Identity,
			Policy:  entry.Payload["policy"],
		})

	case KindChannelPolicyUpdate:
		rec, err := app.state.GetChannel(entry.Payload["channel"])
		if err != nil {
			return fmt.Errorf("update policy for unknown channel %s: %w", entry.Payload["channel"], err)
		}
		rec.Policy = entry.Payload["policy"]
		return app.state.PutChannel(rec)

	case KindDisputeOpen:
		return app.disputes.OpenDispute(entry.Payload["dispute_id"], entry.Payload["evidence"], height)

	case KindDisputeResolve:
		return app.disputes.ResolveDispute(entry.Payload["dispute_id"], height)

	default:
		return nil
	}
}

// FinalizeBlock processes the entire block (CometBFT v0.38+ ABCI).
func (app *App) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.currentBlockHeight = uint64(req.Height)
	app.currentBlockHash = fmt.Sprintf("%X", req.Hash)
	app.currentBlockTime = req.Time

	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i, tx := range req.Txs {
		result := app.processEntry(tx, app.currentBlockHeight)
		txResults[i] = &result
	}

	app.logger.Printf("finalized block %d with %d entries", req.Height, len(req.Txs))

	return &abcitypes.ResponseFinalizeBlock{TxResults: txResults}, nil
}

// Commit persists the block header, advances the application height, and
// kicks off pruning for any height that has crossed the retention horizon.
func (app *App) Commit(ctx context.Context, req *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.latestHeight++
	parentHash := app.lastCommitHash
	appHash := app.generateAppHash()
	app.lastCommitHash = appHash

	header := &state.Header{
		Height:     app.currentBlockHeight,
		Hash:       appHash,
		ParentHash: parentHash,
		StateRoot:  appHash,
		Time:       app.currentBlockTime,
	}
	if err := app.state.PutHeader(header); err != nil {
		app.logger.Printf("failed to persist header at height %d: %v", header.Height, err)
	}

	if app.pruner != nil {
		for height, entries := range app.recentEntries {
			dropped, root, err := app.pruner.PruneHeight(ctx, height, uint64(app.latestHeight), entries)
			if err != nil {
				app.logger.Printf("prune height %d: %v", height, err)
				continue
			}
			if dropped {
				app.logger.Printf("pruned height %d to checkpoint root %x", height, root)
				delete(app.recentEntries, height)
			}
		}
	}

	blockCount := len(app.recentEntries[app.currentBlockHeight])
	app.logger.Printf("committed block %d with %d log entries (hash: %x)", app.latestHeight, blockCount, appHash)

	retainHeight := app.latestHeight - 100
	if retainHeight < 0 {
		retainHeight = 0
	}

	return &abcitypes.ResponseCommit{RetainHeight: retainHeight}, nil
}

// generateAppHash deterministically XORs the identities of every entry
// processed at the current height into a 32-byte state root, the same
// sorted-then-XORed construction the teacher uses for its bundle IDs.
func (app *App) generateAppHash() []byte {
	entries := app.recentEntries[app.currentBlockHeight]
	if len(entries) == 0 {
		return app.lastCommitHash
	}

	keys := make([]string, len(entries))
	byKey := make(map[string]*LogEntry, len(entries))
	for i, e := range entries {
		k := fmt.Sprintf("%s|%s|%d", e.Kind, e.Identity, i)
		keys[i] = k
		byKey[k] = e
	}
	sort.Strings(keys)

	hash := [32]byte{}
	for _, k := range keys {
		e := byKey[k]
		b := []byte(e.Kind + e.Identity)
		for i, c := range b {
			hash[i%32] ^= c
		}
	}
	return hash[:]
}

// Query handles read-only application state queries.
func (app *App) Query(ctx context.Context, req *abcitypes.RequestQuery) (*abcitypes.ResponseQuery, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()

	switch req.Path {
	case "/identity":
		rec, err := app.state.GetIdentity(string(req.Data))
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: "identity not found"}, nil
		}
		data, _ := json.Marshal(rec)
		return &abcitypes.ResponseQuery{Code: 0, Value: data, Log: "identity found"}, nil

	case "/channel":
		rec, err := app.state.GetChannel(string(req.Data))
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: "channel not found"}, nil
		}
		data, _ := json.Marshal(rec)
		return &abcitypes.ResponseQuery{Code: 0, Value: data, Log: "channel found"}, nil

	case "/dispute":
		rec, err := app.state.GetDispute(string(req.Data))
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: "dispute not found"}, nil
		}
		data, _ := json.Marshal(rec)
		return &abcitypes.ResponseQuery{Code: 0, Value: data, Log: "dispute found"}, nil

	case "/latest_height":
		return &abcitypes.ResponseQuery{Code: 0, Value: []byte(fmt.Sprintf("%d", app.latestHeight)), Log: "latest height"}, nil

	default:
		return &abcitypes.ResponseQuery{Code: 2, Log: "unknown query path: " + req.Path}, nil
	}
}

// InitChain initializes the application for a fresh chain.
func (app *App) InitChain(ctx context.Context, req *abcitypes.RequestInitChain) (*abcitypes.ResponseInitChain, error) {
	app.logger.Printf("initializing chain %s", req.ChainId)
	return &abcitypes.ResponseInitChain{}, nil
}

// PrepareProposal accepts every submitted entry as-is, in submission order.
// No canonical reordering of MessageCommit entries is applied, here or when
// entries are read back out of chain state.
func (app *App) PrepareProposal(ctx context.Context, req *abcitypes.RequestPrepareProposal) (*abcitypes.ResponsePrepareProposal, error) {
	return &abcitypes.ResponsePrepareProposal{Txs: req.Txs}, nil
}

// ProcessProposal rejects a proposed block outright if any transaction is
// not valid LogEntry JSON.
func (app *App) ProcessProposal(ctx context.Context, req *abcitypes.RequestProcessProposal) (*abcitypes.ResponseProcessProposal, error) {
	for _, tx := range req.Txs {
		var entry LogEntry
		if err := json.Unmarshal(tx, &entry); err != nil {
			return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_REJECT}, nil
		}
	}
	return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_ACCEPT}, nil
}

// ExtendVote, VerifyVoteExtension, and the snapshot RPCs are not used by
// the chat-chain: no vote extensions are defined, and state sync snapshots
// are out of scope for this node.
func (app *App) ExtendVote(ctx context.Context, req *abcitypes.RequestExtendVote) (*abcitypes.ResponseExtendVote, error) {
	return &abcitypes.ResponseExtendVote{}, nil
}

func (app *App) VerifyVoteExtension(ctx context.Context, req *abcitypes.RequestVerifyVoteExtension) (*abcitypes.ResponseVerifyVoteExtension, error) {
	return &abcitypes.ResponseVerifyVoteExtension{Status: abcitypes.ResponseVerifyVoteExtension_ACCEPT}, nil
}

func (app *App) ListSnapshots(ctx context.Context, req *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	return &abcitypes.ResponseListSnapshots{}, nil
}

func (app *App) OfferSnapshot(ctx context.Context, req *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{Result: abcitypes.ResponseOfferSnapshot_ABORT}, nil
}

func (app *App) LoadSnapshotChunk(ctx context.Context, req *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	return &abcitypes.ResponseLoadSnapshotChunk{}, nil
}

func (app *App) ApplySnapshotChunk(ctx context.Context, req *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	return &abcitypes.ResponseApplySnapshotChunk{Result: abcitypes.ResponseApplySnapshotChunk_ABORT}, nil
}

// GetLatestHeight reports the application's current height.
func (app *App) GetLatestHeight() int64 {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.latestHeight
}
