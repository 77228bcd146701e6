// Channel and dispute query API handlers: HTTP endpoints for querying
// chat-chain channel and dispute records, replacing the teacher's
// ledger/proof-artifact query endpoints with the chat-chain's own
// committed record types.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chikuno/dchat/pkg/chain/state"
)

// DeliveryHandlers serves read-only queries over committed channel and
// dispute records, the same handler-struct-per-file shape as the
// teacher's LedgerHandlers/BatchHandlers.
type DeliveryHandlers struct {
	chain *state.ChainState
}

// NewDeliveryHandlers builds handlers reading from chain.
func NewDeliveryHandlers(chain *state.ChainState) *DeliveryHandlers {
	return &DeliveryHandlers{chain: chain}
}

// HandleChannel handles GET /api/channels/{name}.
func (h *DeliveryHandlers) HandleChannel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	name := strings.TrimPrefix(r.URL.Path, "/api/channels/")
	if name == "" || name == r.URL.Path {
		http.Error(w, `{"error":"channel name required"}`, http.StatusBadRequest)
		return
	}

	if h.chain == nil {
		http.Error(w, `{"error":"chain state not available"}`, http.StatusInternalServerError)
		return
	}

	rec, err := h.chain.GetChannel(name)
	if errors.Is(err, state.ErrNotFound) {
		http.Error(w, `{"error":"channel not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"failed to load channel: %s"}`, err.Error()), http.StatusInternalServerError)
		return
	}

	if err := json.NewEncoder(w).Encode(rec); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// HandleDispute handles GET /api/disputes/{id}.
func (h *DeliveryHandlers) HandleDispute(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id := strings.TrimPrefix(r.URL.Path, "/api/disputes/")
	if id == "" || id == r.URL.Path {
		http.Error(w, `{"error":"dispute id required"}`, http.StatusBadRequest)
		return
	}

	if h.chain == nil {
		http.Error(w, `{"error":"chain state not available"}`, http.StatusInternalServerError)
		return
	}

	rec, err := h.chain.GetDispute(id)
	if errors.Is(err, state.ErrNotFound) {
		http.Error(w, `{"error":"dispute not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"failed to load dispute: %s"}`, err.Error()), http.StatusInternalServerError)
		return
	}

	if err := json.NewEncoder(w).Encode(rec); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// HandleReputation handles GET /api/identities/{pubkey}/reputation.
func (h *DeliveryHandlers) HandleReputation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	pubKey := strings.TrimPrefix(r.URL.Path, "/api/identities/")
	pubKey = strings.TrimSuffix(pubKey, "/reputation")
	if pubKey == "" || pubKey == r.URL.Path {
		http.Error(w, `{"error":"identity public key required"}`, http.StatusBadRequest)
		return
	}

	if h.chain == nil {
		http.Error(w, `{"error":"chain state not available"}`, http.StatusInternalServerError)
		return
	}

	score, err := h.chain.GetReputation(pubKey)
	if errors.Is(err, state.ErrNotFound) {
		http.Error(w, `{"error":"no reputation recorded for identity"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"failed to load reputation: %s"}`, err.Error()), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"identity":   pubKey,
		"reputation": score,
	})
}
