// Health and status API handlers: HTTP endpoints for liveness/readiness
// and node status.

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chikuno/dchat/pkg/chain/state"
	"github.com/chikuno/dchat/pkg/relay"
)

// HealthHandlers provides HTTP handlers for node liveness and status,
// adapted from the teacher's inline mux.HandleFunc("/health", ...) and
// "/health/detailed" closures in main.go into the package's
// one-handler-struct-per-concern convention the rest of pkg/server uses.
type HealthHandlers struct {
	chain     *state.ChainState
	queue     *relay.Queue
	startTime time.Time
	chainID   string
}

// NewHealthHandlers builds health/status handlers over chain and queue.
// queue may be nil on an observer node that does not run relay.
func NewHealthHandlers(chain *state.ChainState, queue *relay.Queue, chainID string) *HealthHandlers {
	return &HealthHandlers{chain: chain, queue: queue, startTime: time.Now(), chainID: chainID}
}

// HandleHealth handles GET /health: a cheap liveness probe. Returns 200
// unless the chain state store itself is unavailable.
func (h *HealthHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "ok"
	code := http.StatusOK
	if h.chain == nil {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         status,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// HandleStatus handles GET /status: chain height, relay queue depth, and
// process uptime, the readiness-level detail the teacher's
// "/health/detailed" endpoint served for its own batch/proof subsystems.
func (h *HealthHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	resp := map[string]interface{}{
		"chain_id":       h.chainID,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	}

	if h.chain != nil {
		if header, err := h.chain.LatestHeader(); err == nil {
			resp["latest_height"] = header.Height
			resp["latest_hash"] = header.Hash
			resp["latest_block_time"] = header.Time
		} else {
			resp["chain_error"] = err.Error()
		}
	} else {
		resp["chain_error"] = "chain state not available"
	}

	if h.queue != nil {
		resp["relay_queue_depth"] = h.queue.Size()
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}
