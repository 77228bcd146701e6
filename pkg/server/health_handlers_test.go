package server

import (
	"net/http/httptest"
	"strings"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/chikuno/dchat/pkg/chain/state"
)

func newTestChainStateForServer(t *testing.T) *state.ChainState {
	t.Helper()
	return state.New(dbm.NewMemDB())
}

func TestHandleHealthReturnsOKWithChain(t *testing.T) {
	chain := newTestChainStateForServer(t)
	h := NewHealthHandlers(chain, nil, "dchat-test")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleHealthReturnsUnavailableWithoutChain(t *testing.T) {
	h := NewHealthHandlers(nil, nil, "dchat-test")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	if rec.Code != 503 {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHandleStatusReportsChainErrorWhenNoHeaderCommitted(t *testing.T) {
	chain := newTestChainStateForServer(t)
	h := NewHealthHandlers(chain, nil, "dchat-test")

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chain_error") {
		t.Fatalf("expected chain_error in response when no header committed yet, got %s", rec.Body.String())
	}
}

func TestHandleStatusReportsLatestHeightAfterHeaderCommit(t *testing.T) {
	chain := newTestChainStateForServer(t)
	if err := chain.PutHeader(&state.Header{Height: 7, Hash: []byte("h7")}); err != nil {
		t.Fatalf("put header: %v", err)
	}
	h := NewHealthHandlers(chain, nil, "dchat-test")

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, req)

	if !strings.Contains(rec.Body.String(), `"latest_height":7`) {
		t.Fatalf("expected latest_height 7 in response, got %s", rec.Body.String())
	}
}
