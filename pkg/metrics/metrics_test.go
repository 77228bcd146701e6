package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistryRegistersAllCollectorsWithoutPanicking(t *testing.T) {
	reg := NewRegistry("dchat_test")
	reg.MessagesRelayed.WithLabelValues("committed").Inc()
	reg.DeliveryBatchSize.Observe(12)
	reg.RelayQueueDepth.Set(3)
	reg.BlocksFinalized.Inc()
	reg.BlockFinalityMs.Observe(2100)
	reg.ConsensusRound.Set(1)
	reg.ProposerRotation.WithLabelValues("validator-a").Inc()
	reg.DisputesOpened.Inc()
	reg.SlashEvents.WithLabelValues("relay").Inc()
	reg.BridgeTransfers.WithLabelValues("executed").Inc()
	reg.BridgeLatencyMs.WithLabelValues("evm").Observe(500)
	reg.PeersConnected.Set(5)
}

func TestHandlerServesPrometheusTextFormat(t *testing.T) {
	reg := NewRegistry("dchat_test")
	reg.BlocksFinalized.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "dchat_test_blocks_finalized_total") {
		t.Fatalf("expected metric name in output, got:\n%s", body)
	}
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	a := NewRegistry("dchat_node_a")
	b := NewRegistry("dchat_node_b")

	a.BlocksFinalized.Inc()
	b.BlocksFinalized.Add(5)

	reqA := httptest.NewRequest("GET", "/metrics", nil)
	recA := httptest.NewRecorder()
	a.Handler().ServeHTTP(recA, reqA)

	if strings.Contains(recA.Body.String(), "dchat_node_b") {
		t.Fatal("expected independent registries to not leak each other's metrics")
	}
}
