// Package metrics exposes node-wide Prometheus instrumentation: relay
// delivery throughput, BFT round/finality timing, and bridge transfer
// outcomes. github.com/prometheus/client_golang is already a direct
// dependency in the pack's go.mod (cometbft itself reports consensus
// metrics through it), but no pack file actually registers a collector
// with it, so this package is grounded on the library's own
// promauto/promhttp conventions rather than a specific teacher call site.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/gauge/histogram the node reports, bound to
// a dedicated prometheus.Registry rather than the global default so a
// single process can run more than one node (useful in tests and
// simulations) without metric name collisions.
type Registry struct {
	registry *prometheus.Registry

	MessagesRelayed   *prometheus.CounterVec
	DeliveryBatchSize prometheus.Histogram
	RelayQueueDepth   prometheus.Gauge

	BlocksFinalized  prometheus.Counter
	BlockFinalityMs  prometheus.Histogram
	ConsensusRound   prometheus.Gauge
	ProposerRotation *prometheus.CounterVec

	DisputesOpened  prometheus.Counter
	SlashEvents     *prometheus.CounterVec

	BridgeTransfers *prometheus.CounterVec
	BridgeLatencyMs *prometheus.HistogramVec

	PeersConnected prometheus.Gauge
}

// NewRegistry builds and registers every metric under namespace.
func NewRegistry(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,

		MessagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Messages accepted and queued for relay, by outcome.",
		}, []string{"outcome"}),

		DeliveryBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_batch_size",
			Help:      "Number of messages committed per delivery batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),

		RelayQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_queue_depth",
			Help:      "Messages currently queued for relay.",
		}),

		BlocksFinalized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_finalized_total",
			Help:      "Blocks that reached precommit quorum and were committed.",
		}),

		BlockFinalityMs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_finality_milliseconds",
			Help:      "Wall-clock time from propose to commit for a block.",
			Buckets:   []float64{500, 1000, 1500, 2000, 2500, 3000, 4000, 6000, 10000},
		}),

		ConsensusRound: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consensus_round",
			Help:      "Current BFT round at the current height (0-indexed).",
		}),

		ProposerRotation: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposer_selections_total",
			Help:      "Times each validator has been selected as block proposer.",
		}, []string{"validator"}),

		DisputesOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disputes_opened_total",
			Help:      "Disputes opened against relays or validators.",
		}),

		SlashEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slash_events_total",
			Help:      "Slash events applied, by subject kind.",
		}, []string{"subject"}),

		BridgeTransfers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_transfers_total",
			Help:      "Bridge transfers, by terminal phase.",
		}, []string{"phase"}),

		BridgeLatencyMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bridge_transfer_latency_milliseconds",
			Help:      "Time from initiate to execute/rollback, by currency-chain platform.",
			Buckets:   prometheus.ExponentialBuckets(100, 2, 12),
		}, []string{"platform"}),

		PeersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_connected",
			Help:      "Currently connected transport peers.",
		}),
	}
}

// Handler returns an http.Handler serving this registry's metrics in the
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
