// Package transport composes the individual pieces of the peer-to-peer
// layer (dht, gossip, pool, diversity) into one libp2p host, the way
// pkg/nodecontext composes the node's other cross-cutting dependencies into
// a single handle a caller constructs once at startup. No teacher analogue
// exists (the teacher's validator peers talk plain HTTP); grounded on
// other_examples/manifests/prysmaticlabs-prysm's go-libp2p host-construction
// shape, the same pack source pkg/transport/dht.go and gossip.go cite.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/chikuno/dchat/pkg/relay"
	"github.com/chikuno/dchat/pkg/storage"
	"github.com/chikuno/dchat/pkg/transport/diversity"
	"github.com/chikuno/dchat/pkg/transport/dht"
	"github.com/chikuno/dchat/pkg/transport/gossip"
	"github.com/chikuno/dchat/pkg/transport/pool"
)

const gossipTopic = "dchat/envelopes/v1"

// Host owns the libp2p host plus the peer-pool, diversity, DHT, and gossip
// state layered on top of it.
type Host struct {
	host      host.Host
	pubsub    *pubsub.PubSub
	gossip    *gossip.Router
	pool      *pool.Pool
	diversity *diversity.Tracker
	dht       *dht.Table

	logger *log.Logger
}

// connectNotifiee admits/removes peers from the pool as libp2p reports
// connection events, the real trigger pool.go's bookkeeping methods are
// meant to be driven by (its own doc comment: "callers interact only
// through the exported methods").
type connectNotifiee struct {
	h *Host
}

func (n *connectNotifiee) Listen(network.Network, ma.Multiaddr)      {}
func (n *connectNotifiee) ListenClose(network.Network, ma.Multiaddr) {}

func (n *connectNotifiee) Connected(_ network.Network, c network.Conn) {
	id := c.RemotePeer().String()
	// AS/region are left zero-valued: no GeoIP/ASN lookup library is wired
	// (none of the example repos carry one), so every peer is admitted under
	// the empty-string AS/region bucket until one is added. Admit records the
	// origin in the diversity tracker itself on success; Remove forgets it.
	if !n.h.pool.Admit(&pool.Peer{ID: id, Origin: diversity.PeerOrigin{}, Reputation: 0.5}) {
		n.h.logger.Printf("transport: pool rejected peer %s (capacity or diversity cap)", id)
	}
}

func (n *connectNotifiee) Disconnected(_ network.Network, c network.Conn) {
	n.h.pool.Remove(c.RemotePeer().String())
}

// ParseBootstrapPeers turns a list of multiaddr strings (each ending in a
// /p2p/<id> component, e.g. "/ip4/1.2.3.4/tcp/4001/p2p/Qm...") into the
// peer.AddrInfo values dht.New expects, skipping and logging any entry that
// does not parse rather than failing the whole node over one bad address.
func ParseBootstrapPeers(addrs []string, logger *log.Logger) []peer.AddrInfo {
	if logger == nil {
		logger = log.Default()
	}
	out := make([]peer.AddrInfo, 0, len(addrs))
	for _, addr := range addrs {
		m, err := ma.NewMultiaddr(addr)
		if err != nil {
			logger.Printf("transport: skip invalid bootstrap address %q: %v", addr, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(m)
		if err != nil {
			logger.Printf("transport: skip bootstrap address %q missing /p2p/<id>: %v", addr, err)
			continue
		}
		out = append(out, *info)
	}
	return out
}

// New builds and starts a libp2p host listening on listenAddrs, joins the
// gossip topic, and begins forwarding received envelopes into queue.
// bootstrapPeers are dialed opportunistically for DHT bootstrapping; an
// entry node that cannot be dialed is skipped, not fatal, matching the DHT's
// own "reached ≥3 distinct entry nodes" readiness gate rather than an all-
// or-nothing bootstrap. A failure of dht.New itself is logged.
func New(ctx context.Context, listenAddrs []string, bootstrapPeers []peer.AddrInfo, enableUPnP bool, queue *relay.Queue, logger *log.Logger) (*Host, error) {
	if logger == nil {
		logger = log.Default()
	}

	opts := []libp2p.Option{libp2p.ListenAddrStrings(listenAddrs...)}
	if enableUPnP {
		// NATPortMap/EnableHolePunching are libp2p's own higher-level NAT
		// traversal; pkg/transport/nat's Manager/DefaultChain stays unwired
		// at this layer because its Attempt closures need concrete STUN/
		// TURN-relay implementations this node does not have, so libp2p's
		// built-in UPnP+hole-punch chain is what actually runs.
		opts = append(opts, libp2p.NATPortMap(), libp2p.EnableHolePunching())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("construct libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("construct gossipsub: %w", err)
	}

	router, err := gossip.NewRouter(ctx, ps, gossipTopic)
	if err != nil {
		return nil, fmt.Errorf("join gossip topic: %w", err)
	}

	tracker := diversity.NewTracker(nil)
	peerPool := pool.New(ctx, tracker)

	th := &Host{
		host:      h,
		pubsub:    ps,
		gossip:    router,
		pool:      peerPool,
		diversity: tracker,
		logger:    logger,
	}
	h.Network().Notify(&connectNotifiee{h: th})

	if len(bootstrapPeers) > 0 {
		table, err := dht.New(ctx, h, bootstrapPeers)
		if err != nil {
			logger.Printf("transport: dht bootstrap failed: %v", err)
		} else {
			th.dht = table
		}
	}

	if queue != nil {
		go th.forward(ctx, queue)
	}

	return th, nil
}

// forward drains gossiped envelopes and enqueues each for local relay,
// re-gossiping it onward with a decremented TTL so the epidemic fanout
// continues past this node.
func (h *Host) forward(ctx context.Context, queue *relay.Queue) {
	for {
		msg, err := h.gossip.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Printf("transport: gossip receive error: %v", err)
			continue
		}

		var env storage.Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			h.logger.Printf("transport: drop malformed gossip payload from %s: %v", msg.Sender, err)
			continue
		}

		if _, err := queue.Enqueue(&env, relay.ClassNormal); err != nil {
			h.logger.Printf("transport: enqueue from gossip failed: %v", err)
		}
		if err := h.gossip.Relay(ctx, msg); err != nil {
			h.logger.Printf("transport: re-gossip failed: %v", err)
		}
	}
}

// Broadcast gossips env to the network with a fresh TTL budget, used when a
// locally originated message needs to reach peers beyond this node's direct
// connections.
func (h *Host) Broadcast(ctx context.Context, env *storage.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope for gossip: %w", err)
	}
	return h.gossip.Publish(ctx, env.ID, payload)
}

// PeerCount reports the number of peers currently admitted to the pool.
func (h *Host) PeerCount() int {
	return len(h.pool.List())
}

// ID returns this host's libp2p peer id.
func (h *Host) ID() peer.ID {
	return h.host.ID()
}

// Close tears down the gossip subscription and the underlying libp2p host.
func (h *Host) Close() error {
	h.gossip.Close()
	if h.dht != nil {
		_ = h.dht.Close()
	}
	return h.host.Close()
}
