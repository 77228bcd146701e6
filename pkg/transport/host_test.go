package transport

import (
	"log"
	"testing"
)

func TestParseBootstrapPeersSkipsInvalidEntries(t *testing.T) {
	addrs := []string{
		"/ip4/203.0.113.5/tcp/4001/p2p/QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N",
		"not a multiaddr at all",
		"/ip4/203.0.113.6/tcp/4001", // valid multiaddr, missing /p2p/<id>
	}

	got := ParseBootstrapPeers(addrs, log.Default())

	if len(got) != 1 {
		t.Fatalf("expected 1 parsed bootstrap peer, got %d: %+v", len(got), got)
	}
	if len(got[0].Addrs) == 0 {
		t.Fatalf("expected parsed peer to retain its listen address")
	}
}

func TestParseBootstrapPeersEmptyInput(t *testing.T) {
	got := ParseBootstrapPeers(nil, nil)
	if len(got) != 0 {
		t.Fatalf("expected no peers from empty input, got %d", len(got))
	}
}
