package transport

import (
	"fmt"

	"github.com/betanet/relay/relayerrs"
)

// Gateway adapts ConnPool/CoverSender/PeerBook to pipeline.Forwarder,
// the narrow interface the packet pipeline forwards through. Kept in
// its own small file since it is the only piece of transport that
// needs to know about Sphinx node-key addressing (everything else in
// this package deals in plain string addresses).
type Gateway struct {
	peers *PeerBook
	pool  *ConnPool
	cover *CoverSender
}

// NewGateway builds a Gateway over an already-started ConnPool and
// CoverSender.
func NewGateway(peers *PeerBook, pool *ConnPool, cover *CoverSender) *Gateway {
	return &Gateway{peers: peers, pool: pool, cover: cover}
}

// Forward resolves nextHop's node key to its listen address and sends
// packet there. An unresolvable node key is a routing failure, not a
// send failure (spec.md §4.1: "No route for next hop -> Dropped(Unroutable)").
func (g *Gateway) Forward(nextHop [33]byte, packet []byte) error {
	addr, ok := g.peers.Lookup(nextHop)
	if !ok {
		return relayerrs.Drop(relayerrs.ReasonUnroutable,
			fmt.Errorf("transport: no known address for node key %s", HexID(nextHop)))
	}

	return g.pool.Send(addr, packet)
}

// ForwardCover sends a cover packet to address, chosen directly by the
// lottery rather than decoded from a Sphinx header, so no PeerBook
// lookup is needed.
func (g *Gateway) ForwardCover(address string, packet []byte) error {
	return g.cover.Send(address, packet)
}
