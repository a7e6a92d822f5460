package transport

import (
	"encoding/hex"
	"sync"
)

// PeerBook resolves a Sphinx node public key (spec.md §3 SphinxHop's
// next_hop) to the TCP address that key's relay listens on. Sphinx
// itself only ever carries the 33-byte compressed pubkey - it has no
// notion of host:port - so a relay needs this table to turn a decoded
// next-hop key into something Dial can use. Populated from the static
// relay list in config.Config (spec.md's process inputs don't define a
// discovery protocol, so peers are configured, not gossiped).
type PeerBook struct {
	mu   sync.RWMutex
	byID map[[33]byte]string
}

// NewPeerBook creates an empty PeerBook.
func NewPeerBook() *PeerBook {
	return &PeerBook{byID: make(map[[33]byte]string)}
}

// Set registers the address a peer's node key listens on.
func (b *PeerBook) Set(nodeKey [33]byte, address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byID[nodeKey] = address
}

// Lookup resolves a node key to its dial address.
func (b *PeerBook) Lookup(nodeKey [33]byte) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	addr, ok := b.byID[nodeKey]
	return addr, ok
}

// HexID renders a node key the way config/log identifiers present it.
func HexID(nodeKey [33]byte) string {
	return hex.EncodeToString(nodeKey[:])
}
