package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// LoadRelayPeers reads the JSON relay-peer list at path. A blank path
// is not an error - a node may start with an empty candidate set and
// be populated later, e.g. in tests.
func LoadRelayPeers(path string) ([]RelayPeer, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading relay peers: %w", err)
	}

	var peers []RelayPeer
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil, fmt.Errorf("config: parsing relay peers: %w", err)
	}

	return peers, nil
}

// DecodeNodeKey parses a RelayPeer's hex-encoded node key into the
// 33-byte compressed form Sphinx and the transport PeerBook use.
func DecodeNodeKey(hexKey string) ([33]byte, error) {
	var out [33]byte

	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return out, fmt.Errorf("config: decoding node key: %w", err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("config: node key must be %d bytes, got %d", len(out), len(b))
	}

	copy(out[:], b)
	return out, nil
}
