package sphinxcore

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	sphinx "github.com/lightningnetwork/lightning-onion"
)

// hopPayloadSize is the fixed per-hop payload size cmd/betanetctl uses
// when hand-building a test packet; real traffic's payload shape is
// whatever the originating client encodes, since sphinxcore only
// peels layers and never interprets payload contents.
const hopPayloadSize = 64

// BuildTestPacket constructs a wire-ready Sphinx packet routed through
// route (in hop order) carrying payload as the innermost (exit node's)
// payload, for cmd/betanetctl's manual end-to-end exercise of spec.md
// §8's scenarios. This is grounded on mraksoll4-lightning-onion's
// sphinx_test.go newTestRoute helper, which is the only place in the
// retrieved pack that drives sphinx.NewOnionPacket directly.
func BuildTestPacket(route []*btcec.PublicKey, sessionKey *btcec.PrivateKey, payload []byte, assocData []byte) ([]byte, error) {
	if len(route) == 0 {
		return nil, fmt.Errorf("sphinxcore: empty route")
	}

	hopPayloads := make([][]byte, len(route))
	for i := range route {
		buf := make([]byte, hopPayloadSize)
		if i == len(route)-1 {
			copy(buf, payload)
		}
		hopPayloads[i] = buf
	}

	pkt, err := sphinx.NewOnionPacket(route, sessionKey, hopPayloads, assocData)
	if err != nil {
		return nil, fmt.Errorf("sphinxcore: building test packet: %w", err)
	}

	var out bytes.Buffer
	if err := pkt.Encode(&out); err != nil {
		return nil, fmt.Errorf("sphinxcore: encoding test packet: %w", err)
	}

	return out.Bytes(), nil
}
