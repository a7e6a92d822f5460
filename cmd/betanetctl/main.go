// Command betanetctl is a manual exercise tool for a running betanetd
// node: it builds a Sphinx test packet addressed to a chosen route and
// sends it over a framed TCP connection, for the end-to-end scenarios
// of spec.md §8. It is a supplement beyond spec.md proper, recovered
// from the teacher's own "send an onion packet from the CLI" command
// (cmd/lncli/cmd_send_onion.go), generalized from an HTLC-carrying
// onion to a bare BetaNet cell and re-based on go-flags rather than
// urfave/cli to stay consistent with this module's one CLI dependency.
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/jessevdk/go-flags"

	"github.com/betanet/relay/sphinxcore"
	"github.com/betanet/relay/transport"
)

// opts are the flags betanetctl accepts. Each --hop is a node's
// compressed secp256k1 public key in hex; the last hop is the
// circuit's exit and receives payload as its inner cell.
type opts struct {
	Dial    string        `long:"dial" description:"host:port of the relay to send the packet to" required:"true"`
	Hop     []string      `long:"hop" description:"hex-encoded compressed pubkey of a hop, in order; repeat for multiple hops" required:"true"`
	Payload string        `long:"payload" description:"payload to deliver at the exit hop" default:"betanetctl test cell"`
	Timeout time.Duration `long:"timeout" description:"dial and write timeout" default:"5s"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var o opts
	if _, err := flags.Parse(&o); err != nil {
		return 1
	}

	route, err := decodeRoute(o.Hop)
	if err != nil {
		fmt.Fprintln(os.Stderr, "betanetctl:", err)
		return 1
	}

	sessionKey, err := btcec.NewPrivateKey()
	if err != nil {
		fmt.Fprintln(os.Stderr, "betanetctl: generating session key:", err)
		return 1
	}

	packet, err := sphinxcore.BuildTestPacket(route, sessionKey, []byte(o.Payload), nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "betanetctl:", err)
		return 1
	}

	conn, err := net.DialTimeout("tcp", o.Dial, o.Timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "betanetctl: dial:", err)
		return 1
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(o.Timeout))

	if err := transport.WriteFrame(conn, packet); err != nil {
		fmt.Fprintln(os.Stderr, "betanetctl: send:", err)
		return 1
	}

	fmt.Printf("sent %d-byte test packet over a %d-hop route to %s\n",
		len(packet), len(route), o.Dial)
	return 0
}

func decodeRoute(hops []string) ([]*btcec.PublicKey, error) {
	route := make([]*btcec.PublicKey, len(hops))
	for i, h := range hops {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}

		pub, err := btcec.ParsePubKey(b)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}

		route[i] = pub
	}
	return route, nil
}
