// Package sphinxcore peels one onion layer per packet (spec.md §4.2),
// wrapping github.com/lightningnetwork/lightning-onion's Router rather
// than reimplementing Sphinx. The teacher (carlaKC-lnd) drives the same
// library from htlcswitch/hop/iterator.go's OnionProcessor, but that
// file is inextricable from HTLC/TLV payment concerns (lnwire, record,
// tlv) that have no home in a generic mix relay - so this package is a
// fresh, much thinner wrapper grounded on the library's own public API
// (Router.ProcessOnionPacket / ProcessedPacket.{Action,NextHop,Packet})
// as evidenced by mraksoll4-lightning-onion/sphinx_test.go, plus the
// replay-log hookup shown in iterator.go's error-code switch.
package sphinxcore

import (
	"bytes"
	"fmt"

	sphinx "github.com/lightningnetwork/lightning-onion"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/betanet/relay/nodeid"
	"github.com/betanet/relay/relayerrs"
	"github.com/betanet/relay/replay"
)

// MaxSupportedVersion is the highest Sphinx header version this build
// understands. spec.md §9 Open Questions: "expose a version byte in the
// Sphinx header reserved region and reject unknown versions with
// Malformed."
const MaxSupportedVersion = 2

// minHeaderSize is the minimum byte length a Sphinx packet can have;
// anything shorter can't possibly hold a version byte and a header.
const minHeaderSize = 66

// VersionSet is a runtime-configurable bitset of accepted Sphinx header
// version bytes (spec.md §9 Open Question: "expose a version byte ...
// and reject unknown versions with Malformed"). This replaces the
// teacher's lncfg/protocol_experimental_{on,off}.go compile-time
// build-tag feature flag - considered and rejected in DESIGN.md, since
// a running relay needs to widen or narrow its accepted version set
// without a rebuild - with a value config can construct from a flag or
// environment override and hand to New.
type VersionSet uint64

// DefaultVersionSet accepts every version up to MaxSupportedVersion,
// the set this build's Sphinx parameters understand.
func DefaultVersionSet() VersionSet {
	var v VersionSet
	for i := byte(0); i <= MaxSupportedVersion; i++ {
		v |= 1 << i
	}
	return v
}

// NewVersionSet builds a VersionSet accepting exactly the given
// version bytes (each must be < 64).
func NewVersionSet(versions ...byte) VersionSet {
	var v VersionSet
	for _, b := range versions {
		if b < 64 {
			v |= 1 << b
		}
	}
	return v
}

// Accepts reports whether version b is in the set.
func (v VersionSet) Accepts(b byte) bool {
	if b >= 64 {
		return false
	}
	return v&(1<<b) != 0
}

// Hop is the processor's output for one layer (spec.md §3 SphinxHop).
type Hop struct {
	// Terminal is true when this node is the circuit's exit.
	Terminal bool

	// NextHop is the forwarding address, valid only when !Terminal.
	NextHop [33]byte

	// InnerPacket is the packet to forward (or, if Terminal, the
	// plaintext to deliver locally).
	InnerPacket []byte

	// ReplayTag is the tag this layer was checked and recorded under.
	ReplayTag replay.Tag
}

// Processor unwraps one Sphinx layer per call. It owns the node's
// replay cache (spec.md §5: "replay cache: owned by the Sphinx
// processor").
type Processor struct {
	router   *sphinx.Router
	replays  *replay.Cache
	versions VersionSet
}

// New constructs a Processor for a node whose long-term Sphinx key is
// keys.SphinxKey. versions is the accepted Sphinx header version set;
// the zero value falls back to DefaultVersionSet(). The replay cache's
// eviction loop is started immediately and must be stopped via Stop.
func New(keys *nodeid.Keys, netParams *chaincfg.Params, versions VersionSet) (*Processor, error) {
	if keys == nil || keys.SphinxKey == nil {
		return nil, relayerrs.Fatal(relayerrs.ExitKeyOrCrypto,
			fmt.Errorf("sphinxcore: nil node key"))
	}

	ecdh := sphinx.NewPrivKeyECDH(keys.SphinxKey)
	replayLog := sphinx.NewMemoryReplayLog()

	router := sphinx.NewRouter(ecdh, netParams, replayLog)
	if err := router.Start(); err != nil {
		return nil, relayerrs.Fatal(relayerrs.ExitKeyOrCrypto,
			fmt.Errorf("sphinxcore: starting router: %w", err))
	}

	cache := replay.New(replay.DefaultWindow, nil)
	if err := cache.Start(); err != nil {
		router.Stop()
		return nil, relayerrs.Fatal(relayerrs.ExitKeyOrCrypto, err)
	}

	return &Processor{router: router, replays: cache, versions: versions}, nil
}

// Stop releases the processor's background resources: the replay
// cache's eviction loop and the underlying sphinx router.
func (p *Processor) Stop() error {
	if err := p.replays.Stop(); err != nil {
		return err
	}
	p.router.Stop()
	return nil
}

// Process peels one Sphinx layer from packetBytes, using assocData as
// the authenticated-but-not-encrypted context the library binds the
// MAC to; it must equal the associated data the packet was built with
// (the pipeline passes nil, as BuildTestPacket's callers do). It returns a relayerrs.DropError with the correct packet-local
// reason on every failure path named by spec.md §4.2.
func (p *Processor) Process(packetBytes []byte, assocData []byte) (*Hop, error) {
	if len(packetBytes) < minHeaderSize {
		return nil, relayerrs.Drop(relayerrs.ReasonMalformed,
			fmt.Errorf("sphinxcore: packet too short: %d bytes",
				len(packetBytes)))
	}

	versions := p.versions
	if versions == 0 {
		versions = DefaultVersionSet()
	}

	version := packetBytes[0]
	if !versions.Accepts(version) {
		return nil, relayerrs.Drop(relayerrs.ReasonMalformed,
			fmt.Errorf("sphinxcore: unsupported version byte %d",
				version))
	}

	onionPkt := &sphinx.OnionPacket{}
	if err := onionPkt.Decode(bytes.NewReader(packetBytes)); err != nil {
		return nil, relayerrs.Drop(relayerrs.ReasonMalformed, err)
	}

	processed, err := p.router.ProcessOnionPacket(onionPkt, assocData)
	if err != nil {
		switch err {
		case sphinx.ErrInvalidOnionVersion, sphinx.ErrInvalidOnionKey:
			return nil, relayerrs.Drop(relayerrs.ReasonMalformed, err)
		case sphinx.ErrInvalidOnionHMAC:
			return nil, relayerrs.Drop(relayerrs.ReasonAuthFailure, err)
		case sphinx.ErrReplayedPacket:
			return nil, relayerrs.Drop(relayerrs.ReasonReplay, err)
		default:
			return nil, relayerrs.Drop(relayerrs.ReasonMalformed, err)
		}
	}

	tag := deriveReplayTag(onionPkt)
	if !p.replays.CheckAndInsert(tag) {
		return nil, relayerrs.Drop(relayerrs.ReasonReplay,
			fmt.Errorf("sphinxcore: duplicate replay tag"))
	}

	hop := &Hop{ReplayTag: tag}

	switch processed.Action {
	case sphinx.ExitNode:
		hop.Terminal = true
		hop.InnerPacket = processed.Payload
	case sphinx.MoreHops:
		hop.Terminal = false
		copy(hop.NextHop[:], processed.NextHop[:])

		var buf bytes.Buffer
		if err := processed.NextPacket.Encode(&buf); err != nil {
			return nil, relayerrs.Drop(relayerrs.ReasonMalformed, err)
		}
		hop.InnerPacket = buf.Bytes()
	default:
		return nil, relayerrs.Drop(relayerrs.ReasonMalformed,
			fmt.Errorf("sphinxcore: unknown processed action %v",
				processed.Action))
	}

	return hop, nil
}

// deriveReplayTag derives a 32-byte replay identifier from the onion
// packet's ephemeral public key, which is unique per constructed
// circuit and stable across the honest processing of a given packet -
// exactly the property spec.md §4.2 requires ("derive ... a replay
// tag").
func deriveReplayTag(pkt *sphinx.OnionPacket) replay.Tag {
	var tag replay.Tag

	ephemeral := pkt.EphemeralKey.SerializeCompressed()
	copy(tag[:], ephemeral)

	if len(ephemeral) > len(tag) {
		// Compressed secp256k1 points are 33 bytes; fold the last
		// byte in rather than truncate it away silently.
		tag[len(tag)-1] ^= ephemeral[len(tag)]
	}

	return tag
}
