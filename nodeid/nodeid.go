// Package nodeid derives a relay node's long-term Sphinx and VRF key pairs
// from a single on-disk seed, per spec.md §6 ("--node-key PATH ... MUST be
// a deterministic seed from which both Sphinx and VRF keys are derived").
//
// The split into two independent scalars via HKDF, each then used to derive
// a secp256k1 key pair, follows the teacher's keychain.SingleKeyRouter idea
// (keychain/router.go) of deriving every role's key from a single
// underlying secret. Unlike that file, Keys exposes the seed and both
// derived private keys directly as exported fields.
package nodeid

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/hkdf"
)

const (
	sphinxInfo = "betanet-sphinx-key-v1"
	vrfInfo    = "betanet-vrf-key-v1"
	seedLen    = 32
)

// Keys holds a relay's derived long-term key material. SphinxKey unwraps
// Sphinx packet layers; VRFKey drives the relay lottery's verifiable draws.
// Both are derived from the same Seed so that a single --node-key file is
// the node's entire durable identity.
type Keys struct {
	Seed      [seedLen]byte
	SphinxKey *btcec.PrivateKey
	VRFKey    *btcec.PrivateKey
}

// Derive builds the node's Sphinx and VRF key pairs from a 32-byte seed.
// The seed is read once at startup (spec.md §6 --node-key) and never
// otherwise touches the network or disk.
func Derive(seed [seedLen]byte) (*Keys, error) {
	sphinxScalar, err := deriveScalar(seed, sphinxInfo)
	if err != nil {
		return nil, fmt.Errorf("derive sphinx key: %w", err)
	}

	vrfScalar, err := deriveScalar(seed, vrfInfo)
	if err != nil {
		return nil, fmt.Errorf("derive vrf key: %w", err)
	}

	return &Keys{
		Seed:      seed,
		SphinxKey: sphinxScalar,
		VRFKey:    vrfScalar,
	}, nil
}

// deriveScalar runs HKDF-SHA256 over the seed with a domain-separating info
// string, rejecting sampling until the result is a valid non-zero scalar
// modulo the secp256k1 group order (the standard rejection-sampling
// approach for mapping arbitrary bytes into a private scalar).
func deriveScalar(seed [seedLen]byte, info string) (*btcec.PrivateKey, error) {
	kdf := hkdf.New(sha256.New, seed[:], nil, []byte(info))

	for attempt := 0; attempt < 16; attempt++ {
		var buf [32]byte
		if _, err := io.ReadFull(kdf, buf[:]); err != nil {
			return nil, err
		}

		var modN btcec.ModNScalar
		overflowed := modN.SetBytes((*[32]byte)(&buf))
		if overflowed == 0 && !modN.IsZero() {
			priv := btcec.NewPrivateKey(&modN)
			return priv, nil
		}
	}

	return nil, fmt.Errorf("nodeid: failed to derive scalar for %q "+
		"after 16 attempts", info)
}

// NodeKeyFromBytes loads a 32-byte seed from raw bytes (e.g. the contents
// of the --node-key file), enforcing the expected length.
func NodeKeyFromBytes(b []byte) ([seedLen]byte, error) {
	var seed [seedLen]byte

	if len(b) != seedLen {
		return seed, fmt.Errorf("nodeid: expected %d byte seed, "+
			"got %d", seedLen, len(b))
	}

	copy(seed[:], b)

	return seed, nil
}
