// Package vrf implements the verifiable random function that underlies the
// relay lottery's seeded draws (spec.md §4.3). No VRF library appears
// anywhere in the retrieved example pack, so the construction is built from
// the teacher's own crypto stack instead of inventing a dependency: RFC6979
// deterministic ECDSA over secp256k1 (github.com/btcsuite/btcd/btcec/v2,
// already required by the teacher for node and route-blinding keys) gives
// a function that is deterministic in (privkey, message) - satisfying the
// spec's requirement that any observer recompute `selected` from seed and
// weights - while letting a third party verify the signature against the
// public key without recovering the private scalar. This is documented as
// a design decision, not a full zero-knowledge VRF, in DESIGN.md.
package vrf

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Proof is the output of Prove: a deterministic ECDSA signature over the
// input seed, plus the SHA-256 digest of that signature, which is the
// pseudorandom output consumed by the lottery.
type Proof struct {
	Signature []byte
	Output    [32]byte
}

// Prove deterministically derives a proof for seed under sk. Calling Prove
// twice with the same (sk, seed) always yields a bit-identical Proof,
// because secp256k1 ECDSA signing in this stack uses RFC6979 deterministic
// nonces - there is no randomness to make irreproducible.
func Prove(sk *btcec.PrivateKey, seed []byte) (*Proof, error) {
	if sk == nil {
		return nil, fmt.Errorf("vrf: nil private key")
	}

	digest := sha256.Sum256(seed)
	sig := ecdsa.Sign(sk, digest[:])
	sigBytes := sig.Serialize()

	return &Proof{
		Signature: sigBytes,
		Output:    sha256.Sum256(sigBytes),
	}, nil
}

// Verify checks that proof was produced by the holder of pk over seed. It
// recomputes the message digest, parses the embedded signature, verifies it
// against pk, and checks that Output is indeed SHA-256 of the signature -
// guarding against a forged Output field paired with an unrelated
// signature.
func Verify(pk *btcec.PublicKey, seed []byte, proof *Proof) bool {
	if pk == nil || proof == nil {
		return false
	}

	if sha256.Sum256(proof.Signature) != proof.Output {
		return false
	}

	sig, err := ecdsa.ParseDERSignature(proof.Signature)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(seed)

	return sig.Verify(digest[:], pk)
}

// DeriveSub produces a child output by hashing the proof's output together
// with an index, used by the lottery's k-draw to derive k independent
// uniforms from a single VRF proof (spec.md §4.3: "derive k independent
// uniforms by hashing (proof ∥ i)").
func (p *Proof) DeriveSub(i int) [32]byte {
	var buf [36]byte
	copy(buf[:32], p.Output[:])
	buf[32] = byte(i)
	buf[33] = byte(i >> 8)
	buf[34] = byte(i >> 16)
	buf[35] = byte(i >> 24)

	return sha256.Sum256(buf[:])
}
