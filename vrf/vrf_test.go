package vrf

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestProveIsDeterministic(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	seed := []byte("relay-lottery-epoch-42")

	p1, err := Prove(sk, seed)
	require.NoError(t, err)
	p2, err := Prove(sk, seed)
	require.NoError(t, err)

	require.Equal(t, p1.Signature, p2.Signature)
	require.Equal(t, p1.Output, p2.Output)
}

func TestProveDiffersBySeed(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	p1, err := Prove(sk, []byte("seed-a"))
	require.NoError(t, err)
	p2, err := Prove(sk, []byte("seed-b"))
	require.NoError(t, err)

	require.NotEqual(t, p1.Output, p2.Output)
}

func TestVerifyAcceptsGenuineProof(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	seed := []byte("relay-lottery-epoch-42")
	proof, err := Prove(sk, seed)
	require.NoError(t, err)

	require.True(t, Verify(sk.PubKey(), seed, proof))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	seed := []byte("relay-lottery-epoch-42")
	proof, err := Prove(sk, seed)
	require.NoError(t, err)

	require.False(t, Verify(other.PubKey(), seed, proof))
}

func TestVerifyRejectsTamperedOutput(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	seed := []byte("relay-lottery-epoch-42")
	proof, err := Prove(sk, seed)
	require.NoError(t, err)

	proof.Output[0] ^= 0xff

	require.False(t, Verify(sk.PubKey(), seed, proof))
}

func TestVerifyRejectsWrongSeed(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	proof, err := Prove(sk, []byte("seed-a"))
	require.NoError(t, err)

	require.False(t, Verify(sk.PubKey(), []byte("seed-b"), proof))
}

func TestDeriveSubIsDistinctPerIndex(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	proof, err := Prove(sk, []byte("epoch-seed"))
	require.NoError(t, err)

	seen := make(map[[32]byte]bool)
	for i := 0; i < 8; i++ {
		out := proof.DeriveSub(i)
		require.False(t, seen[out], "collision at index %d", i)
		seen[out] = true
	}
}

func TestDeriveSubIsDeterministic(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	proof, err := Prove(sk, []byte("epoch-seed"))
	require.NoError(t, err)

	require.Equal(t, proof.DeriveSub(3), proof.DeriveSub(3))
}
