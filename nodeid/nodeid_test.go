package nodeid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func seedFromString(s string) [seedLen]byte {
	var seed [seedLen]byte
	copy(seed[:], s)
	return seed
}

func TestDeriveIsDeterministic(t *testing.T) {
	seed := seedFromString("01234567890123456789012345678901")

	k1, err := Derive(seed)
	require.NoError(t, err)
	k2, err := Derive(seed)
	require.NoError(t, err)

	require.Equal(t, k1.SphinxKey.Serialize(), k2.SphinxKey.Serialize())
	require.Equal(t, k1.VRFKey.Serialize(), k2.VRFKey.Serialize())
}

func TestDeriveProducesDistinctKeys(t *testing.T) {
	seed := seedFromString("01234567890123456789012345678901")

	k, err := Derive(seed)
	require.NoError(t, err)

	require.NotEqual(t, k.SphinxKey.Serialize(), k.VRFKey.Serialize())
}

func TestDeriveDiffersBySeed(t *testing.T) {
	k1, err := Derive(seedFromString("01234567890123456789012345678901"))
	require.NoError(t, err)
	k2, err := Derive(seedFromString("99999999999999999999999999999999"))
	require.NoError(t, err)

	require.NotEqual(t, k1.SphinxKey.Serialize(), k2.SphinxKey.Serialize())
	require.NotEqual(t, k1.VRFKey.Serialize(), k2.VRFKey.Serialize())
}

func TestNodeKeyFromBytesRejectsWrongLength(t *testing.T) {
	_, err := NodeKeyFromBytes(make([]byte, 16))
	require.Error(t, err)

	_, err = NodeKeyFromBytes(make([]byte, 32))
	require.NoError(t, err)
}
