package lottery

import (
	"math/rand"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestCombinedWeightFloor(t *testing.T) {
	r := Relay{Address: "dead", Reputation: 0, Performance: 0, Stake: 0}
	require.Equal(t, minWeight, combinedWeight(r))
}

func TestCombinedWeightFormula(t *testing.T) {
	r := Relay{Address: "a", Reputation: 1, Performance: 1, Stake: 1}
	// ln(max(1,1))/20 = 0
	require.InDelta(t, 0.8, combinedWeight(r), 1e-9)
}

// TestWeightedDrawFairness verifies the χ² fairness property of
// spec.md §8: over N=10,000 draws with weights [0.5, 0.3, 0.2],
// empirical frequencies pass χ² at p>0.05 (critical value for df=2,
// p=0.05 is 5.991).
func TestWeightedDrawFairness(t *testing.T) {
	idx := &weightIndex{
		addrs:  []string{"a", "b", "c"},
		prefix: []float64{0.5, 0.8, 1.0},
		total:  1.0,
	}

	const n = 10000
	counts := map[string]int{}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < n; i++ {
		u := rng.Float64() * idx.total
		counts[idx.pick(u)]++
	}

	expected := map[string]float64{"a": 0.5 * n, "b": 0.3 * n, "c": 0.2 * n}

	var chiSq float64
	for addr, exp := range expected {
		obs := float64(counts[addr])
		chiSq += (obs - exp) * (obs - exp) / exp
	}

	require.Less(t, chiSq, 5.991, "chi-square statistic too high: %v (counts=%v)",
		chiSq, counts)
}

func TestSelectIsDeterministicAndVerifiable(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	l := New(sk, func() time.Time { return time.Unix(0, 0) })
	l.AddRelay(Relay{Address: "relay-a", Reputation: 1, Performance: 1, Stake: 100})
	l.AddRelay(Relay{Address: "relay-b", Reputation: 0.5, Performance: 0.5, Stake: 10})
	l.AddRelay(Relay{Address: "relay-c", Reputation: 0.2, Performance: 0.2, Stake: 1})

	addr1, proof1, err := l.Select([]byte("epoch_42"))
	require.NoError(t, err)

	addr2, proof2, err := l.Select([]byte("epoch_42"))
	require.NoError(t, err)

	require.Equal(t, addr1, addr2)
	require.Equal(t, proof1.VRFProof.Signature, proof2.VRFProof.Signature)

	addrs := []string{"relay-a", "relay-b", "relay-c"}
	require.True(t, Verify(proof1, sk.PubKey(), addrs))

	proof1.VRFProof.Output[0] ^= 0xff
	require.False(t, Verify(proof1, sk.PubKey(), addrs))
}

func TestSelectKReturnsDistinctAddresses(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	l := New(sk, nil)
	for i := 0; i < 5; i++ {
		l.AddRelay(Relay{
			Address:     string(rune('a' + i)),
			Reputation:  1,
			Performance: 1,
			Stake:       uint64(i + 1),
		})
	}

	picked, _, err := l.SelectK([]byte("seed"), 3)
	require.NoError(t, err)
	require.Len(t, picked, 3)

	seen := map[string]bool{}
	for _, addr := range picked {
		require.False(t, seen[addr])
		seen[addr] = true
	}
}

func TestSelectNoCandidatesError(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	l := New(sk, nil)
	_, _, err = l.Select([]byte("seed"))
	require.Error(t, err)
}

// TestCostOfForgeryThresholds fixes the numerical expectations of
// spec.md §8: ordering across 10%/33%/50% attacker stake, with the 33%
// result at or above the prohibitive threshold of 1.0.
func TestCostOfForgeryThresholds(t *testing.T) {
	const total = uint64(1_000_000)

	cost10 := CostOfForgery(total/10, total)
	cost33 := CostOfForgery((total*33)/100, total)
	cost50 := CostOfForgery(total/2, total)

	require.Less(t, cost10, cost33)
	require.Less(t, cost33, cost50)
	require.GreaterOrEqual(t, cost33, 1.0)
}
