package delayinject

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextDelayRespectsBounds(t *testing.T) {
	inj := New(1)
	inj.minDelay = 10 * time.Millisecond
	inj.maxDelay = 20 * time.Millisecond

	for i := 0; i < 1000; i++ {
		d := inj.NextDelay("")
		require.GreaterOrEqual(t, d, inj.minDelay)
		require.LessOrEqual(t, d, inj.maxDelay)
	}
}

func TestSetLoadIncreasesMeanDelay(t *testing.T) {
	inj := New(7)
	inj.SetJitter(0) // isolate the load effect from jitter noise

	inj.SetLoad(0)
	var lowSum time.Duration
	const n = 2000
	for i := 0; i < n; i++ {
		lowSum += inj.NextDelay("")
	}

	inj.SetLoad(1)
	var highSum time.Duration
	for i := 0; i < n; i++ {
		highSum += inj.NextDelay("")
	}

	require.Greater(t, highSum, lowSum)
}

func TestCircuitMultiplierScalesDelay(t *testing.T) {
	inj := New(11)
	inj.SetJitter(0)
	inj.SetCircuitMultiplier("slow-circuit", 5)

	var baseSum, scaledSum time.Duration
	const n = 2000
	for i := 0; i < n; i++ {
		baseSum += inj.NextDelay("")
		scaledSum += inj.NextDelay("slow-circuit")
	}

	require.Greater(t, scaledSum, baseSum)
}

// TestDelayDistributionFitsExponential checks that N=10,000 samples
// with mean=200ms pass a χ² goodness-of-fit test against
// Exponential(λ_eff) at p>0.05. The bounds are widened to [0, 10s] and
// jitter is disabled so that clamping does not distort the tail bins;
// we use 10 equal-probability bins (df=9, critical value 16.92 at
// p=0.05).
func TestDelayDistributionFitsExponential(t *testing.T) {
	inj := New(99)
	inj.minDelay = 0
	inj.maxDelay = 10 * time.Second
	inj.SetJitter(0)

	const n = 10000
	const bins = 10
	meanSeconds := inj.mean.Seconds()
	lambda := 1 / meanSeconds

	samples := make([]float64, n)
	for i := range samples {
		samples[i] = inj.NextDelay("").Seconds()
	}

	// Equal-probability bins under Exponential(lambda): bin edges at
	// -ln(1 - i/bins)/lambda for i=0..bins.
	counts := make([]int, bins)
	for _, s := range samples {
		p := 1 - math.Exp(-lambda*s)
		idx := int(p * bins)
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}

	expected := float64(n) / float64(bins)
	var chiSq float64
	for _, c := range counts {
		diff := float64(c) - expected
		chiSq += diff * diff / expected
	}

	// df = bins-1 = 9, critical value at p=0.05 is 16.919.
	require.Less(t, chiSq, 16.919, "chi-square too high: %v (counts=%v)",
		chiSq, counts)
}

// TestEntropyExceedsTwoBits checks spec.md §4.5's diagnostic contract:
// Shannon entropy over 20 bins must exceed 2.0 bits/sample at steady
// state.
func TestEntropyExceedsTwoBits(t *testing.T) {
	inj := New(123)

	entropy := inj.EntropyOver(10000, 20)
	require.Greater(t, entropy, 2.0)
}
