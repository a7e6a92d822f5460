// Package cover implements the cover-traffic generator of spec.md
// §4.7: dummy packets statistically indistinguishable from real
// traffic, bounded by a bandwidth overhead cap. Like delayinject, this
// is novel engineering per spec.md §1 with no teacher analog, so the
// running-statistics-plus-tagged-mode shape is built directly from
// spec.md §4.7/§9 ("the delay injector, batcher strategy, and
// cover-traffic mode are tagged variants").
package cover

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Mode selects the cover-traffic emission pattern.
type Mode int

const (
	Constant Mode = iota
	Adaptive
	Burst
)

// DefaultMaxOverhead is the default bandwidth cap: cover_bytes must
// stay at or below this fraction of real_bytes (spec.md §4.7).
const DefaultMaxOverhead = 0.05

// runningStats tracks mean/variance incrementally via Welford's
// algorithm, avoiding storing the full sample history.
type runningStats struct {
	n    int
	mean float64
	m2   float64
}

func (s *runningStats) observe(x float64) {
	s.n++
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	delta2 := x - s.mean
	s.m2 += delta * delta2
}

func (s *runningStats) stddev() float64 {
	if s.n < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.n))
}

// coefficientOfVariation returns σ/μ, 0 if μ is 0 or there's no data.
func (s *runningStats) coefficientOfVariation() float64 {
	if s.n == 0 || s.mean == 0 {
		return 0
	}
	return s.stddev() / s.mean
}

// Generator emits cover packets shaped to match observed real traffic.
type Generator struct {
	mu sync.Mutex

	mode        Mode
	maxOverhead float64

	realBytes  uint64
	coverBytes uint64

	realSize     runningStats
	realInterval runningStats

	coverSize     runningStats
	coverInterval runningStats

	lastEmit time.Time
	nextEmit time.Time
	haveEmit bool

	burstRemaining int

	rng *rand.Rand
}

// New creates a Generator in the given mode. seed makes emission
// decisions reproducible in tests.
func New(mode Mode, seed int64) *Generator {
	return &Generator{
		mode:        mode,
		maxOverhead: DefaultMaxOverhead,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// SetMaxOverhead overrides the default overhead cap.
func (g *Generator) SetMaxOverhead(cap float64) {
	g.mu.Lock()
	g.maxOverhead = cap
	g.mu.Unlock()
}

// SetMode changes the active emission pattern.
func (g *Generator) SetMode(mode Mode) {
	g.mu.Lock()
	g.mode = mode
	g.mu.Unlock()
}

// Observe updates the generator's running statistics with one real
// packet's size and the interval since the previous real packet.
func (g *Generator) Observe(realSize int, realInterval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.realBytes += uint64(realSize)
	g.realSize.observe(float64(realSize))
	if realInterval > 0 {
		g.realInterval.observe(realInterval.Seconds())
	}
}

// MaybeEmit returns a cover packet's bytes iff the active mode
// dictates emission at now and the overhead budget allows it.
func (g *Generator) MaybeEmit(now time.Time) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.shouldEmitLocked(now) {
		return nil, false
	}

	size := g.sampleSizeLocked()
	if size <= 0 {
		return nil, false
	}

	projected := g.coverBytes + uint64(size)
	if g.realBytes > 0 && float64(projected)/float64(g.realBytes) > g.maxOverhead {
		return nil, false
	}

	if g.haveEmit {
		g.coverInterval.observe(now.Sub(g.lastEmit).Seconds())
	}
	g.coverSize.observe(float64(size))
	g.coverBytes += uint64(size)
	g.lastEmit = now
	g.haveEmit = true

	log.Debugf("emitted %d-byte cover packet (mode=%v)", size, g.mode)

	return make([]byte, size), true
}

// shouldEmitLocked decides whether the active mode wants an emission
// at now. Caller must hold the lock.
func (g *Generator) shouldEmitLocked(now time.Time) bool {
	meanInterval := g.realInterval.mean
	if meanInterval <= 0 {
		meanInterval = 0.5 // 500ms default before any real traffic seen
	}

	switch g.mode {
	case Constant:
		if !g.haveEmit {
			return true
		}
		return now.Sub(g.lastEmit).Seconds() >= meanInterval

	case Adaptive:
		if g.nextEmit.IsZero() {
			g.nextEmit = now.Add(sampleExponential(g.rng, meanInterval))
			return false
		}
		if now.Before(g.nextEmit) {
			return false
		}
		g.nextEmit = now.Add(sampleExponential(g.rng, meanInterval))
		return true

	case Burst:
		if g.burstRemaining > 0 {
			g.burstRemaining--
			return true
		}
		// 5% chance per call of starting a new burst of 3-7 packets.
		if g.rng.Float64() < 0.05 {
			g.burstRemaining = 2 + g.rng.Intn(5)
			return true
		}
		return false

	default:
		return false
	}
}

// sampleSizeLocked draws a cover packet size from a normal
// distribution around the observed real packet size, floored at a
// minimum cell size. Caller must hold the lock.
func (g *Generator) sampleSizeLocked() int {
	mean := g.realSize.mean
	if mean <= 0 {
		mean = 512
	}
	std := g.realSize.stddev()

	size := int(mean + g.rng.NormFloat64()*std)
	if size < 64 {
		size = 64
	}
	return size
}

// sampleExponential draws Exponential(1/mean) via inverse-CDF sampling.
func sampleExponential(rng *rand.Rand, mean float64) time.Duration {
	u := rng.Float64()
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	seconds := -math.Log(u) * mean
	return time.Duration(seconds * float64(time.Second))
}

// SimilarityToReal returns the indistinguishability score of spec.md
// §4.7: 1.0 means cover traffic's size and interval coefficients of
// variation exactly match real traffic's.
func (g *Generator) SimilarityToReal() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	sizeSim := cvSimilarity(g.realSize.coefficientOfVariation(),
		g.coverSize.coefficientOfVariation())
	intervalSim := cvSimilarity(g.realInterval.coefficientOfVariation(),
		g.coverInterval.coefficientOfVariation())

	return 0.6*sizeSim + 0.4*intervalSim
}

func cvSimilarity(real, cover float64) float64 {
	sum := real + cover
	if sum == 0 {
		return 1
	}
	return 1 - math.Abs(real-cover)/sum
}

// OverheadRatio returns cover_bytes/real_bytes, the quantity the
// max-overhead cap bounds.
func (g *Generator) OverheadRatio() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.realBytes == 0 {
		return 0
	}
	return float64(g.coverBytes) / float64(g.realBytes)
}
