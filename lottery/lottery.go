// Package lottery implements the VRF-driven weighted relay lottery of
// spec.md §4.3: a verifiable, seeded draw over a candidate set whose
// weights come from reputation and stake. It has no file-level
// teacher analog - the teacher's routing code picks hops from a
// pathfinding graph search, not a single-draw weighted lottery - so
// its shape is built from spec.md §4.3/§5 directly: a copy-on-write
// weighted-prefix-sum index (spec.md §5: "relay table: copy-on-write
// snapshot for draws; updates rebuild the prefix-sum index lazily"),
// and the vrf package (built for this spec) for the verifiable draw
// itself.
package lottery

import (
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/betanet/relay/relayerrs"
	"github.com/betanet/relay/vrf"
)

// minWeight is the floor applied to every relay's combined weight, so
// that no eligible relay ever has strictly zero selection probability
// (spec.md §4.3).
const minWeight = 0.01

// Relay is a known forwarding candidate (spec.md §3).
type Relay struct {
	Address     string
	Reputation  float64 // in [0,1]
	Performance float64 // in [0,1]
	Stake       uint64
}

// combinedWeight implements spec.md §4.3's weighting formula.
func combinedWeight(r Relay) float64 {
	stakeTerm := math.Log(math.Max(float64(r.Stake), 1)) / 20
	if stakeTerm > 1 {
		stakeTerm = 1
	}
	if stakeTerm < 0 {
		stakeTerm = 0
	}

	w := 0.5*r.Reputation + 0.3*r.Performance + 0.2*stakeTerm
	if w < minWeight {
		w = minWeight
	}
	return w
}

// weightIndex is the lazily-rebuilt weighted prefix-sum snapshot drawn
// against (spec.md §5 copy-on-write relay table).
type weightIndex struct {
	addrs  []string
	prefix []float64
	total  float64
}

// pick returns the address whose prefix-sum bucket contains u, a value
// in [0, idx.total).
func (idx *weightIndex) pick(u float64) string {
	n := len(idx.prefix)
	i := sort.Search(n, func(i int) bool { return idx.prefix[i] > u })
	if i >= n {
		i = n - 1
	}
	return idx.addrs[i]
}

// Proof is the lottery's verifiable draw record (spec.md §3
// LotteryProof).
type Proof struct {
	Seed            []byte
	VRFProof        *vrf.Proof
	Selected        []string
	WeightsSnapshot []float64
	Timestamp       time.Time
}

// Lottery selects relays using VRF-seeded weighted draws. Safe for
// concurrent use: weight mutation takes a write lock and marks the
// index dirty; draws take a read lock to snapshot the (possibly
// rebuilt) index, so an in-flight draw never observes a partially
// updated relay.
type Lottery struct {
	mu     sync.RWMutex
	relays map[string]*Relay
	idx    *weightIndex
	dirty  bool

	vrfKey *btcec.PrivateKey
	now    func() time.Time
}

// New creates a lottery that proves draws under vrfKey.
func New(vrfKey *btcec.PrivateKey, now func() time.Time) *Lottery {
	if now == nil {
		now = time.Now
	}

	return &Lottery{
		relays: make(map[string]*Relay),
		dirty:  true,
		vrfKey: vrfKey,
		now:    now,
	}
}

// AddRelay registers or replaces a candidate relay.
func (l *Lottery) AddRelay(r Relay) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := r
	l.relays[r.Address] = &cp
	l.dirty = true
}

// RemoveRelay deregisters a candidate. No-op if unknown.
func (l *Lottery) RemoveRelay(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.relays, address)
	l.dirty = true
}

// UpdateWeight refreshes a known relay's reputation and performance
// inputs. No-op if the relay isn't registered.
func (l *Lottery) UpdateWeight(address string, reputation, performance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.relays[address]
	if !ok {
		return
	}

	r.Reputation = reputation
	r.Performance = performance
	l.dirty = true
}

// snapshot returns the current weight index, rebuilding it first if
// dirty. It takes the lock itself (a read lock, upgraded to the write
// lock when rebuildIndexLocked must run), so callers must not hold it.
func (l *Lottery) snapshot() *weightIndex {
	l.mu.RLock()
	if !l.dirty {
		idx := l.idx
		l.mu.RUnlock()
		return idx
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dirty {
		l.rebuildIndexLocked()
	}
	return l.idx
}

// rebuildIndexLocked rebuilds the weighted prefix-sum index. Caller
// must hold the write lock.
func (l *Lottery) rebuildIndexLocked() {
	addrs := make([]string, 0, len(l.relays))
	for addr := range l.relays {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	prefix := make([]float64, len(addrs))
	var total float64
	for i, addr := range addrs {
		total += combinedWeight(*l.relays[addr])
		prefix[i] = total
	}

	l.idx = &weightIndex{addrs: addrs, prefix: prefix, total: total}
	l.dirty = false
}

// uniformFrom256 maps a 32-byte VRF sub-output onto [0, total) using
// big.Int division rather than truncating to a machine word, so the
// full entropy of the output participates in the draw.
func uniformFrom256(bits [32]byte, total float64) float64 {
	if total <= 0 {
		return 0
	}

	n := new(big.Int).SetBytes(bits[:])
	max := new(big.Int).Lsh(big.NewInt(1), 256)

	f := new(big.Float).Quo(
		new(big.Float).SetInt(n),
		new(big.Float).SetInt(max),
	)

	frac, _ := f.Float64()
	if frac >= 1 {
		frac = math.Nextafter(1, 0)
	}

	return frac * total
}

// Select performs a single-relay draw (spec.md §4.3).
func (l *Lottery) Select(seed []byte) (string, *Proof, error) {
	idx := l.snapshot()
	if len(idx.addrs) == 0 || idx.total <= 0 {
		return "", nil, relayerrs.Drop(relayerrs.ReasonUnroutable,
			errNoCandidates)
	}

	vrfProof, err := vrf.Prove(l.vrfKey, seed)
	if err != nil {
		return "", nil, relayerrs.Fatal(relayerrs.ExitKeyOrCrypto, err)
	}

	u := uniformFrom256(vrfProof.DeriveSub(0), idx.total)
	selected := idx.pick(u)

	proof := &Proof{
		Seed:            seed,
		VRFProof:        vrfProof,
		Selected:        []string{selected},
		WeightsSnapshot: append([]float64(nil), idx.prefix...),
		Timestamp:       l.now(),
	}

	return selected, proof, nil
}

// SelectK draws k distinct relays without replacement (spec.md §4.3):
// k independent uniforms are derived by hashing (proof ∥ i); a
// collision with an already-selected address is resolved by deriving
// further sub-outputs, capped to avoid spinning forever on a candidate
// set smaller than k.
func (l *Lottery) SelectK(seed []byte, k int) ([]string, *Proof, error) {
	idx := l.snapshot()
	if len(idx.addrs) == 0 || idx.total <= 0 {
		return nil, nil, relayerrs.Drop(relayerrs.ReasonUnroutable,
			errNoCandidates)
	}
	if k > len(idx.addrs) {
		return nil, nil, relayerrs.Drop(relayerrs.ReasonUnroutable,
			errNoCandidates)
	}

	vrfProof, err := vrf.Prove(l.vrfKey, seed)
	if err != nil {
		return nil, nil, relayerrs.Fatal(relayerrs.ExitKeyOrCrypto, err)
	}

	picked := make([]string, 0, k)
	taken := make(map[string]bool, k)

	const maxAttemptsPerDraw = 64
	for i := 0; i < k; i++ {
		found := false
		for attempt := 0; attempt < maxAttemptsPerDraw; attempt++ {
			subIdx := i + attempt*k
			u := uniformFrom256(vrfProof.DeriveSub(subIdx), idx.total)
			addr := idx.pick(u)
			if taken[addr] {
				continue
			}
			taken[addr] = true
			picked = append(picked, addr)
			found = true
			break
		}
		if !found {
			return nil, nil, relayerrs.Drop(relayerrs.ReasonUnroutable,
				errNoCandidates)
		}
	}

	proof := &Proof{
		Seed:            seed,
		VRFProof:        vrfProof,
		Selected:        picked,
		WeightsSnapshot: append([]float64(nil), idx.prefix...),
		Timestamp:       l.now(),
	}

	return picked, proof, nil
}

// Verify checks that proof's selection is reproducible from seed and
// the weights snapshot it carries, under pk (spec.md §4.3 Verification
// and §8's verify-iff-produced-it law). addrs may be given in any
// order: Verify sorts a copy ascending, as Lottery.rebuildIndexLocked
// does, so that WeightsSnapshot's i'th prefix sum lines up with the
// i'th sorted address.
func Verify(proof *Proof, pk *btcec.PublicKey, addrs []string) bool {
	if proof == nil || pk == nil || len(proof.Selected) == 0 {
		return false
	}

	if !vrf.Verify(pk, proof.Seed, proof.VRFProof) {
		return false
	}

	if len(addrs) != len(proof.WeightsSnapshot) {
		return false
	}

	sorted := append([]string(nil), addrs...)
	sort.Strings(sorted)

	idx := &weightIndex{
		addrs:  sorted,
		prefix: proof.WeightsSnapshot,
	}
	if len(idx.prefix) > 0 {
		idx.total = idx.prefix[len(idx.prefix)-1]
	}

	taken := make(map[string]bool, len(proof.Selected))
	const maxAttemptsPerDraw = 64

	for i := range proof.Selected {
		found := false
		for attempt := 0; attempt < maxAttemptsPerDraw; attempt++ {
			subIdx := i + attempt*len(proof.Selected)
			u := uniformFrom256(proof.VRFProof.DeriveSub(subIdx), idx.total)
			addr := idx.pick(u)
			if taken[addr] {
				continue
			}
			taken[addr] = true
			if addr != proof.Selected[i] {
				return false
			}
			found = true
			break
		}
		if !found {
			return false
		}
	}

	return true
}

// CostOfForgery returns the Sybil-resistance scalar of spec.md §4.3:
// below the 33% stake threshold it is simply the attacker's stake
// fraction; at or above it, it is 1/(1-fraction), which rises sharply
// past 33% and diverges as fraction approaches 1.
func CostOfForgery(attackerStake, totalStake uint64) float64 {
	if totalStake == 0 {
		return 0
	}

	fraction := float64(attackerStake) / float64(totalStake)
	if fraction < 0.33 {
		return fraction
	}

	if fraction > 0.999999 {
		fraction = 0.999999
	}
	return 1 / (1 - fraction)
}

var errNoCandidates = relayerrsNoCandidates{}

// relayerrsNoCandidates is a sentinel error distinguishing "no
// eligible relay" from a generic unroutable drop, per spec.md §4.3
// failure semantics ("empty relay set -> NoCandidates").
type relayerrsNoCandidates struct{}

func (relayerrsNoCandidates) Error() string { return "lottery: no candidates" }
