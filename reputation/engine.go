package reputation

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/betanet/relay/fn"
)

// shardCount is the number of independent lock shards keyed by address
// hash (spec.md §5: "single-writer per address via sharded locks keyed by
// address hash"). A power of two keeps the modulo a cheap mask.
const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	records map[string]*NodeReputation
}

// Engine is the in-process reputation system of spec.md §4.4. It has no
// dependencies of its own (per spec.md §2's control-flow ordering,
// "Reputation engine has no dependencies") and is shared by reference with
// the lottery.
type Engine struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// New creates an empty reputation engine. now is supplied as a closure
// (rather than calling time.Now directly) so that decay and age
// calculations are deterministic in tests - the same pattern the teacher
// uses for chanfitness's event log.
func New(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}

	e := &Engine{now: now}
	for i := range e.shards {
		e.shards[i] = &shard{records: make(map[string]*NodeReputation)}
	}

	return e
}

func (e *Engine) shardFor(address string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(address))
	return e.shards[h.Sum32()%shardCount]
}

// Observe registers a peer on first sight. Idempotent: observing an
// already-known peer is a no-op.
func (e *Engine) Observe(address string, stake uint64) {
	s := e.shardFor(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[address]; ok {
		return
	}

	now := e.now()
	s.records[address] = &NodeReputation{
		Address:    address,
		Points:     BasePoints,
		Stake:      stake,
		LastActive: now,
		CreatedAt:  now,
	}

	log.Debugf("observed new peer %v with stake %v", address, stake)
}

// Apply records an action against a peer, clamping points to [0,200]. An
// action against an unseen peer auto-observes it with stake 0 first
// (spec.md §4.4 failure semantics), since actions on unseen peers still
// matter for later selection decisions.
func (e *Engine) Apply(address string, action Action, customDelta float64) {
	e.Observe(address, 0)

	s := e.shardFor(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[address]

	delta := customDelta
	if action != Custom {
		delta = actionDelta[action]
	}

	rec.Points = clampPoints(rec.Points + delta)
	rec.LastActive = e.now()

	switch {
	case delta > 0:
		rec.History.SuccessfulTasks++
	case delta < 0:
		rec.History.FailedTasks++
	}

	log.Debugf("applied %v (delta=%.2f) to %v -> points=%.2f",
		action, delta, address, rec.Points)
}

// DecayAll applies idleness decay to every peer whose last_active predates
// now: points *= 0.99^days_inactive, where days_inactive is allowed to be
// fractional. Decay is incremental - each call decays only the time since
// the peer's recorded last_active and then advances last_active to now -
// which is what makes decay monotone under repeated calls (spec.md §8 law):
// decay_all(t1); decay_all(t2) == decay_all(t2) applied once, up to
// floating-point tolerance, because 0.99^d1 * 0.99^(d2-d1) == 0.99^d2.
func (e *Engine) DecayAll(now time.Time) {
	for _, s := range e.shards {
		s.mu.Lock()
		for _, rec := range s.records {
			if !rec.LastActive.Before(now) {
				continue
			}

			days := now.Sub(rec.LastActive).Hours() / 24
			if days <= 0 {
				continue
			}

			rec.Points = clampPoints(rec.Points * math.Pow(decayRate, days))
			rec.LastActive = now
			rec.History.DecayEvents++
			rec.History.LastDecayAt = now
		}
		s.mu.Unlock()
	}
}

// Get returns a copy of the peer's reputation record, or None if unknown.
func (e *Engine) Get(address string) fn.Option[NodeReputation] {
	s := e.shardFor(address)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[address]
	if !ok {
		return fn.None[NodeReputation]()
	}

	return fn.Some(*rec)
}

// Candidate is one entry of Candidates' result: an address and its
// normalized reputation score in [0,1].
type Candidate struct {
	Address string
	Score   float64
}

// Candidates returns every peer whose points are >= minPoints, normalized.
func (e *Engine) Candidates(minPoints float64) []Candidate {
	var out []Candidate

	for _, s := range e.shards {
		s.mu.RLock()
		for _, rec := range s.records {
			if rec.Points >= minPoints {
				out = append(out, Candidate{
					Address: rec.Address,
					Score:   rec.Normalized(),
				})
			}
		}
		s.mu.RUnlock()
	}

	return out
}

// CostOfForgery returns the scalar cost of impersonating address, per
// spec.md §4.4: ln(max(stake,1)) * max(points/100, 0.1) *
// (1 + min(age_days,365)/365) * (1 + success_ratio). Unknown peers have
// cost 0 (nothing staked, nothing built).
func (e *Engine) CostOfForgery(address string) float64 {
	opt := e.Get(address)
	if opt.IsNone() {
		return 0
	}

	rec := opt.UnwrapOr(NodeReputation{})

	ageDays := e.now().Sub(rec.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	ageFactor := 1 + math.Min(ageDays, 365)/365

	total := rec.History.SuccessfulTasks + rec.History.FailedTasks
	successRatio := 0.0
	if total > 0 {
		successRatio = float64(rec.History.SuccessfulTasks) / float64(total)
	}

	stake := rec.Stake
	if stake < 1 {
		stake = 1
	}

	return math.Log(float64(stake)) *
		math.Max(rec.Points/100, 0.1) *
		ageFactor *
		(1 + successRatio)
}
