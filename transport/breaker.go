package transport

import (
	"sync"
	"time"
)

// breakerThreshold is the consecutive-failure count that trips a
// destination's circuit breaker (spec.md §4.8/§7: "Five consecutive
// ForwardFailed to one destination opens a 30 s circuit breaker for
// that destination only").
const breakerThreshold = 5

// breakerCooldown is how long a tripped breaker stays open before the
// next Forward to that destination is allowed to try again.
const breakerCooldown = 30 * time.Second

// breaker is a per-destination consecutive-failure circuit breaker, a
// mutex-guarded counter plus deadline in the shape of healthcheck's retry
// accounting (healthcheck/healthcheck.go's retryCheck), generalized from
// a fixed attempt budget to an open-ended trip/cool-off cycle.
type breaker struct {
	mu          sync.Mutex
	consecutive int
	openUntil   time.Time
}

// allow reports whether a send to this destination may proceed right
// now, given now.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return now.After(b.openUntil) || now.Equal(b.openUntil)
}

// recordSuccess resets the consecutive-failure count.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
}

// recordFailure increments the consecutive-failure count and trips the
// breaker once it reaches breakerThreshold.
func (b *breaker) recordFailure(now time.Time) (tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	if b.consecutive >= breakerThreshold {
		b.openUntil = now.Add(breakerCooldown)
		b.consecutive = 0
		return true
	}
	return false
}
