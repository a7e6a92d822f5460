// Package batch implements the adaptive batcher of spec.md §4.6:
// groups released packet slots for joint forward, sized by load and a
// pluggable strategy. No teacher file batches anything analogous
// (lnd's batch package batches database writes, not network packets,
// and was not part of the retrieved subset), so the sizing formulas
// come directly from spec.md §4.6; the tagged-variant strategy
// encoding follows spec.md §9 ("the delay injector, batcher strategy,
// and cover-traffic mode are tagged variants").
package batch

import (
	"sync"
	"time"
)

// Strategy selects how target batch size responds to load.
type Strategy int

const (
	FIFO Strategy = iota
	LoadBased
	Balanced
	MinLatency
	MaxThroughput
)

// Deadliner is anything a Batcher can hold: a slot with an assigned
// forward deadline.
type Deadliner interface {
	Deadline() time.Time
}

// Trigger names why a batch was flushed, used for Stats' per-trigger
// counters.
type Trigger string

const (
	TriggerSize     Trigger = "size"
	TriggerDeadline Trigger = "deadline"
	TriggerAge      Trigger = "age"
)

// Stats is the batcher's snapshot (spec.md §4.6).
type Stats struct {
	AvgBatchSize     float64
	FlushesByTrigger map[Trigger]int
}

// Batcher accumulates slots of type T into bounded-latency batches.
type Batcher[T Deadliner] struct {
	mu sync.Mutex

	strategy    Strategy
	minSize     int
	maxSize     int
	maxBatchAge time.Duration
	load        float64

	open      []T
	openSince time.Time

	now func() time.Time

	flushesByTrigger map[Trigger]int
	totalFlushed     int
	totalSlots       int
}

// New creates a Batcher. minSize/maxSize bound target batch size;
// maxBatchAge is the hard upper bound on how long a slot can wait in
// an open batch before it is flushed regardless of size.
func New[T Deadliner](minSize, maxSize int, maxBatchAge time.Duration, now func() time.Time) *Batcher[T] {
	if now == nil {
		now = time.Now
	}

	return &Batcher[T]{
		strategy:         FIFO,
		minSize:          minSize,
		maxSize:          maxSize,
		maxBatchAge:      maxBatchAge,
		now:              now,
		flushesByTrigger: make(map[Trigger]int),
	}
}

// SetStrategy changes the active sizing strategy.
func (b *Batcher[T]) SetStrategy(s Strategy) {
	b.mu.Lock()
	b.strategy = s
	b.mu.Unlock()
}

// SetLoad updates the load estimate in [0,1] used by LoadBased and
// Balanced sizing.
func (b *Batcher[T]) SetLoad(load float64) {
	if load < 0 {
		load = 0
	}
	if load > 1 {
		load = 1
	}

	b.mu.Lock()
	b.load = load
	b.mu.Unlock()
}

// targetSize computes the current target batch size per spec.md
// §4.6's sizing table. Caller must hold the lock.
func (b *Batcher[T]) targetSize() int {
	switch b.strategy {
	case MinLatency:
		return b.minSize
	case MaxThroughput:
		return b.maxSize
	case LoadBased:
		span := float64(b.maxSize - b.minSize)
		return b.minSize + int(span*b.load*b.load)
	case Balanced:
		// Linear interpolation between min and max over load in
		// [0.3, 0.7], clamped outside that band.
		l := b.load
		if l < 0.3 {
			l = 0.3
		}
		if l > 0.7 {
			l = 0.7
		}
		frac := (l - 0.3) / 0.4
		span := float64(b.maxSize - b.minSize)
		return b.minSize + int(span*frac)
	default: // FIFO
		return b.maxSize
	}
}

// Pending reports how many slots are currently held in the open
// batch, awaiting a flush trigger. Callers use this to enforce a
// high-water mark on the batch-accumulation stage itself, distinct
// from whatever bounds the queue feeding Submit.
func (b *Batcher[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.open)
}

// Submit adds slot to the open batch, starting a new open batch if
// none is in progress.
func (b *Batcher[T]) Submit(slot T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.open) == 0 {
		b.openSince = b.now()
	}
	b.open = append(b.open, slot)
}

// MaybeFlush flushes the open batch if any of spec.md §4.6's three
// triggers holds: size reached target, the oldest slot's deadline has
// arrived, or the batch has aged past maxBatchAge. Returns the flushed
// slots and true, or (nil, false) if nothing was flushed.
func (b *Batcher[T]) MaybeFlush(now time.Time) ([]T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.open) == 0 {
		return nil, false
	}

	target := b.targetSize()

	var trigger Trigger
	switch {
	case len(b.open) >= target:
		trigger = TriggerSize
	case !b.open[0].Deadline().After(now):
		trigger = TriggerDeadline
	case b.maxBatchAge > 0 && now.Sub(b.openSince) >= b.maxBatchAge:
		trigger = TriggerAge
	default:
		return nil, false
	}

	flushed := b.open
	b.open = nil

	b.flushesByTrigger[trigger]++
	b.totalFlushed++
	b.totalSlots += len(flushed)

	log.Debugf("flushed batch of %d slots (trigger=%v)", len(flushed), trigger)

	return flushed, true
}

// Stats returns the batcher's running statistics.
func (b *Batcher[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	avg := 0.0
	if b.totalFlushed > 0 {
		avg = float64(b.totalSlots) / float64(b.totalFlushed)
	}

	byTrigger := make(map[Trigger]int, len(b.flushesByTrigger))
	for k, v := range b.flushesByTrigger {
		byTrigger[k] = v
	}

	return Stats{AvgBatchSize: avg, FlushesByTrigger: byTrigger}
}
