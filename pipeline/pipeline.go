// Package pipeline is the per-node packet pipeline of spec.md §4.1: a
// fixed worker pool draining a single bounded inbound queue through
// Decode+ReplayCheck -> DelayAssign -> BatchAccumulate -> Forward, with
// every admitted packet producing exactly one terminal event. Its
// worker-pool-over-a-bounded-channel shape is grounded on the teacher's
// htlcswitch.Switch packet-handling loop (htlcswitch/switch.go), adapted
// from HTLC forwarding to generic Sphinx-hop forwarding and generalized
// with the lottery, reputation, delay, batch, and cover subsystems that
// have no teacher equivalent.
package pipeline

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/betanet/relay/batch"
	"github.com/betanet/relay/cover"
	"github.com/betanet/relay/delayinject"
	"github.com/betanet/relay/events"
	"github.com/betanet/relay/lottery"
	"github.com/betanet/relay/pool"
	"github.com/betanet/relay/relayerrs"
	"github.com/betanet/relay/reputation"
	"github.com/betanet/relay/sphinxcore"
)

// Forwarder hands a post-decode packet to the next hop over the wire.
// Implemented by the transport package; kept as a narrow interface here
// so pipeline has no import-time dependency on TCP framing.
type Forwarder interface {
	// Forward sends packet to the relay identified by its Sphinx node
	// public key.
	Forward(nextHop [33]byte, packet []byte) error

	// ForwardCover sends a cover packet to the named relay address, as
	// chosen by the lottery rather than decoded from a Sphinx header.
	ForwardCover(address string, packet []byte) error
}

// LocalSink delivers a packet whose circuit terminates at this node.
type LocalSink interface {
	Deliver(payload []byte)
}

// Config bounds the pipeline's resource usage and batching behavior.
type Config struct {
	// Workers is the fixed number of goroutines draining the inbound
	// queue (spec.md §4.1 default: 4).
	Workers int

	// MaxQueueDepth bounds the inbound channel (spec.md §4.1 default:
	// 10,000). Submit returns QueueFull once it is full.
	MaxQueueDepth int

	MinBatchSize int
	MaxBatchSize int
	MaxBatchAge  time.Duration

	// MaxBatchPending bounds the batch-accumulation stage itself: once
	// this many decoded slots are held in the open batch awaiting a
	// flush trigger, further admissions are dropped with Backpressure
	// rather than grown without limit. This is the stage-local bound
	// spec.md's per-stage queues imply, distinct from MaxQueueDepth's
	// bound on the raw inbound channel.
	MaxBatchPending int

	// PoolSize bounds the slot pool (spec.md §4.7 default: 2x MaxQueueDepth).
	PoolSize int

	// ShutdownDrain is the default grace period Shutdown waits for
	// in-flight packets to reach a terminal event before force-releasing
	// them as Internal drops.
	ShutdownDrain time.Duration

	// CoverInterval is how often the cover-traffic loop polls its
	// generator for an emission decision.
	CoverInterval time.Duration

	// MinRelayPoints is the reputation floor at least one known peer
	// must clear for the cover-traffic loop to send at all; the
	// destination itself is drawn from every relay in the lottery.
	MinRelayPoints float64
}

// DefaultConfig returns spec.md §4.1's stated defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		MaxQueueDepth:   10_000,
		MinBatchSize:    8,
		MaxBatchSize:    128,
		MaxBatchAge:     10 * time.Millisecond,
		MaxBatchPending: 2_048,
		PoolSize:        20_000,
		ShutdownDrain:   5 * time.Second,
		CoverInterval:   50 * time.Millisecond,
		MinRelayPoints:  50,
	}
}

type inboundPacket struct {
	packet     []byte
	sourceAddr string
	arrival    time.Time
}

// Stats is a point-in-time snapshot of spec.md §4.1's stats() operation.
type Stats struct {
	Submitted       uint64
	Forwarded       uint64
	DroppedByReason map[relayerrs.Reason]uint64
	PoolHitRate     float64
	AvgLatencyMs    float64
	P99LatencyMs    float64
}

// the latency window is a bounded ring buffer rather than an exact
// quantile sketch: nothing in the retrieved pack provides a streaming
// quantile/t-digest library, so Stats' p99 is a fixed-capacity sample
// estimate, documented in DESIGN.md as a stdlib fallback.
const latencyWindow = 4096

// Pipeline is the node's packet-processing core.
type Pipeline struct {
	cfg Config
	now func() time.Time

	sphinx *sphinxcore.Processor
	lot    *lottery.Lottery
	rep    *reputation.Engine
	delay  *delayinject.Injector
	cov    *cover.Generator
	slots  *pool.Pool[*Slot]
	sink   events.Sink

	batcher   *batch.Batcher[*Slot]
	batcherMu sync.Mutex

	forwarder Forwarder
	local     LocalSink

	inbound   chan inboundPacket
	admitting atomic.Bool
	quit      chan struct{}
	wg        sync.WaitGroup

	statsMu   sync.Mutex
	submitted uint64
	forwarded uint64
	dropped   map[relayerrs.Reason]uint64
	latencies [latencyWindow]float64
	latCount  int
	latNext   int
}

// New constructs a Pipeline. The sphinx, lot, rep, delay, cov, and slots
// collaborators are started/stopped by the caller (cmd/betanetd owns
// their lifecycle so reputation snapshots can be loaded/saved around it).
func New(cfg Config, sphinxProc *sphinxcore.Processor, lot *lottery.Lottery,
	rep *reputation.Engine, delay *delayinject.Injector, cov *cover.Generator,
	fwd Forwarder, local LocalSink, sink events.Sink, now func() time.Time) *Pipeline {

	if now == nil {
		now = time.Now
	}
	if sink == nil {
		sink = events.Noop
	}

	p := &Pipeline{
		cfg:       cfg,
		now:       now,
		sphinx:    sphinxProc,
		lot:       lot,
		rep:       rep,
		delay:     delay,
		cov:       cov,
		sink:      sink,
		forwarder: fwd,
		local:     local,
		inbound:   make(chan inboundPacket, cfg.MaxQueueDepth),
		quit:      make(chan struct{}),
		dropped:   make(map[relayerrs.Reason]uint64),
	}
	p.slots = pool.New(cfg.PoolSize, func() *Slot { return &Slot{} })
	p.batcher = batch.New[*Slot](cfg.MinBatchSize, cfg.MaxBatchSize, cfg.MaxBatchAge, now)
	p.admitting.Store(true)

	return p
}

// Start launches the worker pool and the cover-traffic loop.
func (p *Pipeline) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.wg.Add(1)
	go p.coverLoop()

	p.wg.Add(1)
	go p.flushLoop()
}

// Submit admits one raw packet into the pipeline. It never blocks: once
// the inbound queue is full, or the pipeline is draining for shutdown, it
// returns a QueueFull drop rather than applying backpressure to the
// caller (spec.md §4.1: "submit ... is non-blocking").
func (p *Pipeline) Submit(packetBytes []byte, sourceAddr string) error {
	if !p.admitting.Load() {
		p.recordDrop(relayerrs.ReasonQueueFull)
		return relayerrs.Drop(relayerrs.ReasonQueueFull, fmt.Errorf("pipeline: draining"))
	}

	cp := make([]byte, len(packetBytes))
	copy(cp, packetBytes)

	select {
	case p.inbound <- inboundPacket{packet: cp, sourceAddr: sourceAddr, arrival: p.now()}:
		p.statsMu.Lock()
		p.submitted++
		p.statsMu.Unlock()
		return nil
	default:
		p.recordDrop(relayerrs.ReasonQueueFull)
		p.sink.EmitEvent(events.Event{
			Kind:      events.KindPacketDropped,
			Timestamp: p.now(),
			Reason:    string(relayerrs.ReasonQueueFull),
			Address:   sourceAddr,
		})
		return relayerrs.Drop(relayerrs.ReasonQueueFull, fmt.Errorf("pipeline: inbound queue full"))
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for {
		select {
		case pkt := <-p.inbound:
			p.process(pkt)
		case <-p.quit:
			// Drain whatever is already queued before exiting, so a
			// Shutdown deadline - not an empty select race - decides
			// how many in-flight packets get force-dropped.
			select {
			case pkt := <-p.inbound:
				p.process(pkt)
			default:
				return
			}
		}
	}
}

// process runs one packet through Decode+ReplayCheck -> DelayAssign ->
// BatchAccumulate. Forward happens out of band, once the batcher
// releases the slot (see flushLoop), so that accumulation can group
// packets that arrived close together regardless of which worker decoded
// them.
func (p *Pipeline) process(pkt inboundPacket) {
	slot := p.slots.Get()
	slot.Packet = append(slot.Packet[:0], pkt.packet...)
	slot.SourceAddr = pkt.sourceAddr
	slot.Arrival = pkt.arrival
	slot.Stage = "decode"

	hop, err := p.sphinx.Process(slot.Packet, nil)
	if err != nil {
		p.finishDrop(slot, pkt.sourceAddr, err)
		return
	}

	slot.Packet = hop.InnerPacket
	slot.Terminal = hop.Terminal
	slot.NextHop = hop.NextHop
	slot.Stage = "delay"

	// No stable circuit identifier is derived from packet contents
	// here: a relay processes one hop at a time with no end-to-end
	// circuit state (spec.md's Non-goals), and the replay tag this
	// packet carries is deliberately unique per packet, never shared
	// across a circuit's cells. set_circuit_multiplier remains a real,
	// callable operation (spec.md §4.5) for an operator or external
	// control plane that tracks its own circuit identifiers; the
	// pipeline itself always draws under the default multiplier.
	delay := p.delay.NextDelay("")
	slot.setDeadline(pkt.arrival.Add(delay))
	slot.Stage = "batch"

	p.cov.Observe(len(slot.Packet), delay)

	p.admitBatch(slot, pkt.sourceAddr)
}

// admitBatch enforces MaxBatchPending, the batch-accumulation stage's
// own high-water mark (spec.md §4.1/§7: downstream queues distinct
// from the inbound channel can themselves be full). Once the open
// batch is at capacity, further slots are dropped with Backpressure
// rather than grown without limit - a different condition from
// Submit's QueueFull, which only ever reflects the raw inbound
// channel.
func (p *Pipeline) admitBatch(slot *Slot, sourceAddr string) {
	p.batcherMu.Lock()
	pending := p.batcher.Pending()
	if pending < p.cfg.MaxBatchPending {
		p.batcher.Submit(slot)
		p.batcherMu.Unlock()
		return
	}
	p.batcherMu.Unlock()

	p.finishDrop(slot, sourceAddr, relayerrs.Drop(relayerrs.ReasonBackpressure,
		fmt.Errorf("pipeline: batch-accumulation stage at capacity (%d pending)", pending)))
}

// flushLoop periodically checks the batcher for a ready batch and drains
// it, independent of which worker happens to be running - batching must
// not be serialized behind a single worker's decode latency.
func (p *Pipeline) flushLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			p.drainReady(now)
		case <-p.quit:
			p.drainReady(p.now())
			return
		}
	}
}

func (p *Pipeline) drainReady(now time.Time) {
	for {
		p.batcherMu.Lock()
		ready, ok := p.batcher.MaybeFlush(now)
		p.batcherMu.Unlock()
		if !ok {
			return
		}
		for _, slot := range ready {
			p.forward(slot)
		}
	}
}

func (p *Pipeline) forward(slot *Slot) {
	latencyMs := float64(p.now().Sub(slot.Arrival)) / float64(time.Millisecond)

	if slot.Terminal {
		p.local.Deliver(slot.Packet)
		p.finishForward(slot, latencyMs)
		return
	}

	if err := p.forwarder.Forward(slot.NextHop, slot.Packet); err != nil {
		p.finishDrop(slot, slot.SourceAddr, relayerrs.Drop(relayerrs.ReasonForwardFailed, err))
		return
	}

	p.finishForward(slot, latencyMs)
}

func (p *Pipeline) finishForward(slot *Slot, latencyMs float64) {
	p.statsMu.Lock()
	p.forwarded++
	p.latencies[p.latNext] = latencyMs
	p.latNext = (p.latNext + 1) % latencyWindow
	if p.latCount < latencyWindow {
		p.latCount++
	}
	p.statsMu.Unlock()

	p.sink.PublishHistogram("forward_latency_ms", latencyMs, nil)
	p.sink.EmitEvent(events.Event{
		Kind:      events.KindPacketForwarded,
		Timestamp: p.now(),
		Address:   slot.SourceAddr,
	})

	if slot.SourceAddr != "" {
		p.rep.Apply(slot.SourceAddr, reputation.SuccessfulTask, 0)
	}

	slot.reset()
	p.slots.Put(slot)
}

func (p *Pipeline) finishDrop(slot *Slot, sourceAddr string, err error) {
	reason := relayerrs.ReasonInternal
	var dropErr *relayerrs.DropError
	if de, ok := err.(*relayerrs.DropError); ok {
		dropErr = de
		reason = de.Reason
	}

	p.recordDrop(reason)

	if dropErr != nil && relayerrs.IsPeerAttributable(dropErr.Reason) && sourceAddr != "" {
		p.rep.Apply(sourceAddr, reputation.TaskFailure, 0)
	}

	p.sink.EmitEvent(events.Event{
		Kind:      events.KindPacketDropped,
		Timestamp: p.now(),
		Reason:    string(reason),
		Address:   sourceAddr,
	})

	slot.reset()
	p.slots.Put(slot)
}

func (p *Pipeline) recordDrop(reason relayerrs.Reason) {
	p.statsMu.Lock()
	p.dropped[reason]++
	p.statsMu.Unlock()
}

// coverLoop periodically asks the cover-traffic generator whether to
// emit, and if so - provided at least one peer clears MinRelayPoints -
// selects a destination via the weighted lottery. The draw covers every
// relay registered with the lottery; it is not restricted to the peers
// clearing MinRelayPoints.
func (p *Pipeline) coverLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.CoverInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			p.maybeSendCover(now)
		case <-p.quit:
			return
		}
	}
}

func (p *Pipeline) maybeSendCover(now time.Time) {
	payload, ok := p.cov.MaybeEmit(now)
	if !ok {
		return
	}

	candidates := p.rep.Candidates(p.cfg.MinRelayPoints)
	if len(candidates) == 0 {
		return
	}

	seed := make([]byte, 8)
	nowNano := now.UnixNano()
	for i := 0; i < 8; i++ {
		seed[i] = byte(nowNano >> (8 * i))
	}

	addr, proof, err := p.lot.Select(seed)
	if err != nil {
		return
	}

	if err := p.forwarder.ForwardCover(addr, payload); err != nil {
		return
	}

	p.sink.EmitEvent(events.Event{
		Kind:      events.KindLotteryDraw,
		Timestamp: now,
		Address:   addr,
		ProofID:   fmt.Sprintf("%x", proof.Seed),
	})
}

// Shutdown stops admitting new packets, waits up to deadline for
// in-flight packets to reach a terminal event, and past the deadline
// counts whatever is still in the inbound queue as dropped with reason
// Internal (spec.md §4.1 shutdown()).
func (p *Pipeline) Shutdown(deadline time.Duration) error {
	if deadline <= 0 {
		deadline = p.cfg.ShutdownDrain
	}

	p.admitting.Store(false)
	close(p.quit)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(deadline):
		forced := p.forceDrainRemaining()
		if forced > 0 {
			log.Warnf("shutdown: force-terminated %d in-flight packets past deadline", forced)
		}
		return fmt.Errorf("pipeline: shutdown deadline exceeded, force-terminated %d packets", forced)
	}
}

func (p *Pipeline) forceDrainRemaining() int {
	n := 0
	for {
		select {
		case pkt := <-p.inbound:
			_ = pkt
			p.recordDrop(relayerrs.ReasonInternal)
			n++
		default:
			return n
		}
	}
}

// Stats returns a point-in-time snapshot of the pipeline's counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	dropped := make(map[relayerrs.Reason]uint64, len(p.dropped))
	for k, v := range p.dropped {
		dropped[k] = v
	}

	avg, p99 := latencyPercentiles(p.latencies[:p.latCount])

	return Stats{
		Submitted:       p.submitted,
		Forwarded:       p.forwarded,
		DroppedByReason: dropped,
		PoolHitRate:     p.slots.HitRate(),
		AvgLatencyMs:    avg,
		P99LatencyMs:    p99,
	}
}

func latencyPercentiles(samples []float64) (avg, p99 float64) {
	if len(samples) == 0 {
		return 0, 0
	}

	cp := make([]float64, len(samples))
	copy(cp, samples)
	sort.Float64s(cp)

	sum := 0.0
	for _, v := range cp {
		sum += v
	}
	avg = sum / float64(len(cp))

	idx := int(math.Ceil(0.99*float64(len(cp)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(cp) {
		idx = len(cp) - 1
	}
	p99 = cp[idx]

	return avg, p99
}

// setDeadline is the package-internal escape hatch pipeline needs since
// Slot's deadline field is unexported (Deadline() is read-only outside
// the package by design - only the pipeline that owns a slot may move
// its deadline).
func (s *Slot) setDeadline(t time.Time) {
	s.deadline = t
}
