package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/betanet/relay/events"
	"github.com/betanet/relay/relayerrs"
	"github.com/betanet/relay/reputation"
)

type fakeForwarder struct {
	mu          sync.Mutex
	forwardErr  error
	lastNextHop [33]byte
	forwardN    int
	coverN      int
	lastAddr    string
}

func (f *fakeForwarder) Forward(nextHop [33]byte, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastNextHop = nextHop
	f.forwardN++
	return f.forwardErr
}

func (f *fakeForwarder) ForwardCover(address string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAddr = address
	f.coverN++
	return nil
}

type fakeLocalSink struct {
	mu        sync.Mutex
	delivered [][]byte
}

func (f *fakeLocalSink) Deliver(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, payload)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestPipeline(t *testing.T, cfg Config, fwd Forwarder, local LocalSink, sink events.Sink, now func() time.Time) *Pipeline {
	t.Helper()
	rep := reputation.New(now)
	return New(cfg, nil, nil, rep, nil, nil, fwd, local, sink, now)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueueDepth = 2
	fwd := &fakeForwarder{}
	local := &fakeLocalSink{}
	pl := newTestPipeline(t, cfg, fwd, local, events.NewMemorySink(), fixedClock(time.Now()))

	require.NoError(t, pl.Submit([]byte("a"), "peer1"))
	require.NoError(t, pl.Submit([]byte("b"), "peer1"))

	err := pl.Submit([]byte("c"), "peer1")
	require.Error(t, err)

	var dropErr *relayerrs.DropError
	require.ErrorAs(t, err, &dropErr)
	require.Equal(t, relayerrs.ReasonQueueFull, dropErr.Reason)

	stats := pl.Stats()
	require.EqualValues(t, 2, stats.Submitted)
	require.EqualValues(t, 1, stats.DroppedByReason[relayerrs.ReasonQueueFull])
}

func TestAdmitBatchRejectsWithBackpressureWhenBatchFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBatchPending = 1
	fwd := &fakeForwarder{}
	local := &fakeLocalSink{}
	pl := newTestPipeline(t, cfg, fwd, local, events.NewMemorySink(), fixedClock(time.Now()))

	first := pl.slots.Get()
	first.Packet = []byte("already-open")
	pl.admitBatch(first, "peer1")

	second := pl.slots.Get()
	second.Packet = []byte("over-capacity")
	pl.admitBatch(second, "peer1")

	stats := pl.Stats()
	require.EqualValues(t, 1, stats.DroppedByReason[relayerrs.ReasonBackpressure])
	require.Zero(t, stats.DroppedByReason[relayerrs.ReasonQueueFull])
	require.Equal(t, 1, pl.batcher.Pending())
}

func TestSubmitRejectsOnceDraining(t *testing.T) {
	cfg := DefaultConfig()
	fwd := &fakeForwarder{}
	local := &fakeLocalSink{}
	pl := newTestPipeline(t, cfg, fwd, local, events.NewMemorySink(), fixedClock(time.Now()))

	require.NoError(t, pl.Shutdown(time.Second))

	err := pl.Submit([]byte("a"), "peer1")
	require.Error(t, err)

	var dropErr *relayerrs.DropError
	require.ErrorAs(t, err, &dropErr)
	require.Equal(t, relayerrs.ReasonQueueFull, dropErr.Reason)
}

func TestForwardTerminalSlotDeliversLocally(t *testing.T) {
	now := time.Now()
	fwd := &fakeForwarder{}
	local := &fakeLocalSink{}
	pl := newTestPipeline(t, DefaultConfig(), fwd, local, events.NewMemorySink(), fixedClock(now))

	slot := pl.slots.Get()
	slot.Packet = []byte("exit-payload")
	slot.Terminal = true
	slot.Arrival = now.Add(-5 * time.Millisecond)

	pl.forward(slot)

	require.Len(t, local.delivered, 1)
	require.Equal(t, []byte("exit-payload"), local.delivered[0])
	require.Zero(t, fwd.forwardN)

	stats := pl.Stats()
	require.EqualValues(t, 1, stats.Forwarded)
}

func TestForwardNonTerminalSlotUsesNextHop(t *testing.T) {
	now := time.Now()
	fwd := &fakeForwarder{}
	local := &fakeLocalSink{}
	pl := newTestPipeline(t, DefaultConfig(), fwd, local, events.NewMemorySink(), fixedClock(now))

	slot := pl.slots.Get()
	slot.Packet = []byte("forwarded-payload")
	slot.Terminal = false
	slot.NextHop = [33]byte{1, 2, 3}
	slot.Arrival = now

	pl.forward(slot)

	require.EqualValues(t, 1, fwd.forwardN)
	require.Equal(t, [33]byte{1, 2, 3}, fwd.lastNextHop)
	require.Empty(t, local.delivered)
}

func TestForwardFailureDropsAndPenalizesSourcePeer(t *testing.T) {
	now := time.Now()
	fwd := &fakeForwarder{forwardErr: errors.New("connection reset")}
	local := &fakeLocalSink{}
	pl := newTestPipeline(t, DefaultConfig(), fwd, local, events.NewMemorySink(), fixedClock(now))

	slot := pl.slots.Get()
	slot.Packet = []byte("p")
	slot.Terminal = false
	slot.SourceAddr = "peer1"
	slot.Arrival = now

	pl.forward(slot)

	stats := pl.Stats()
	require.EqualValues(t, 1, stats.DroppedByReason[relayerrs.ReasonForwardFailed])
	require.Zero(t, stats.Forwarded)

	rec := pl.rep.Get("peer1")
	require.True(t, rec.IsSome())
	require.Less(t, rec.UnwrapOr(reputation.NodeReputation{}).Points, reputation.BasePoints)
}

func TestLatencyPercentilesComputesAvgAndP99(t *testing.T) {
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i + 1)
	}

	avg, p99 := latencyPercentiles(samples)
	require.InDelta(t, 50.5, avg, 0.01)
	require.InDelta(t, 99, p99, 0.01)
}

func TestLatencyPercentilesEmptyIsZero(t *testing.T) {
	avg, p99 := latencyPercentiles(nil)
	require.Zero(t, avg)
	require.Zero(t, p99)
}
