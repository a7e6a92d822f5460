package events

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNoopSinkDiscardsEverything(t *testing.T) {
	require.NotPanics(t, func() {
		Noop.PublishCounter("x", 1, nil)
		Noop.PublishHistogram("y", 1, nil)
		Noop.EmitEvent(Event{Kind: KindPacketForwarded})
	})
}

func TestMemorySinkRecordsCountersAndEvents(t *testing.T) {
	m := NewMemorySink()

	m.PublishCounter("forwarded", 1, nil)
	m.PublishCounter("forwarded", 1, nil)
	m.PublishHistogram("latency_ms", 3.5, nil)
	m.EmitEvent(Event{Kind: KindPacketDropped, Reason: "Replay", Timestamp: time.Now()})

	require.Equal(t, 2.0, m.Counter("forwarded"))
	require.Equal(t, []float64{3.5}, m.Histogram("latency_ms"))

	evs := m.Events()
	require.Len(t, evs, 1)
	require.Equal(t, KindPacketDropped, evs[0].Kind)
	require.Equal(t, "Replay", evs[0].Reason)
}

func TestPromSinkRegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPromSink(reg)

	sink.PublishCounter("submitted_total", 1, map[string]string{"reason": "ok"})
	sink.EmitEvent(Event{Kind: KindLotteryDraw, ProofID: "abc"})

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
