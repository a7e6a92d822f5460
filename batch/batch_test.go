package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testSlot struct {
	id       int
	deadline time.Time
}

func (s testSlot) Deadline() time.Time { return s.deadline }

func TestMaybeFlushBySize(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New[testSlot](1, 4, time.Hour, func() time.Time { return now })
	b.SetStrategy(MaxThroughput) // target = maxSize = 4

	far := now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		b.Submit(testSlot{id: i, deadline: far})
		_, flushed := b.MaybeFlush(now)
		require.False(t, flushed)
	}

	b.Submit(testSlot{id: 3, deadline: far})
	slots, flushed := b.MaybeFlush(now)
	require.True(t, flushed)
	require.Len(t, slots, 4)

	stats := b.Stats()
	require.Equal(t, 1, stats.FlushesByTrigger[TriggerSize])
}

func TestMaybeFlushByDeadline(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New[testSlot](10, 20, time.Hour, func() time.Time { return now })
	b.SetStrategy(MaxThroughput)

	b.Submit(testSlot{id: 1, deadline: now.Add(-time.Second)})

	slots, flushed := b.MaybeFlush(now)
	require.True(t, flushed)
	require.Len(t, slots, 1)

	stats := b.Stats()
	require.Equal(t, 1, stats.FlushesByTrigger[TriggerDeadline])
}

func TestMaybeFlushByAge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New[testSlot](10, 20, 5*time.Second, func() time.Time { return now })
	b.SetStrategy(MaxThroughput)

	far := now.Add(time.Hour)
	b.Submit(testSlot{id: 1, deadline: far})

	_, flushed := b.MaybeFlush(now)
	require.False(t, flushed)

	_, flushed = b.MaybeFlush(now.Add(6 * time.Second))
	require.True(t, flushed)

	stats := b.Stats()
	require.Equal(t, 1, stats.FlushesByTrigger[TriggerAge])
}

func TestLoadBasedSizing(t *testing.T) {
	now := time.Now
	b := New[testSlot](10, 110, time.Hour, now)
	b.SetStrategy(LoadBased)

	b.SetLoad(0)
	require.Equal(t, 10, b.targetSize())

	b.SetLoad(1)
	require.Equal(t, 110, b.targetSize())

	b.SetLoad(0.5)
	require.Equal(t, 10+int(100*0.25), b.targetSize())
}

func TestBalancedSizingClampsToBand(t *testing.T) {
	b := New[testSlot](0, 100, time.Hour, nil)
	b.SetStrategy(Balanced)

	b.SetLoad(0)
	require.Equal(t, 0, b.targetSize())

	b.SetLoad(1)
	require.Equal(t, 100, b.targetSize())

	b.SetLoad(0.5)
	require.Equal(t, 50, b.targetSize())
}

func TestMinLatencyAndMaxThroughputForceExtremes(t *testing.T) {
	b := New[testSlot](5, 50, time.Hour, nil)

	b.SetStrategy(MinLatency)
	b.SetLoad(1)
	require.Equal(t, 5, b.targetSize())

	b.SetStrategy(MaxThroughput)
	b.SetLoad(0)
	require.Equal(t, 50, b.targetSize())
}
