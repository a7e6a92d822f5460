package reputation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyClampsPoints(t *testing.T) {
	e := New(func() time.Time { return time.Unix(0, 0) })

	e.Observe("peer-a", 10)
	for i := 0; i < 20; i++ {
		e.Apply("peer-a", HighQualityService, 0)
	}

	rec := e.Get("peer-a").UnwrapOrFail(t)
	require.Equal(t, MaxPoints, rec.Points)

	for i := 0; i < 20; i++ {
		e.Apply("peer-a", MaliciousBehavior, 0)
	}

	rec = e.Get("peer-a").UnwrapOrFail(t)
	require.Equal(t, MinPoints, rec.Points)
}

func TestApplyOnUnknownPeerAutoObserves(t *testing.T) {
	e := New(nil)

	e.Apply("stranger", TaskFailure, 0)

	rec := e.Get("stranger").UnwrapOrFail(t)
	require.Equal(t, BasePoints-15, rec.Points)
	require.Equal(t, uint64(0), rec.Stake)
}

func TestDecayMatchesSpecExample(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base

	e := New(func() time.Time { return now })
	e.Observe("peer-a", 100)

	// Force last_active back 10 days, matching spec.md §8 scenario 5.
	rec := e.Get("peer-a").UnwrapOrFail(t)
	s := e.shardFor("peer-a")
	s.records["peer-a"].Points = 100
	s.records["peer-a"].LastActive = base.Add(-10 * 24 * time.Hour)
	_ = rec

	e.DecayAll(now)

	got := e.Get("peer-a").UnwrapOrFail(t)
	want := 100 * math.Pow(0.99, 10)
	require.InDelta(t, want, got.Points, 0.01)
	require.Equal(t, 1, got.History.DecayEvents)
}

func TestDecayIsMonotoneUnderRepeatedCalls(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	run := func(callTimes []time.Time) float64 {
		now := base
		e := New(func() time.Time { return now })
		e.Observe("peer-a", 100)
		s := e.shardFor("peer-a")
		s.records["peer-a"].Points = 150
		s.records["peer-a"].LastActive = base

		for _, t2 := range callTimes {
			now = t2
			e.DecayAll(t2)
		}

		return e.Get("peer-a").UnwrapOr(NodeReputation{}).Points
	}

	t1 := base.Add(3 * 24 * time.Hour)
	t2 := base.Add(7 * 24 * time.Hour)

	incremental := run([]time.Time{t1, t2})
	single := run([]time.Time{t2})

	require.InDelta(t, single, incremental, 1e-9)
}

func TestCostOfForgeryOrdering(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := New(func() time.Time { return now })

	const total = uint64(1_000_000)

	e.Observe("low", total/10)
	e.Observe("mid", (total*33)/100)
	e.Observe("high", total/2)

	for _, addr := range []string{"low", "mid", "high"} {
		s := e.shardFor(addr)
		s.records[addr].CreatedAt = now.Add(-400 * 24 * time.Hour)
		s.records[addr].History.SuccessfulTasks = 10
	}

	low := e.CostOfForgery("low")
	mid := e.CostOfForgery("mid")
	high := e.CostOfForgery("high")

	require.Less(t, low, mid)
	require.Less(t, mid, high)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := New(func() time.Time { return now })

	e.Observe("peer-a", 5)
	e.Apply("peer-a", SuccessfulTask, 0)
	e.Observe("peer-b", 500)
	e.Apply("peer-b", MaliciousBehavior, 0)

	data, err := e.Save()
	require.NoError(t, err)

	loaded := New(func() time.Time { return now })
	require.NoError(t, loaded.Load(data))

	var before, after []NodeReputation
	for _, a := range []string{"peer-a", "peer-b"} {
		before = append(before, e.Get(a).UnwrapOrFail(t))
		after = append(after, loaded.Get(a).UnwrapOrFail(t))
	}

	diffs := Diff(before, after)
	require.Empty(t, diffs)
}

func TestLoadCorruptSnapshot(t *testing.T) {
	e := New(nil)
	err := e.Load([]byte("{not json"))
	require.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestCandidatesFiltersByMinPoints(t *testing.T) {
	e := New(nil)
	e.Observe("a", 0)
	e.Apply("a", MaliciousBehavior, 0) // 100 - 50 = 50
	e.Observe("b", 0)                  // stays at 100

	cands := e.Candidates(75)
	require.Len(t, cands, 1)
	require.Equal(t, "b", cands[0].Address)
}
