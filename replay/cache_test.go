package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tagFromString(s string) Tag {
	var t Tag
	copy(t[:], s)
	return t
}

func TestCheckAndInsertRejectsDuplicate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(0, func() time.Time { return now })

	tag := tagFromString("replay-tag-one")

	require.True(t, c.CheckAndInsert(tag))
	require.False(t, c.CheckAndInsert(tag))
	require.False(t, c.CheckAndInsert(tag))
}

func TestCheckAndInsertAllowsDistinctTags(t *testing.T) {
	c := New(0, nil)

	require.True(t, c.CheckAndInsert(tagFromString("a")))
	require.True(t, c.CheckAndInsert(tagFromString("b")))
}

func TestTagExpiresAfterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(10*time.Second, func() time.Time { return now })

	tag := tagFromString("replay-tag-expiring")
	require.True(t, c.CheckAndInsert(tag))

	now = now.Add(5 * time.Second)
	require.False(t, c.CheckAndInsert(tag))

	now = now.Add(10 * time.Second)
	require.True(t, c.CheckAndInsert(tag))
}

func TestEvictRemovesExpiredTags(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(10*time.Second, func() time.Time { return now })

	c.CheckAndInsert(tagFromString("a"))
	c.CheckAndInsert(tagFromString("b"))
	require.Equal(t, 2, c.Len())

	c.evict(now.Add(11 * time.Second))
	require.Equal(t, 0, c.Len())
}

func TestStartStopIsIdempotentGuarded(t *testing.T) {
	c := New(50*time.Millisecond, nil)

	require.NoError(t, c.Start())
	require.Error(t, c.Start())

	require.NoError(t, c.Stop())
	require.Error(t, c.Stop())
}
