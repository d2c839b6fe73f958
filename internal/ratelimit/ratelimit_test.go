package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReplayAcceptsEachPairOnce(t *testing.T) {
	r := NewReplay()
	nonce := []byte("0123456789abcdef")
	ts := time.Now()

	require.True(t, r.Check(nonce, ts))
	require.False(t, r.Check(nonce, ts))
}

func TestReplayRejectsStaleTimestamp(t *testing.T) {
	r := NewReplay()
	old := time.Now().Add(-10 * time.Minute)
	require.False(t, r.Check([]byte("nonce"), old))
}

func TestReplayRejectsFutureTimestamp(t *testing.T) {
	r := NewReplay()
	future := time.Now().Add(10 * time.Minute)
	require.False(t, r.Check([]byte("nonce"), future))
}

func TestReplayEvictsPastHighWaterMark(t *testing.T) {
	r := NewReplay()
	base := time.Now()
	frozen := base
	r.now = func() time.Time { return frozen }

	for i := 0; i < replayHighWater+1; i++ {
		nonce := make([]byte, 4)
		nonce[0] = byte(i)
		nonce[1] = byte(i >> 8)
		nonce[2] = byte(i >> 16)
		require.True(t, r.Check(nonce, frozen))
	}
	require.LessOrEqual(t, len(r.seen), replayHighWater+1)

	// Once those entries are older than the replay window, the next
	// insert past the high-water mark evicts them.
	frozen = base.Add(replayWindow + time.Second)
	require.True(t, r.Check([]byte("fresh-nonce"), frozen))
	require.Len(t, r.seen, 1)
}

func TestLimiterAllowsWithinPerMinuteBudget(t *testing.T) {
	l := New()
	sender := []byte("sender-a")
	for i := 0; i < 10; i++ {
		require.True(t, l.Check(sender, "inject"))
	}
}

func TestLimiterBansAfterPerMinuteBreach(t *testing.T) {
	l := New()
	sender := []byte("sender-b")
	frozen := time.Now()
	l.now = func() time.Time { return frozen }

	for i := 0; i < 10; i++ {
		require.True(t, l.Check(sender, "inject"))
	}
	require.False(t, l.Check(sender, "inject"))

	// Still banned immediately after.
	require.False(t, l.Check(sender, "inject"))

	// Ban lifts once elapsed.
	frozen = frozen.Add(time.Hour + time.Second)
	require.True(t, l.Check(sender, "inject"))
}

func TestLimiterUnknownActionFallsThroughToInject(t *testing.T) {
	l := New()
	sender := []byte("sender-c")
	for i := 0; i < 10; i++ {
		require.True(t, l.Check(sender, "some-unknown-action"))
	}
	require.False(t, l.Check(sender, "some-unknown-action"))
}

func TestLimiterClaimHasTighterBudget(t *testing.T) {
	l := New()
	sender := []byte("sender-d")
	for i := 0; i < 5; i++ {
		require.True(t, l.Check(sender, "claim"))
	}
	require.False(t, l.Check(sender, "claim"))
}

func TestLimiterIsolatesPerSenderAndAction(t *testing.T) {
	l := New()
	a := []byte("sender-e")
	b := []byte("sender-f")
	for i := 0; i < 10; i++ {
		require.True(t, l.Check(a, "inject"))
	}
	require.False(t, l.Check(a, "inject"))
	// b, a distinct sender, still has full budget.
	require.True(t, l.Check(b, "inject"))
	// a's claim action is independent of its inject ban.
	require.True(t, l.Check(a, "claim"))
}
