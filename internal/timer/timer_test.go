package timer_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizparty-service/internal/timer"
)

func TestFiresOnceAtDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fires int32
	h := timer.Start(clock, 10*time.Second, func() { atomic.AddInt32(&fires, 1) })

	clock.Advance(9 * time.Second)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fires))
	assert.Equal(t, time.Second, h.Remaining())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&fires) == 1 }, time.Second, time.Millisecond)
	assert.True(t, h.Fired())
	assert.Zero(t, h.Remaining())

	// Further advances never re-fire a one-shot handle.
	clock.Advance(time.Minute)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fires))
}

func TestCancelBeforeExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fires int32
	h := timer.Start(clock, 10*time.Second, func() { atomic.AddInt32(&fires, 1) })

	clock.Advance(3 * time.Second)
	left, ok := h.Cancel()
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, left)

	clock.Advance(time.Minute)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fires))
	assert.False(t, h.Fired())

	// Second cancel is a no-op.
	_, ok = h.Cancel()
	assert.False(t, ok)
}

func TestCancelAfterExpiryLoses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fired := make(chan struct{})
	h := timer.Start(clock, time.Second, func() { close(fired) })

	clock.Advance(time.Second)
	<-fired

	_, ok := h.Cancel()
	assert.False(t, ok, "expiry already dispatched; cancel must report defeat")
	assert.True(t, h.Fired())
}

func TestFreshHandlesAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var a, b int32
	first := timer.Start(clock, time.Second, func() { atomic.AddInt32(&a, 1) })
	_, ok := first.Cancel()
	require.True(t, ok)

	second := timer.Start(clock, time.Second, func() { atomic.AddInt32(&b, 1) })
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&b) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&a))
	assert.True(t, second.Fired())
}
