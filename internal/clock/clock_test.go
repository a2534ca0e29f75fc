package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestScheduler_AfterFunc_FiresOnStep(t *testing.T) {
	fake := clocktesting.NewFakeClock(time.Unix(0, 0))
	s := New(fake)

	var fired atomic.Int32
	s.AfterFunc(time.Second, func() { fired.Add(1) })

	fake.Step(999 * time.Millisecond)
	assert.Never(t, func() bool { return fired.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	fake.Step(time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
}

func TestScheduler_Cancel_IsIdempotent(t *testing.T) {
	fake := clocktesting.NewFakeClock(time.Unix(0, 0))
	s := New(fake)

	var fired atomic.Int32
	timer := s.AfterFunc(time.Second, func() { fired.Add(1) })
	timer.Cancel()
	timer.Cancel()

	assert.False(t, fake.HasWaiters(), "cancelled timer should not leave a waiter")
	fake.Step(2 * time.Second)
	assert.Never(t, func() bool { return fired.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestScheduler_Now_FollowsClock(t *testing.T) {
	start := time.Unix(1700000000, 0)
	fake := clocktesting.NewFakeClock(start)
	s := New(fake)
	fake.Step(5 * time.Second)
	assert.Equal(t, start.Add(5*time.Second), s.Now())
}

func TestReal_ReturnsScheduler(t *testing.T) {
	s := Real()
	done := make(chan struct{})
	s.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real scheduler did not fire")
	}
}
