package popup_test

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/clock"
	"github.com/dkoosis/norbert/internal/popup"
	"github.com/dkoosis/norbert/internal/popup/popuptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

const (
	waitFor = time.Second
	pollFor = time.Millisecond
)

// recorder collects completion and notification callbacks.
type recorder struct {
	mu      sync.Mutex
	reasons []popup.Reason
	notices []string
}

func (r *recorder) complete(reason popup.Reason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recorder) notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, msg)
}

func (r *recorder) completions() []popup.Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]popup.Reason(nil), r.reasons...)
}

func (r *recorder) notifications() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

func newMonitorFixture(t *testing.T) (*clocktesting.FakeClock, *popup.Monitor, *popuptest.Window, *recorder) {
	t.Helper()
	fake := clocktesting.NewFakeClock(time.Unix(1700000000, 0))
	m := popup.NewMonitor(clock.New(fake), popup.DefaultMonitorOptions(), nil)
	win := popuptest.NewWindow()
	rec := &recorder{}
	require.NoError(t, m.Start(win, "gmail", rec.complete, rec.notify))
	return fake, m, win, rec
}

// tickTo advances the clock one interval at a time until the monitor has
// observed n ticks.
func tickTo(t *testing.T, fake *clocktesting.FakeClock, m *popup.Monitor, n int) {
	t.Helper()
	for i := m.Ticks(); i < n; i++ {
		want := i + 1
		fake.Step(time.Second)
		require.Eventually(t, func() bool { return m.Ticks() == want }, waitFor, pollFor, "tick %d", want)
	}
}

func TestMonitor_CompletesAfterSettleWhenClosed(t *testing.T) {
	fake, m, win, rec := newMonitorFixture(t)

	tickTo(t, fake, m, 4)
	win.UserClose()
	tickTo(t, fake, m, 5)

	assert.Empty(t, rec.completions(), "completion waits for the settle delay")
	assert.True(t, m.Active(), "monitor stays active during the settle delay")

	fake.Step(time.Second)
	require.Eventually(t, func() bool { return len(rec.completions()) == 1 }, waitFor, pollFor)
	assert.Equal(t, popup.ReasonClosed, rec.completions()[0])
	assert.Equal(t, 0, win.CloseCalls(), "monitor must not close a window the user closed")
	assert.Empty(t, rec.notifications())

	fake.Step(10 * time.Second)
	assert.Never(t, func() bool { return len(rec.completions()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 5, m.Ticks(), "no ticks after completion")
	assert.False(t, fake.HasWaiters())
	assert.False(t, m.Active())
}

func TestMonitor_TimeoutClosesWindowAndNotifies(t *testing.T) {
	fake, m, win, rec := newMonitorFixture(t)

	tickTo(t, fake, m, 59)
	assert.Equal(t, 0, win.CloseCalls())

	tickTo(t, fake, m, 60)
	require.Eventually(t, func() bool { return len(rec.notifications()) == 1 }, waitFor, pollFor)
	assert.Equal(t, 1, win.CloseCalls(), "monitor closes the window itself at the tick limit")
	assert.True(t, win.IsClosed())
	assert.Contains(t, rec.notifications()[0], "closed automatically")

	fake.Step(time.Second)
	assert.Never(t, func() bool { return len(rec.completions()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	fake.Step(time.Second)
	require.Eventually(t, func() bool { return len(rec.completions()) == 1 }, waitFor, pollFor)
	assert.Equal(t, popup.ReasonTimedOut, rec.completions()[0])
	assert.Equal(t, 60, m.Ticks())
	assert.False(t, fake.HasWaiters())
}

func TestMonitor_TimeoutCompletesEvenIfCloseFails(t *testing.T) {
	fake, m, win, rec := newMonitorFixture(t)
	win.SetCloseError(errors.New("window navigated away"))

	tickTo(t, fake, m, 60)
	fake.Step(2 * time.Second)
	require.Eventually(t, func() bool { return len(rec.completions()) == 1 }, waitFor, pollFor)
	assert.Equal(t, popup.ReasonTimedOut, rec.completions()[0])
}

func TestMonitor_ClosedCheckErrorsDoNotAbort(t *testing.T) {
	fake, m, win, rec := newMonitorFixture(t)
	win.FailClosedChecks(errors.New("cross-origin access"), errors.New("cross-origin access"))

	tickTo(t, fake, m, 2)
	assert.True(t, m.Active())

	win.UserClose()
	tickTo(t, fake, m, 3)
	fake.Step(time.Second)
	require.Eventually(t, func() bool { return len(rec.completions()) == 1 }, waitFor, pollFor)
	assert.Equal(t, popup.ReasonClosed, rec.completions()[0])
}

func TestMonitor_StopIsIdempotentAndSuppressesCompletion(t *testing.T) {
	fake, m, win, rec := newMonitorFixture(t)

	tickTo(t, fake, m, 3)
	win.UserClose()
	tickTo(t, fake, m, 4)

	m.Stop()
	m.Stop()

	assert.False(t, fake.HasWaiters(), "stop cancels the pending settle timer")
	fake.Step(5 * time.Second)
	assert.Never(t, func() bool { return len(rec.completions()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.False(t, m.Active())
}

func TestMonitor_FailCompletesOnce(t *testing.T) {
	fake, m, _, rec := newMonitorFixture(t)

	tickTo(t, fake, m, 2)
	m.Fail()
	m.Fail()

	assert.Equal(t, []popup.Reason{popup.ReasonFailed}, rec.completions())
	assert.False(t, m.Active())
	assert.False(t, fake.HasWaiters(), "fail cancels the pending tick")
}

func TestMonitor_FailAfterStopIsIgnored(t *testing.T) {
	_, m, _, rec := newMonitorFixture(t)

	m.Stop()
	m.Fail()

	assert.Empty(t, rec.completions())
}

func TestMonitor_StartValidation(t *testing.T) {
	fake := clocktesting.NewFakeClock(time.Unix(0, 0))
	m := popup.NewMonitor(clock.New(fake), popup.MonitorOptions{}, nil)

	require.Error(t, m.Start(nil, "gmail", nil, nil))
	require.NoError(t, m.Start(popuptest.NewWindow(), "gmail", nil, nil))
	require.Error(t, m.Start(popuptest.NewWindow(), "gmail", nil, nil), "a monitor starts once")
	m.Stop()
}

func TestMonitorOptions_CustomLimits(t *testing.T) {
	fake := clocktesting.NewFakeClock(time.Unix(0, 0))
	opts := popup.MonitorOptions{TickInterval: 500 * time.Millisecond, MaxTicks: 3, TimeoutSettle: time.Second}
	m := popup.NewMonitor(clock.New(fake), opts, nil)
	win := popuptest.NewWindow()
	rec := &recorder{}
	require.NoError(t, m.Start(win, "outlook", rec.complete, rec.notify))

	for i := 1; i <= 3; i++ {
		want := i
		fake.Step(500 * time.Millisecond)
		require.Eventually(t, func() bool { return m.Ticks() == want }, waitFor, pollFor)
	}
	require.Eventually(t, func() bool { return win.CloseCalls() == 1 }, waitFor, pollFor)

	fake.Step(time.Second)
	require.Eventually(t, func() bool { return len(rec.completions()) == 1 }, waitFor, pollFor)
	assert.Equal(t, popup.ReasonTimedOut, rec.completions()[0])
}

func TestReason_String(t *testing.T) {
	assert.Equal(t, "closed", popup.ReasonClosed.String())
	assert.Equal(t, "timed_out", popup.ReasonTimedOut.String())
	assert.Equal(t, "failed", popup.ReasonFailed.String())
	assert.Equal(t, "reason(7)", popup.Reason(7).String())
}
