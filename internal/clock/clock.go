// Package clock wraps a k8s.io/utils clock behind a small scheduler so
// timer-owning components hand out cancellable handles and tests can drive
// them with a fake clock instead of wall-clock sleeps.
// file: internal/clock/clock.go
package clock

import (
	"sync"
	"time"

	kclock "k8s.io/utils/clock"
)

// Timer is a handle to a pending callback.
type Timer interface {
	// Cancel stops the callback if it has not fired yet. Safe to call repeatedly.
	Cancel()
}

// Scheduler schedules delayed callbacks. Callbacks run on their own goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

// scheduler adapts a kclock.WithDelayedExecution.
type scheduler struct {
	c kclock.WithDelayedExecution
}

// New returns a Scheduler backed by c (a real or fake k8s clock).
func New(c kclock.WithDelayedExecution) Scheduler {
	if c == nil {
		c = kclock.RealClock{}
	}
	return &scheduler{c: c}
}

// Real returns a Scheduler backed by the wall clock.
func Real() Scheduler {
	return New(kclock.RealClock{})
}

func (s *scheduler) Now() time.Time {
	return s.c.Now()
}

func (s *scheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &timer{}
	t.inner = s.c.AfterFunc(d, func() {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return
		}
		t.fired = true
		t.mu.Unlock()
		// The fake clock runs callbacks while holding its own lock, so a
		// callback that schedules again must not run inline.
		go t.run(f)
	})
	return t
}

// timer guards against a callback that was already dequeued by the clock
// when Cancel ran; such a callback observes cancelled and returns.
type timer struct {
	mu        sync.Mutex
	inner     kclock.Timer
	cancelled bool
	fired     bool
}

func (t *timer) run(f func()) {
	t.mu.Lock()
	cancelled := t.cancelled
	t.mu.Unlock()
	if !cancelled {
		f()
	}
}

func (t *timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	if t.inner != nil && !t.fired {
		t.inner.Stop()
	}
}
