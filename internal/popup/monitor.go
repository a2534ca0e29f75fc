// file: internal/popup/monitor.go
package popup

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/clock"
	"github.com/dkoosis/norbert/internal/logging"
)

// Reason tells why monitoring completed.
type Reason int

const (
	// ReasonClosed means the window was observed closed.
	ReasonClosed Reason = iota
	// ReasonTimedOut means the monitor closed the window after MaxTicks.
	ReasonTimedOut
	// ReasonFailed means the window's page failed to load.
	ReasonFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonClosed:
		return "closed"
	case ReasonTimedOut:
		return "timed_out"
	case ReasonFailed:
		return "failed"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// MonitorOptions configures tick cadence, the timeout and the settle delays.
type MonitorOptions struct {
	// TickInterval is the delay between Closed checks.
	TickInterval time.Duration `yaml:"tick_interval"`
	// MaxTicks is the number of ticks after which the window is force-closed.
	MaxTicks int `yaml:"max_ticks"`
	// CloseSettle delays completion after the window was closed by the user,
	// letting a redirect-driven backend write land.
	CloseSettle time.Duration `yaml:"close_settle"`
	// TimeoutSettle delays completion after a forced close.
	TimeoutSettle time.Duration `yaml:"timeout_settle"`
}

// DefaultMonitorOptions returns 1s ticks, a 60 tick timeout, and 1s/2s settle delays.
func DefaultMonitorOptions() MonitorOptions {
	return MonitorOptions{
		TickInterval:  time.Second,
		MaxTicks:      60,
		CloseSettle:   time.Second,
		TimeoutSettle: 2 * time.Second,
	}
}

func (o MonitorOptions) withDefaults() MonitorOptions {
	d := DefaultMonitorOptions()
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.MaxTicks <= 0 {
		o.MaxTicks = d.MaxTicks
	}
	if o.CloseSettle < 0 {
		o.CloseSettle = d.CloseSettle
	}
	if o.TimeoutSettle < 0 {
		o.TimeoutSettle = d.TimeoutSettle
	}
	return o
}

// AutoClosedMessage is sent through the notify callback when the monitor
// closes a window that stayed open for the whole timeout.
func AutoClosedMessage(provider string, after time.Duration) string {
	return fmt.Sprintf("The %s authorization window was closed automatically after %s. Checking whether the account was connected.", provider, after)
}

// Monitor observes one window by polling Closed on a fixed tick.
// It invokes onComplete exactly once unless stopped first.
type Monitor struct {
	sched  clock.Scheduler
	opts   MonitorOptions
	logger logging.Logger

	mu         sync.Mutex
	win        Window
	provider   string
	onComplete func(Reason)
	onNotify   func(string)
	timer      clock.Timer
	ticks      int
	started    bool
	polling    bool
	stopped    bool
	completed  bool
}

// NewMonitor creates an idle monitor.
func NewMonitor(sched clock.Scheduler, opts MonitorOptions, logger logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	if sched == nil {
		sched = clock.Real()
	}
	return &Monitor{
		sched:  sched,
		opts:   opts.withDefaults(),
		logger: logger.WithField("component", "popup_monitor"),
	}
}

// Start begins polling win. A monitor can be started once.
func (m *Monitor) Start(win Window, provider string, onComplete func(Reason), onNotify func(string)) error {
	if win == nil {
		return errors.New("monitor: nil window")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("monitor: already started")
	}
	m.started = true
	m.polling = true
	m.win = win
	m.provider = provider
	m.onComplete = onComplete
	m.onNotify = onNotify
	m.timer = m.sched.AfterFunc(m.opts.TickInterval, m.tick)
	m.logger.Debug("Monitoring popup.", "provider", provider, "interval", m.opts.TickInterval, "max_ticks", m.opts.MaxTicks)
	return nil
}

func (m *Monitor) tick() {
	m.mu.Lock()
	if m.stopped || !m.polling {
		m.mu.Unlock()
		return
	}
	m.ticks++

	closed, err := m.win.Closed()
	if err != nil {
		m.logger.Warn("Could not check popup state, continuing.", "provider", m.provider, "tick", m.ticks, "error", err)
	}
	if err == nil && closed {
		m.polling = false
		m.logger.Debug("Popup closed.", "provider", m.provider, "tick", m.ticks)
		m.timer = m.sched.AfterFunc(m.opts.CloseSettle, func() { m.complete(ReasonClosed) })
		m.mu.Unlock()
		return
	}

	if m.ticks >= m.opts.MaxTicks {
		m.polling = false
		if cerr := m.win.Close(); cerr != nil {
			m.logger.Warn("Failed to close timed-out popup.", "provider", m.provider, "error", cerr)
		}
		m.logger.Info("Popup timed out and was closed.", "provider", m.provider, "ticks", m.ticks)
		m.timer = m.sched.AfterFunc(m.opts.TimeoutSettle, func() { m.complete(ReasonTimedOut) })
		notify := m.onNotify
		msg := AutoClosedMessage(m.provider, time.Duration(m.ticks)*m.opts.TickInterval)
		m.mu.Unlock()
		if notify != nil {
			notify(msg)
		}
		return
	}

	m.timer = m.sched.AfterFunc(m.opts.TickInterval, m.tick)
	m.mu.Unlock()
}

func (m *Monitor) complete(reason Reason) {
	m.mu.Lock()
	if m.stopped || m.completed {
		m.mu.Unlock()
		return
	}
	m.completed = true
	m.timer = nil
	cb := m.onComplete
	m.mu.Unlock()

	m.logger.Debug("Popup monitoring complete.", "provider", m.provider, "reason", reason)
	if cb != nil {
		cb(reason)
	}
}

// Fail completes monitoring at once with ReasonFailed, cancelling any pending
// timer. It does nothing after Stop or completion.
func (m *Monitor) Fail() {
	m.mu.Lock()
	if !m.started || m.stopped || m.completed {
		m.mu.Unlock()
		return
	}
	m.polling = false
	if m.timer != nil {
		m.timer.Cancel()
	}
	m.mu.Unlock()
	m.complete(ReasonFailed)
}

// Stop cancels any pending tick or settle timer. After Stop the completion
// callback never fires. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	m.polling = false
	if m.timer != nil {
		m.timer.Cancel()
		m.timer = nil
	}
}

// Ticks returns the number of ticks observed so far.
func (m *Monitor) Ticks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

// Active reports whether a timer is still pending.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && !m.stopped && !m.completed
}
