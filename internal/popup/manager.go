// file: internal/popup/manager.go
package popup

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/clock"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/dkoosis/norbert/internal/norberterror"
)

// ManagerOptions configures popup size, the screen it is centered on, and
// the monitor used for each window.
type ManagerOptions struct {
	Width   int            `yaml:"width"`
	Height  int            `yaml:"height"`
	Screen  Screen         `yaml:"screen"`
	Monitor MonitorOptions `yaml:"monitor"`
}

// DefaultManagerOptions returns a 600x700 popup on a 1920x1080 screen.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		Width:   DefaultWidth,
		Height:  DefaultHeight,
		Screen:  Screen{Width: 1920, Height: 1080},
		Monitor: DefaultMonitorOptions(),
	}
}

var (
	// ErrOpenSuperseded means a Cleanup or another Open ran while the opener
	// was busy, so the new window was closed instead of tracked.
	ErrOpenSuperseded = errors.New("popup open superseded")

	// ErrNavigationFailed means the popup page failed to load before
	// monitoring started.
	ErrNavigationFailed = errors.New("popup navigation failed")
)

// Manager owns at most one tracked popup and the monitor watching it.
// Nothing else may close the tracked window.
type Manager struct {
	opener Opener
	sched  clock.Scheduler
	opts   ManagerOptions
	logger logging.Logger

	mu        sync.Mutex
	tracked   Window
	monitor   *Monitor
	epoch     uint64
	failed    Window
	failedErr error
}

// NewManager creates a Manager that opens windows through opener.
func NewManager(opener Opener, sched clock.Scheduler, opts ManagerOptions, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	if sched == nil {
		sched = clock.Real()
	}
	return &Manager{
		opener: opener,
		sched:  sched,
		opts:   opts,
		logger: logger.WithField("component", "popup_manager"),
	}
}

// Open opens url in a new centered popup named after provider, replacing
// any tracked window that is still open. A nil window from the opener is
// reported as norberterror.ErrPopupBlocked; opener errors are wrapped with
// norberterror.NewPopupError so their hints survive. The manager lock is not
// held while the opener runs; an Open or Cleanup in the meantime discards
// the new window with ErrOpenSuperseded.
func (m *Manager) Open(ctx context.Context, url, provider string) (Window, error) {
	m.mu.Lock()
	m.releaseLocked()
	m.epoch++
	epoch := m.epoch
	geometry := Center(m.opts.Width, m.opts.Height, m.opts.Screen)
	name := WindowName(provider, m.sched.Now())
	m.mu.Unlock()

	win, err := m.opener.Open(ctx, url, name, geometry.Features())
	if err != nil {
		m.logger.Warn("Popup open failed.", "provider", provider, "name", name, "error", err)
		return nil, norberterror.NewPopupError(provider, err)
	}
	if win == nil {
		m.logger.Warn("Popup blocked.", "provider", provider, "name", name)
		return nil, norberterror.NewPopupBlockedError(provider)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		m.logger.Debug("Discarding popup opened for a superseded request.", "provider", provider, "name", name)
		if cerr := win.Close(); cerr != nil {
			m.logger.Warn("Error closing superseded popup.", "error", cerr)
		}
		return nil, ErrOpenSuperseded
	}

	m.tracked = win
	if ferr := win.Focus(); ferr != nil {
		m.logger.Debug("Could not focus popup.", "provider", provider, "error", ferr)
	}
	win.OnError(func(navErr error) {
		m.navigationFailed(win, provider, navErr)
	})

	m.logger.Info("Popup opened.", "provider", provider, "name", name)
	return win, nil
}

// StartMonitoring watches win with a fresh Monitor, replacing any previous
// one. If win already failed to load, it returns an error matching
// ErrNavigationFailed and starts nothing.
func (m *Manager) StartMonitoring(win Window, provider string, onComplete func(Reason), onNotify func(string)) error {
	mon := NewMonitor(m.sched, m.opts.Monitor, m.logger)

	m.mu.Lock()
	if m.monitor != nil {
		m.monitor.Stop()
		m.monitor = nil
	}
	if win != nil && m.failed == win {
		navErr := m.failedErr
		m.failed, m.failedErr = nil, nil
		m.mu.Unlock()
		return errors.Mark(errors.Wrapf(navErr, "%s popup", provider), ErrNavigationFailed)
	}
	m.monitor = mon
	m.mu.Unlock()

	return mon.Start(win, provider, onComplete, onNotify)
}

// CloseWindow closes the tracked window but keeps its monitor running, so
// completion is still reported through the monitor.
func (m *Manager) CloseWindow() {
	m.mu.Lock()
	win := m.tracked
	m.mu.Unlock()
	if win == nil {
		return
	}
	if closed, err := win.Closed(); err == nil && closed {
		return
	}
	if err := win.Close(); err != nil {
		m.logger.Warn("Error closing popup.", "error", err)
	}
}

// Cleanup stops monitoring and closes the tracked window if it is still
// open. Close errors are logged and swallowed. Safe to call repeatedly.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.releaseLocked()
}

// Tracked returns the tracked window, or nil.
func (m *Manager) Tracked() Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracked
}

// Monitoring reports whether a monitor has a pending timer.
func (m *Manager) Monitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monitor != nil && m.monitor.Active()
}

// navigationFailed closes win if it is still tracked and ends its monitor
// with ReasonFailed. Without a monitor the failure is kept for StartMonitoring.
func (m *Manager) navigationFailed(win Window, provider string, navErr error) {
	m.mu.Lock()
	if m.tracked != win {
		m.mu.Unlock()
		m.logger.Debug("Ignoring navigation error from an untracked popup.", "provider", provider, "error", navErr)
		return
	}
	m.logger.Warn("Popup navigation failed, cleaning up.", "provider", provider, "error", navErr)
	mon := m.monitor
	m.monitor = nil
	m.releaseLocked()
	if mon == nil {
		m.failed, m.failedErr = win, navErr
	}
	m.mu.Unlock()

	if mon != nil {
		mon.Fail()
	}
}

func (m *Manager) releaseLocked() {
	m.failed, m.failedErr = nil, nil
	if m.monitor != nil {
		m.monitor.Stop()
		m.monitor = nil
	}
	if m.tracked == nil {
		return
	}
	win := m.tracked
	m.tracked = nil

	closed, err := win.Closed()
	if err == nil && closed {
		return
	}
	if cerr := win.Close(); cerr != nil {
		m.logger.Warn("Error closing popup during cleanup.", "error", cerr)
	}
}
