// Package metrics provides prometheus collectors for connection attempts and
// a small buffer of recent errors for diagnostics.
// file: internal/metrics/collector.go
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded when an attempt finishes.
const (
	OutcomeConnected        = "connected"
	OutcomeAwaitingQR       = "awaiting_qr"
	OutcomeManualSetup      = "manual_setup"
	OutcomePopupBlocked     = "popup_blocked"
	OutcomeError            = "error"
	OutcomeCancelled        = "cancelled"
	OutcomePollingExhausted = "polling_exhausted"
	OutcomeSuperseded       = "superseded"
)

// ErrorInfo contains details about an error that occurred.
type ErrorInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// Snapshot is a point-in-time view for the status endpoint.
type Snapshot struct {
	StartTime      time.Time     `json:"startTime"`
	Uptime         time.Duration `json:"uptime"`
	GoVersion      string        `json:"goVersion"`
	NumGoroutines  int           `json:"numGoroutines"`
	ActiveAttempts int           `json:"activeAttempts"`
	LastErrors     []ErrorInfo   `json:"lastErrors,omitempty"`
}

// Collector records connection metrics.
type Collector struct {
	attempts       *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	popupTimeouts  *prometheus.CounterVec
	pollAttempts   *prometheus.HistogramVec
	duration       *prometheus.HistogramVec
	callbacks      *prometheus.CounterVec
	activeAttempts prometheus.Gauge

	startTime   time.Time
	mu          sync.RWMutex
	active      int
	errorBuffer []ErrorInfo
	bufferSize  int
}

// NewCollector creates a collector and registers it with reg. A nil reg
// leaves the collectors unregistered.
func NewCollector(reg prometheus.Registerer, errorBufferSize int) *Collector {
	if errorBufferSize <= 0 {
		errorBufferSize = 20
	}
	c := &Collector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "norbert_connect_attempts_total",
			Help: "Connection attempts started, by provider",
		}, []string{"provider"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "norbert_connect_outcomes_total",
			Help: "Connection attempts finished, by provider and outcome",
		}, []string{"provider", "outcome"}),
		popupTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "norbert_popup_timeouts_total",
			Help: "Popups closed by the monitor after the timeout, by provider",
		}, []string{"provider"}),
		pollAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "norbert_channel_poll_attempts",
			Help:    "Channel list queries made by one polling phase",
			Buckets: []float64{1, 2, 3, 5, 10, 15, 20, 30},
		}, []string{"provider"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "norbert_connect_duration_seconds",
			Help:    "Time from connect request to outcome",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "outcome"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "norbert_oauth_callbacks_total",
			Help: "OAuth callback page hits, by connection result",
		}, []string{"connection"}),
		activeAttempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "norbert_connect_active_attempts",
			Help: "Connection attempts currently in progress",
		}),
		startTime:   time.Now(),
		errorBuffer: make([]ErrorInfo, 0, errorBufferSize),
		bufferSize:  errorBufferSize,
	}
	if reg != nil {
		reg.MustRegister(c.attempts, c.outcomes, c.popupTimeouts, c.pollAttempts, c.duration, c.callbacks, c.activeAttempts)
	}
	return c
}

// AttemptStarted counts a new attempt.
func (c *Collector) AttemptStarted(provider string) {
	c.attempts.WithLabelValues(provider).Inc()
	c.mu.Lock()
	c.active++
	c.activeAttempts.Set(float64(c.active))
	c.mu.Unlock()
}

// AttemptFinished records the outcome and duration of an attempt.
func (c *Collector) AttemptFinished(provider, outcome string, elapsed time.Duration) {
	c.outcomes.WithLabelValues(provider, outcome).Inc()
	c.duration.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
	c.mu.Lock()
	if c.active > 0 {
		c.active--
	}
	c.activeAttempts.Set(float64(c.active))
	c.mu.Unlock()
}

// PopupTimedOut counts a popup the monitor force-closed.
func (c *Collector) PopupTimedOut(provider string) {
	c.popupTimeouts.WithLabelValues(provider).Inc()
}

// PollingFinished records how many channel queries a polling phase made.
func (c *Collector) PollingFinished(provider string, attempts int) {
	c.pollAttempts.WithLabelValues(provider).Observe(float64(attempts))
}

// CallbackReceived counts a hit on the OAuth callback page.
func (c *Collector) CallbackReceived(connection string) {
	c.callbacks.WithLabelValues(connection).Inc()
}

// RecordError adds an error to the ring buffer.
func (c *Collector) RecordError(component, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errorBuffer) >= c.bufferSize {
		c.errorBuffer = c.errorBuffer[1:]
	}
	c.errorBuffer = append(c.errorBuffer, ErrorInfo{
		Timestamp: time.Now(),
		Component: component,
		Message:   message,
	})
}

// Snapshot returns the current status view.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		StartTime:      c.startTime,
		Uptime:         time.Since(c.startTime),
		GoVersion:      runtime.Version(),
		NumGoroutines:  runtime.NumGoroutine(),
		ActiveAttempts: c.active,
	}
	if len(c.errorBuffer) > 0 {
		s.LastErrors = make([]ErrorInfo, len(c.errorBuffer))
		copy(s.LastErrors, c.errorBuffer)
	}
	return s
}
