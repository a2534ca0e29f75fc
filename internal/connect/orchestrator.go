// file: internal/connect/orchestrator.go
package connect

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/backend"
	"github.com/dkoosis/norbert/internal/callback"
	"github.com/dkoosis/norbert/internal/clock"
	"github.com/dkoosis/norbert/internal/fsm"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/dkoosis/norbert/internal/metrics"
	"github.com/dkoosis/norbert/internal/norberterror"
	"github.com/dkoosis/norbert/internal/popup"
	"github.com/google/uuid"
)

// Backend is the account service the orchestrator talks to.
type Backend interface {
	Connect(ctx context.Context, p backend.Provider) (backend.ConnectResponse, error)
	ListChannels(ctx context.Context) ([]backend.Channel, error)
	SendCode(ctx context.Context, accountID, phone string) error
	VerifyCode(ctx context.Context, accountID, code string) error
}

// Popups is the subset of popup.Manager the orchestrator drives.
type Popups interface {
	Open(ctx context.Context, url, provider string) (popup.Window, error)
	StartMonitoring(win popup.Window, provider string, onComplete func(popup.Reason), onNotify func(string)) error
	CloseWindow()
	Cleanup()
}

// Recorder receives attempt metrics. *metrics.Collector implements it.
type Recorder interface {
	AttemptStarted(provider string)
	AttemptFinished(provider, outcome string, elapsed time.Duration)
	PopupTimedOut(provider string)
	PollingFinished(provider string, attempts int)
	RecordError(component, message string)
}

// CallbackSource delivers OAuth callback events. *callback.Broker implements it.
type CallbackSource interface {
	Subscribe() (<-chan callback.Event, func())
}

// Options tunes channel polling after the popup completes.
type Options struct {
	PollInterval        time.Duration
	MaxPolls            int
	SuccessRefreshDelay time.Duration
}

// DefaultOptions polls every 2s up to 20 times and refreshes channels 1s
// after an immediate success.
func DefaultOptions() Options {
	return Options{
		PollInterval:        2 * time.Second,
		MaxPolls:            20,
		SuccessRefreshDelay: time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.MaxPolls <= 0 {
		o.MaxPolls = d.MaxPolls
	}
	if o.SuccessRefreshDelay < 0 {
		o.SuccessRefreshDelay = d.SuccessRefreshDelay
	}
	return o
}

// Attempt is a snapshot of the current connection attempt.
type Attempt struct {
	ID          string
	Provider    backend.Provider
	Phase       fsm.State
	AccountID   string
	QRCode      string
	PhoneNumber string
	Message     string
	Polls       int
	StartedAt   time.Time
}

// attempt is the mutable state behind Attempt.
type attempt struct {
	Attempt
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	finished bool
}

// Orchestrator runs provider connection attempts. Only one attempt is live
// at a time; starting another tears the previous one down first.
type Orchestrator struct {
	backend  Backend
	popups   Popups
	sched    clock.Scheduler
	opts     Options
	observer Observer
	recorder Recorder
	logger   logging.Logger

	mu        sync.Mutex
	phases    *PhaseMachine
	gen       uint64
	current   *attempt
	pollTimer clock.Timer
	refresh   clock.Timer
	pending   []func()
	closed    bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	watchers   sync.WaitGroup
}

// Config bundles the collaborators of an Orchestrator. Observer and
// Recorder are optional.
type Config struct {
	Backend   Backend
	Popups    Popups
	Scheduler clock.Scheduler
	Options   Options
	Observer  Observer
	Recorder  Recorder
	Logger    logging.Logger
}

// New creates an idle Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Backend == nil {
		return nil, errors.New("connect: backend is required")
	}
	if cfg.Popups == nil {
		return nil, errors.New("connect: popup manager is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	logger = logger.WithField("component", "connect_orchestrator")
	if cfg.Scheduler == nil {
		cfg.Scheduler = clock.Real()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}

	phases, err := NewPhaseMachine(logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		backend:    cfg.Backend,
		popups:     cfg.Popups,
		sched:      cfg.Scheduler,
		opts:       cfg.Options.withDefaults(),
		observer:   cfg.Observer,
		recorder:   cfg.Recorder,
		logger:     logger,
		phases:     phases,
		baseCtx:    ctx,
		baseCancel: cancel,
	}, nil
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() fsm.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phases.CurrentState()
}

// Attempt returns a snapshot of the live attempt. The second result is
// false when there is none.
func (o *Orchestrator) Attempt() (Attempt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return Attempt{}, false
	}
	snap := o.current.Attempt
	snap.Phase = o.phases.CurrentState()
	return snap, true
}

// Diagram renders the phase machine as a Mermaid state diagram.
func (o *Orchestrator) Diagram() (string, error) {
	return o.phases.Diagram()
}

// Connect starts an attempt for p, tearing down any attempt in flight. The
// returned error is non-nil when the attempt ended in idle because the
// connect call failed or the popup was blocked or could not be opened.
func (o *Orchestrator) Connect(ctx context.Context, p backend.Provider) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errors.New("connect: orchestrator closed")
	}
	a := o.beginLocked(p)
	o.fireLocked(a.ctx, EventConnect)
	o.unlock()

	return o.request(ctx, a)
}

// RegenerateQR asks the backend for a fresh QR code for the same provider.
func (o *Orchestrator) RegenerateQR(ctx context.Context) error {
	o.mu.Lock()
	if err := o.phases.Require("regenerate QR", PhaseAwaitingQR); err != nil {
		o.mu.Unlock()
		return err
	}
	provider := o.current.Provider
	o.finishLocked(metrics.OutcomeSuperseded)
	a := o.beginLocked(provider)
	o.fireLocked(a.ctx, EventRegenerateQR)
	o.unlock()

	return o.request(ctx, a)
}

// CloseQR dismisses the QR code and returns to idle.
func (o *Orchestrator) CloseQR() error {
	o.mu.Lock()
	if err := o.phases.Require("close QR", PhaseAwaitingQR); err != nil {
		o.mu.Unlock()
		return err
	}
	o.endLocked(metrics.OutcomeAwaitingQR)
	o.unlock()
	return nil
}

// SubmitPhone sends the phone number so the backend can dispatch an SMS
// code. On failure the attempt stays in the phone input phase.
func (o *Orchestrator) SubmitPhone(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	o.mu.Lock()
	if err := o.phases.Require("submit phone", PhaseAwaitingPhoneInput); err != nil {
		o.mu.Unlock()
		return err
	}
	if phone == "" {
		o.mu.Unlock()
		return errors.WithHint(errors.New("phone number is required"), "Enter the phone number of the account.")
	}
	a := o.current
	o.mu.Unlock()

	err := o.backend.SendCode(ctx, a.AccountID, phone)

	o.mu.Lock()
	if !o.liveLocked(a) {
		o.mu.Unlock()
		return norberterror.ErrAttemptSuperseded
	}
	if err != nil {
		serr := norberterror.NewSMSError("send", err)
		o.failInlineLocked(a, serr)
		o.unlock()
		return serr
	}
	a.PhoneNumber = phone
	o.fireLocked(a.ctx, EventCodeSent)
	o.unlock()
	return nil
}

// SubmitCode verifies the SMS code. A rejected code keeps the attempt
// waiting for another code.
func (o *Orchestrator) SubmitCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	o.mu.Lock()
	if err := o.phases.Require("submit code", PhaseAwaitingSMSCode); err != nil {
		o.mu.Unlock()
		return err
	}
	if code == "" {
		o.mu.Unlock()
		return errors.WithHint(errors.New("verification code is required"), "Enter the code from the SMS.")
	}
	a := o.current
	o.mu.Unlock()

	err := o.backend.VerifyCode(ctx, a.AccountID, code)

	o.mu.Lock()
	if !o.liveLocked(a) {
		o.mu.Unlock()
		return norberterror.ErrAttemptSuperseded
	}
	if err != nil {
		serr := norberterror.NewSMSError("verify", err)
		o.fireLocked(a.ctx, EventCodeRejected)
		o.failInlineLocked(a, serr)
		o.unlock()
		return serr
	}
	o.connectedLocked(a, "", true)
	o.unlock()
	return nil
}

// Cancel abandons the attempt in flight and returns to idle.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	if o.current == nil || !IsActive(o.phases.CurrentState()) {
		o.mu.Unlock()
		return norberterror.ErrNoActiveAttempt
	}
	o.logger.Info("Connection attempt cancelled.", "provider", o.current.Provider, "phase", o.phases.CurrentState())
	o.endLocked(metrics.OutcomeCancelled)
	o.unlock()
	return nil
}

// Reset tears down any attempt and returns to idle. It never fails.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.endLocked(metrics.OutcomeCancelled)
	o.unlock()
}

// Close resets the orchestrator, stops callback watchers and rejects further
// attempts. Safe to call repeatedly.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.endLocked(metrics.OutcomeCancelled)
	o.unlock()

	o.baseCancel()
	o.watchers.Wait()
}

// WatchCallbacks closes the popup when the callback page reports a result
// for the provider being connected. Completion still flows through the
// popup monitor. The watcher stops when ctx is done or the orchestrator closes.
func (o *Orchestrator) WatchCallbacks(ctx context.Context, source CallbackSource) {
	events, unsubscribe := source.Subscribe()
	o.watchers.Add(1)
	go func() {
		defer o.watchers.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-o.baseCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				o.handleCallback(e)
			}
		}
	}()
}

func (o *Orchestrator) handleCallback(e callback.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a := o.current
	if a == nil || o.phases.CurrentState() != PhaseAwaitingOAuthPopup {
		o.logger.Debug("Ignoring callback without a popup in flight.", "provider", e.Provider, "connection", e.Connection)
		return
	}
	if !strings.EqualFold(e.Provider, string(a.Provider)) {
		o.logger.Debug("Ignoring callback for another provider.", "provider", e.Provider, "attempt_provider", a.Provider)
		return
	}
	o.logger.Info("Callback received, closing popup.", "provider", e.Provider, "connection", e.Connection)
	o.popups.CloseWindow()
}

// request performs the connect call for a and applies its response.
func (o *Orchestrator) request(ctx context.Context, a *attempt) error {
	resp, err := o.backend.Connect(ctx, a.Provider)

	o.mu.Lock()
	url, err := o.applyLocked(a, resp, err)
	o.unlock()
	if err != nil || url == "" {
		return err
	}
	return o.openPopup(ctx, a, url)
}

// applyLocked moves a to the phase matching the connect response. It
// returns the authorization URL when a popup must be opened.
func (o *Orchestrator) applyLocked(a *attempt, resp backend.ConnectResponse, err error) (string, error) {
	if !o.liveLocked(a) {
		o.logger.Debug("Discarding connect response for superseded attempt.", "attempt_id", a.ID)
		return "", norberterror.ErrAttemptSuperseded
	}
	if err != nil {
		cerr := norberterror.NewConnectError(string(a.Provider), err)
		o.logger.Warn("Connect call failed.", "provider", a.Provider, "class", norberterror.GetClass(cerr), "error", err)
		o.recordError(cerr)
		o.noticeLocked(a, NoticeError, norberterror.UserFacingMessage(cerr), cerr)
		o.endLocked(metrics.OutcomeError)
		return "", cerr
	}

	o.logger.Info("Connect response received.", "provider", a.Provider, "kind", resp.Kind())
	switch r := resp.(type) {
	case backend.QRCode:
		a.QRCode = r.Code
		a.AccountID = r.AccountID
		o.fireLocked(a.ctx, EventQRReceived)
	case backend.PhoneInputRequired:
		a.AccountID = r.AccountID
		o.fireLocked(a.ctx, EventPhoneRequired)
	case backend.SMSRequired:
		a.AccountID = r.AccountID
		a.PhoneNumber = r.PhoneNumber
		o.fireLocked(a.ctx, EventSMSRequired)
	case backend.AuthorizationURL:
		if r.URL == "" {
			return "", o.popupFailedLocked(a, errors.New("empty authorization url"))
		}
		o.fireLocked(a.ctx, EventAuthorizationURL)
		return r.URL, nil
	case backend.ManualSetupRequired:
		a.Message = r.Message
		o.fireLocked(a.ctx, EventManualSetup)
		o.noticeLocked(a, NoticeWarning, r.Message, nil)
		o.endLocked(metrics.OutcomeManualSetup)
	case backend.Connected:
		a.Message = r.Message
		if r.AccountID != "" {
			a.AccountID = r.AccountID
		}
		o.connectedLocked(a, r.Message, true)
	default:
		err := errors.Newf("connect: unhandled response kind %v", resp.Kind())
		o.recordError(err)
		o.endLocked(metrics.OutcomeError)
		return "", err
	}
	return "", nil
}

// openPopup opens the authorization window without holding o.mu, since the
// opener may launch a browser, and then starts monitoring it.
func (o *Orchestrator) openPopup(ctx context.Context, a *attempt, url string) error {
	provider := string(a.Provider)
	win, err := o.popups.Open(ctx, url, provider)

	o.mu.Lock()
	defer o.unlock()
	if !o.liveLocked(a) || o.phases.CurrentState() != PhaseAwaitingOAuthPopup {
		o.logger.Debug("Discarding popup for superseded attempt.", "attempt_id", a.ID)
		return norberterror.ErrAttemptSuperseded
	}
	if err != nil {
		if norberterror.IsPopupBlocked(err) {
			o.recordError(err)
			o.noticeLocked(a, NoticeError, norberterror.UserFacingMessage(err), err)
			o.endLocked(metrics.OutcomePopupBlocked)
			return err
		}
		return o.popupFailedLocked(a, err)
	}

	gen := a.gen
	err = o.popups.StartMonitoring(win, provider,
		func(reason popup.Reason) { o.popupCompleted(gen, reason) },
		func(msg string) { o.popupNotice(gen, msg) },
	)
	if err != nil {
		return o.popupFailedLocked(a, err)
	}
	return nil
}

// popupFailedLocked reports a popup that could not be opened or loaded and
// returns to idle.
func (o *Orchestrator) popupFailedLocked(a *attempt, cause error) error {
	err := cause
	if !errors.Is(err, norberterror.ErrPopupFailed) {
		err = norberterror.NewPopupError(string(a.Provider), cause)
	}
	o.logger.Warn("Popup failed, abandoning attempt.", "provider", a.Provider, "error", cause)
	o.recordError(err)
	o.noticeLocked(a, NoticeError, norberterror.UserFacingMessage(err), err)
	o.endLocked(metrics.OutcomeError)
	return err
}

func (o *Orchestrator) popupNotice(gen uint64, msg string) {
	o.mu.Lock()
	defer o.unlock()
	if a := o.current; a != nil && a.gen == gen {
		o.noticeLocked(a, NoticeInfo, msg, nil)
	}
}

func (o *Orchestrator) popupCompleted(gen uint64, reason popup.Reason) {
	o.mu.Lock()
	a := o.current
	if a == nil || a.gen != gen || o.phases.CurrentState() != PhaseAwaitingOAuthPopup {
		o.mu.Unlock()
		return
	}
	if reason == popup.ReasonFailed {
		_ = o.popupFailedLocked(a, popup.ErrNavigationFailed)
		o.unlock()
		return
	}
	if reason == popup.ReasonTimedOut && o.recorder != nil {
		o.recorder.PopupTimedOut(string(a.Provider))
	}
	o.logger.Info("Popup finished, polling for the new channel.", "provider", a.Provider, "reason", reason)
	o.fireLocked(a.ctx, EventPopupCompleted)
	o.unlock()

	o.poll(a)
}

// poll checks the channel list once and schedules the next check.
func (o *Orchestrator) poll(a *attempt) {
	o.mu.Lock()
	if !o.liveLocked(a) || o.phases.CurrentState() != PhasePollingChannels {
		o.mu.Unlock()
		return
	}
	o.pollTimer = nil
	a.Polls++
	n := a.Polls
	o.mu.Unlock()

	channels, err := o.backend.ListChannels(a.ctx)

	o.mu.Lock()
	defer o.unlock()
	if !o.liveLocked(a) || o.phases.CurrentState() != PhasePollingChannels {
		return
	}
	switch {
	case err != nil:
		o.logger.Warn("Channel poll failed.", "provider", a.Provider, "attempt", n, "error", err)
		o.recordError(errors.Wrapf(err, "poll %d", n))
	case backend.HasConnected(channels, a.Provider):
		o.logger.Info("Channel connected.", "provider", a.Provider, "polls", n)
		if o.recorder != nil {
			o.recorder.PollingFinished(string(a.Provider), n)
		}
		o.channelsLocked(channels)
		o.connectedLocked(a, "", false)
		return
	}

	if n >= o.opts.MaxPolls {
		o.logger.Info("Channel not detected, giving up polling.", "provider", a.Provider, "polls", n)
		if o.recorder != nil {
			o.recorder.PollingFinished(string(a.Provider), n)
		}
		o.noticeLocked(a, NoticeInfo, PollingExhaustedMessage(a.Provider), nil)
		o.endLocked(metrics.OutcomePollingExhausted)
		return
	}
	o.pollTimer = o.sched.AfterFunc(o.opts.PollInterval, func() { o.poll(a) })
}

// PollingExhaustedMessage is shown when polling ends without a connected channel.
func PollingExhaustedMessage(p backend.Provider) string {
	return "We could not confirm the " + string(p) + " connection yet. It may still finish in the background; refresh your channels or try again."
}

// connectedLocked moves to PhaseConnected and ends the attempt: its popup,
// timers and context are released. The attempt stays readable through
// Attempt until the next Connect or Reset. With refresh set, the channel
// list is fetched once after SuccessRefreshDelay so the backend write can land.
func (o *Orchestrator) connectedLocked(a *attempt, message string, refresh bool) {
	o.fireLocked(a.ctx, EventConnected)
	if message != "" {
		o.noticeLocked(a, NoticeInfo, message, nil)
	}
	o.finishLocked(metrics.OutcomeConnected)
	o.teardownLocked()
	if refresh {
		o.scheduleRefreshLocked(a)
	}
}

// scheduleRefreshLocked fetches the channel list once after the settle
// delay. The fetch belongs to the orchestrator, not the ended attempt, and
// is dropped if another attempt starts or the orchestrator resets first.
func (o *Orchestrator) scheduleRefreshLocked(a *attempt) {
	if o.refresh != nil {
		o.refresh.Cancel()
	}
	gen := o.gen
	ctx := logging.ContextWithAttemptID(o.baseCtx, a.ID)
	o.refresh = o.sched.AfterFunc(o.opts.SuccessRefreshDelay, func() {
		channels, err := o.backend.ListChannels(ctx)
		o.mu.Lock()
		defer o.unlock()
		if o.current != a || o.gen != gen {
			return
		}
		o.refresh = nil
		if err != nil {
			o.logger.Warn("Channel refresh failed.", "provider", a.Provider, "error", err)
			o.recordError(errors.Wrap(err, "refresh channels"))
			return
		}
		o.channelsLocked(channels)
	})
}

// failInlineLocked surfaces err without leaving the current phase.
func (o *Orchestrator) failInlineLocked(a *attempt, err error) {
	o.logger.Warn("SMS step failed.", "provider", a.Provider, "phase", o.phases.CurrentState(), "error", err)
	o.recordError(err)
	o.noticeLocked(a, NoticeError, smsMessage(err), err)
}

func smsMessage(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "Verification failed. Try again."
}

// beginLocked tears down the current attempt and registers a new one.
func (o *Orchestrator) beginLocked(p backend.Provider) *attempt {
	if o.current != nil {
		o.finishLocked(metrics.OutcomeSuperseded)
	}
	o.teardownLocked()

	o.gen++
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(logging.ContextWithAttemptID(o.baseCtx, id))
	a := &attempt{
		Attempt: Attempt{
			ID:        id,
			Provider:  p,
			StartedAt: o.sched.Now(),
		},
		gen:    o.gen,
		ctx:    ctx,
		cancel: cancel,
	}
	o.current = a
	if o.recorder != nil {
		o.recorder.AttemptStarted(string(p))
	}
	o.logger.WithContext(ctx).Info("Connection attempt started.", "provider", p)
	return a
}

// endLocked finishes the attempt with outcome, tears it down and returns to idle.
func (o *Orchestrator) endLocked(outcome string) {
	if o.current != nil {
		o.finishLocked(outcome)
	}
	o.teardownLocked()
	o.fireLocked(o.baseCtx, EventReset)
	o.current = nil
}

// finishLocked records the outcome of the current attempt once.
func (o *Orchestrator) finishLocked(outcome string) {
	a := o.current
	if a == nil || a.finished {
		return
	}
	a.finished = true
	if o.recorder != nil {
		o.recorder.AttemptFinished(string(a.Provider), outcome, o.sched.Now().Sub(a.StartedAt))
	}
}

// teardownLocked stops every timer and popup owned by the current attempt.
func (o *Orchestrator) teardownLocked() {
	o.popups.Cleanup()
	if o.pollTimer != nil {
		o.pollTimer.Cancel()
		o.pollTimer = nil
	}
	if o.refresh != nil {
		o.refresh.Cancel()
		o.refresh = nil
	}
	if o.current != nil {
		o.current.cancel()
		o.current.gen = 0
	}
}

func (o *Orchestrator) liveLocked(a *attempt) bool {
	return o.current == a && a.gen != 0 && a.gen == o.gen
}

func (o *Orchestrator) fireLocked(ctx context.Context, event fsm.Event) {
	before := o.phases.CurrentState()
	if err := o.phases.Transition(ctx, event); err != nil {
		o.logger.Error("Phase transition rejected.", "event", event, "phase", before, "error", err)
		return
	}
	after := o.phases.CurrentState()
	if after == before && event != EventConnect && event != EventCodeRejected {
		return
	}
	var id string
	if o.current != nil {
		id = o.current.ID
	}
	obs := o.observer
	o.pending = append(o.pending, func() { obs.PhaseChanged(id, after) })
}

func (o *Orchestrator) noticeLocked(a *attempt, kind NoticeKind, msg string, err error) {
	n := Notice{Kind: kind, Provider: a.Provider, Message: msg, Err: err}
	obs := o.observer
	o.pending = append(o.pending, func() { obs.Notice(n) })
}

func (o *Orchestrator) channelsLocked(channels []backend.Channel) {
	cp := append([]backend.Channel(nil), channels...)
	obs := o.observer
	o.pending = append(o.pending, func() { obs.ChannelsRefreshed(cp) })
}

func (o *Orchestrator) recordError(err error) {
	if o.recorder != nil {
		o.recorder.RecordError("connect", err.Error())
	}
}

// unlock releases o.mu and then delivers queued observer calls in order.
func (o *Orchestrator) unlock() {
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()
	for _, f := range pending {
		f()
	}
}
