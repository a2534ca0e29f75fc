package connect_test

import (
	"context"
	"sync"
	"time"

	"github.com/dkoosis/norbert/internal/backend"
	"github.com/dkoosis/norbert/internal/connect"
	"github.com/dkoosis/norbert/internal/fsm"
)

// fakeBackend scripts the account service.
type fakeBackend struct {
	mu        sync.Mutex
	now       func() time.Time
	connect   func(ctx context.Context, p backend.Provider) (backend.ConnectResponse, error)
	channels  func(n int) ([]backend.Channel, error)
	sendErr   error
	verify    func(code string) error
	connects  []backend.Provider
	listTimes []time.Time
	listCtxs  []context.Context
	sent      []string
	verified  []string
}

func (b *fakeBackend) Connect(ctx context.Context, p backend.Provider) (backend.ConnectResponse, error) {
	b.mu.Lock()
	b.connects = append(b.connects, p)
	fn := b.connect
	b.mu.Unlock()
	return fn(ctx, p)
}

func (b *fakeBackend) ListChannels(ctx context.Context) ([]backend.Channel, error) {
	b.mu.Lock()
	b.listTimes = append(b.listTimes, b.now())
	b.listCtxs = append(b.listCtxs, ctx)
	n := len(b.listTimes)
	fn := b.channels
	b.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(n)
}

func (b *fakeBackend) SendCode(_ context.Context, accountID, phone string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, accountID+":"+phone)
	return b.sendErr
}

func (b *fakeBackend) VerifyCode(_ context.Context, accountID, code string) error {
	b.mu.Lock()
	b.verified = append(b.verified, accountID+":"+code)
	fn := b.verify
	b.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(code)
}

func (b *fakeBackend) listCalls() []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]time.Time(nil), b.listTimes...)
}

func (b *fakeBackend) listContexts() []context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]context.Context(nil), b.listCtxs...)
}

func (b *fakeBackend) connectCalls() []backend.Provider {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.Provider(nil), b.connects...)
}

// observer records everything the orchestrator reports.
type observer struct {
	mu       sync.Mutex
	phases   []fsm.State
	notices  []connect.Notice
	refreshs [][]backend.Channel
}

func (o *observer) PhaseChanged(_ string, phase fsm.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, phase)
}

func (o *observer) Notice(n connect.Notice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, n)
}

func (o *observer) ChannelsRefreshed(channels []backend.Channel) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshs = append(o.refreshs, channels)
}

func (o *observer) phaseLog() []fsm.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]fsm.State(nil), o.phases...)
}

func (o *observer) noticeLog() []connect.Notice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]connect.Notice(nil), o.notices...)
}

func (o *observer) refreshCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.refreshs)
}

// recorder captures metrics calls.
type recorder struct {
	mu       sync.Mutex
	started  []string
	outcomes []string
	timeouts int
	polls    []int
	errs     []string
}

func (r *recorder) AttemptStarted(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, provider)
}

func (r *recorder) AttemptFinished(_, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recorder) PopupTimedOut(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts++
}

func (r *recorder) PollingFinished(_ string, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls = append(r.polls, attempts)
}

func (r *recorder) RecordError(_, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, message)
}

func (r *recorder) outcomeLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

func (r *recorder) pollLog() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.polls...)
}

func (r *recorder) timeoutCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeouts
}

func respond(resp backend.ConnectResponse, err error) func(context.Context, backend.Provider) (backend.ConnectResponse, error) {
	return func(context.Context, backend.Provider) (backend.ConnectResponse, error) {
		return resp, err
	}
}

func connectedChannel(channelType string) backend.Channel {
	return backend.Channel{ID: "ch-" + channelType, ChannelType: channelType, Status: backend.StatusConnected}
}
